package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/hub"
)

// failingBus simulates a transport that rejects subscriptions.
type failingBus struct {
	registerErr  error
	broadcastErr error
	mu           sync.Mutex
	registered   int
	unregistered int
	published    [][]byte
}

func (b *failingBus) Register(conn domain.Connection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registerErr != nil {
		return b.registerErr
	}
	b.registered++
	return nil
}

func (b *failingBus) Unregister(conn domain.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregistered++
}

func (b *failingBus) Broadcast(sender domain.Connection, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broadcastErr != nil {
		return b.broadcastErr
	}
	b.published = append(b.published, data)
	return nil
}

func (b *failingBus) Stats() (int, int) { return 0, 0 }

func moveEvent(roomID, senderID string) domain.RoomEvent {
	return domain.RoomEvent{
		Type:     domain.EventPlayerMove,
		RoomID:   roomID,
		SenderID: senderID,
		Move:     &domain.MovePayload{X: 1, Y: 2, Size: 15},
	}
}

func TestSession_ConnectPublishReceive(t *testing.T) {
	bus := hub.New()

	a := NewSession("room1", bus)
	b := NewSession("room1", bus)
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))

	var got []domain.RoomEvent
	b.On(domain.EventPlayerMove, func(e domain.RoomEvent) {
		got = append(got, e)
	})

	require.NoError(t, a.Publish(moveEvent("room1", "p1")))

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].SenderID)
	require.NotNil(t, got[0].Move)
	assert.Equal(t, 1.0, got[0].Move.X)
}

func TestSession_NoSelfEcho(t *testing.T) {
	bus := hub.New()
	s := NewSession("room1", bus)
	require.NoError(t, s.Connect(context.Background()))

	received := 0
	s.On(domain.EventPlayerMove, func(domain.RoomEvent) { received++ })

	require.NoError(t, s.Publish(moveEvent("room1", "p1")))
	assert.Zero(t, received)
}

func TestSession_PublishWhileDisconnected(t *testing.T) {
	s := NewSession("room1", hub.New())
	err := s.Publish(moveEvent("room1", "p1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSession_ConnectRejected(t *testing.T) {
	bus := &failingBus{registerErr: errors.New("subscription rejected")}
	s := NewSession("room1", bus)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, s.Connected())
}

func TestSession_ConnectReentrancyAfterFailure(t *testing.T) {
	bus := &failingBus{registerErr: errors.New("down")}
	s := NewSession("room1", bus)

	require.Error(t, s.Connect(context.Background()))

	// The guard is released after a failed attempt; a retry may proceed.
	bus.mu.Lock()
	bus.registerErr = nil
	bus.mu.Unlock()
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Connected())
}

func TestSession_ConnectIdempotentWhenConnected(t *testing.T) {
	bus := &failingBus{}
	s := NewSession("room1", bus)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, bus.registered)
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	bus := &failingBus{}
	s := NewSession("room1", bus)
	require.NoError(t, s.Connect(context.Background()))

	s.Disconnect()
	s.Disconnect()

	assert.False(t, s.Connected())
	assert.Equal(t, 1, bus.unregistered)

	// Never-connected session: still safe.
	fresh := NewSession("room2", bus)
	fresh.Disconnect()
	assert.False(t, fresh.Connected())
}

func TestSession_ConnectCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession("room1", &failingBus{})
	err := s.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_MalformedFrameDropped(t *testing.T) {
	s := NewSession("room1", hub.New())
	assert.NoError(t, s.Send([]byte("not json")))
}

func TestSession_UnhandledTagDropped(t *testing.T) {
	s := NewSession("room1", hub.New())
	data, err := domain.EncodeEvent(domain.RoomEvent{
		Type:      domain.EventGameStart,
		RoomID:    "room1",
		SenderID:  "p1",
		GameStart: &domain.GameStartPayload{},
	})
	require.NoError(t, err)
	assert.NoError(t, s.Send(data))
}
