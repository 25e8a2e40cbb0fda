package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/hub"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
	"github.com/TokeNoMax/agardotfun-sub002/transport"
)

// flakyBus is an in-memory transport whose publish path can be broken and
// healed, to exercise the reconnection state machine.
type flakyBus struct {
	mu         stdsync.Mutex
	broken     bool
	published  [][]byte
	registered int
	onRegister func()
}

func (b *flakyBus) Register(conn domain.Connection) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return errors.New("bus down")
	}
	b.registered++
	hook := b.onRegister
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (b *flakyBus) Unregister(domain.Connection) {
	b.mu.Lock()
	b.registered--
	b.mu.Unlock()
}

func (b *flakyBus) Broadcast(sender domain.Connection, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return errors.New("bus down")
	}
	b.published = append(b.published, data)
	return nil
}

func (b *flakyBus) Stats() (int, int) { return 0, 0 }

func (b *flakyBus) setBroken(broken bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = broken
}

func (b *flakyBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *flakyBus) setOnRegister(hook func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRegister = hook
}

func (b *flakyBus) netRegistrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

func TestRoomSync_StateTransitions(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)

	var mu stdsync.Mutex
	var states []State
	r.SetCallbacks(Callbacks{OnConnectionChange: func(cs ConnectionState) {
		mu.Lock()
		states = append(states, cs.State)
		mu.Unlock()
	}})

	assert.Equal(t, StateDisconnected, r.ConnectionState().State)
	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, StateConnected, r.ConnectionState().State)
	assert.True(t, r.ConnectionState().IsConnected)

	r.Disconnect()
	assert.Equal(t, StateDisconnected, r.ConnectionState().State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestRoomSync_ConnectWhenBusRejects(t *testing.T) {
	bus := &flakyBus{broken: true}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)

	require.Error(t, r.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, r.ConnectionState().State)
}

func TestRoomSync_BroadcastWhileDisconnectedIsNoop(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)

	assert.NoError(t, r.BroadcastEliminated("p2", "p1"))
	assert.NoError(t, r.BroadcastGameStart())
	assert.NoError(t, r.BroadcastMove(domain.PositionSample{Size: 15}))
	assert.Zero(t, bus.count())
}

func TestRoomSync_ReconnectAfterTransportFailure(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)
	r.SetRetryDelay(10 * time.Millisecond)
	require.NoError(t, r.Connect(context.Background()))

	// Break the transport; the next publish trips the state machine.
	bus.setBroken(true)
	require.NoError(t, r.BroadcastGameStart())
	assert.Equal(t, StateReconnecting, r.ConnectionState().State)

	// Broadcasts while reconnecting are silent no-ops.
	assert.NoError(t, r.BroadcastEliminated("p2", "p1"))

	// Heal the transport; a retry window later the service is back.
	bus.setBroken(false)
	assert.Eventually(t, func() bool {
		return r.ConnectionState().State == StateConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.BroadcastGameStart())
	assert.Equal(t, 1, bus.count())
}

func TestRoomSync_RetryLoopsUntilRecovery(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)
	r.SetRetryDelay(5 * time.Millisecond)
	require.NoError(t, r.Connect(context.Background()))

	bus.setBroken(true)
	require.NoError(t, r.BroadcastGameStart())

	// Stay broken across several retry windows.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateReconnecting, r.ConnectionState().State)

	bus.setBroken(false)
	assert.Eventually(t, func() bool {
		return r.ConnectionState().State == StateConnected
	}, time.Second, 5*time.Millisecond)
}

func TestRoomSync_DisconnectAbandonsRetry(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)
	r.SetRetryDelay(10 * time.Millisecond)
	require.NoError(t, r.Connect(context.Background()))

	bus.setBroken(true)
	require.NoError(t, r.BroadcastGameStart())
	r.Disconnect()
	bus.setBroken(false)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, r.ConnectionState().State)
}

func TestRoomSync_RetryAbandonedWhenTornDownMidAttempt(t *testing.T) {
	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)
	r.SetRetryDelay(time.Hour) // the retry is driven by hand below
	require.NoError(t, r.Connect(context.Background()))

	bus.setBroken(true)
	require.NoError(t, r.BroadcastGameStart())
	require.Equal(t, StateReconnecting, r.ConnectionState().State)
	bus.setBroken(false)

	// Model a teardown whose session bookkeeping completed before this
	// attempt captured its generation: the closed flag lands while the
	// subscribe is in flight, so the attempt itself succeeds and only the
	// post-connect check can release the subscription again.
	bus.setOnRegister(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	})
	r.retry()

	assert.NotEqual(t, StateConnected, r.ConnectionState().State)
	assert.False(t, r.session.Connected())
	assert.Zero(t, bus.netRegistrations())
}

func TestRoomSync_DisconnectIdempotent(t *testing.T) {
	r := NewRoomSync("room1", "p1", "Ada", &flakyBus{}, nil)
	require.NoError(t, r.Connect(context.Background()))

	r.Disconnect()
	r.Disconnect()
	assert.Equal(t, StateDisconnected, r.ConnectionState().State)
}

func TestRoomSync_EventDispatch(t *testing.T) {
	bus := hub.New()
	sender := NewRoomSync("room1", "p1", "Ada", bus, nil)
	receiver := NewRoomSync("room1", "p2", "Grace", bus, nil)
	require.NoError(t, sender.Connect(context.Background()))
	require.NoError(t, receiver.Connect(context.Background()))

	var mu stdsync.Mutex
	var moves []domain.MovePayload
	var collisions []domain.CollisionPayload
	var eliminated []domain.EliminatedPayload
	var joined []domain.JoinedPayload
	var left []domain.LeftPayload
	starts := 0

	receiver.SetCallbacks(Callbacks{
		OnPlayerMove: func(senderID string, m domain.MovePayload) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "p1", senderID)
			moves = append(moves, m)
		},
		OnPlayerCollision:  func(c domain.CollisionPayload) { mu.Lock(); collisions = append(collisions, c); mu.Unlock() },
		OnPlayerEliminated: func(e domain.EliminatedPayload) { mu.Lock(); eliminated = append(eliminated, e); mu.Unlock() },
		OnPlayerJoined:     func(j domain.JoinedPayload) { mu.Lock(); joined = append(joined, j); mu.Unlock() },
		OnPlayerLeft:       func(l domain.LeftPayload) { mu.Lock(); left = append(left, l); mu.Unlock() },
		OnGameStart:        func() { mu.Lock(); starts++; mu.Unlock() },
	})

	require.NoError(t, sender.BroadcastMove(domain.PositionSample{X: 7, Size: 15}))
	require.NoError(t, sender.BroadcastCollision("p2", "p1", 20, 35))
	require.NoError(t, sender.BroadcastEliminated("p2", "p1"))
	require.NoError(t, sender.BroadcastJoined())
	require.NoError(t, sender.BroadcastLeft())
	require.NoError(t, sender.BroadcastGameStart())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, moves, 1)
	assert.Equal(t, 7.0, moves[0].X)
	require.Len(t, collisions, 1)
	assert.Equal(t, "p2", collisions[0].EliminatedID)
	assert.Equal(t, 35.0, collisions[0].EliminatorNewSize)
	require.Len(t, eliminated, 1)
	require.Len(t, joined, 1)
	assert.Equal(t, "Ada", joined[0].PlayerName)
	require.Len(t, left, 1)
	assert.Equal(t, "p1", left[0].PlayerID)
	assert.Equal(t, 1, starts)
}

func TestRoomSync_CallbackSwapWithoutReconnect(t *testing.T) {
	bus := hub.New()
	sender := NewRoomSync("room1", "p1", "Ada", bus, nil)
	receiver := NewRoomSync("room1", "p2", "Grace", bus, nil)
	require.NoError(t, sender.Connect(context.Background()))
	require.NoError(t, receiver.Connect(context.Background()))

	var first, second int
	receiver.SetCallbacks(Callbacks{OnGameStart: func() { first++ }})
	require.NoError(t, sender.BroadcastGameStart())

	receiver.SetCallbacks(Callbacks{OnGameStart: func() { second++ }})
	require.NoError(t, sender.BroadcastGameStart())

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, StateConnected, receiver.ConnectionState().State)
}

func TestRoomSync_EventLimiterGatesDiscreteEvents(t *testing.T) {
	limiter := ratelimit.New(2, time.Hour)
	defer limiter.Close()

	bus := &flakyBus{}
	r := NewRoomSync("room1", "p1", "Ada", bus, limiter)
	require.NoError(t, r.Connect(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, r.BroadcastEliminated("p2", "p1"))
	}
	assert.Equal(t, 2, bus.count())

	// Moves are not gated by the event limiter.
	require.NoError(t, r.BroadcastMove(domain.PositionSample{Size: 15}))
	assert.Equal(t, 3, bus.count())
}

// slowBus blocks Register until released, exposing the connect window.
type slowBus struct {
	flakyBus
	release chan struct{}
}

func (b *slowBus) Register(conn domain.Connection) error {
	<-b.release
	return nil
}

func TestRoomSync_ConnectReentrancyGuard(t *testing.T) {
	bus := &slowBus{release: make(chan struct{})}
	r := NewRoomSync("room1", "p1", "Ada", bus, nil)

	done := make(chan error, 1)
	go func() { done <- r.Connect(context.Background()) }()

	// Wait until the first attempt is inside the bus subscribe.
	assert.Eventually(t, func() bool {
		return r.ConnectionState().State == StateConnecting
	}, time.Second, time.Millisecond)

	err := r.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrAlreadyConnecting)

	close(bus.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateConnected, r.ConnectionState().State)
}
