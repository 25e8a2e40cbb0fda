// Package transport owns the per-room channel session: one subscription to
// one named room on a broadcaster, with push-based dispatch of inbound
// events to a handler table keyed by event type.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
)

var (
	// ErrAlreadyConnecting rejects overlapping Connect calls.
	ErrAlreadyConnecting = errors.New("transport: connect already in flight")
	// ErrNotConnected rejects publishes on a closed session.
	ErrNotConnected = errors.New("transport: session not connected")
)

// Handler consumes one inbound event.
type Handler func(event domain.RoomEvent)

// Session is one subscription to a room channel. It implements
// domain.Connection so the broadcaster can push frames into it; inbound
// frames are decoded and dispatched to the registered handler for their tag.
type Session struct {
	id     string
	roomID string
	bus    domain.Broadcaster
	logger *slog.Logger

	mu         sync.Mutex
	connected  bool
	connecting bool
	generation uint64
	handlers   map[domain.EventType]Handler
}

// NewSession creates a disconnected session for the given room.
func NewSession(roomID string, bus domain.Broadcaster) *Session {
	return &Session{
		id:       uuid.New().String(),
		roomID:   roomID,
		bus:      bus,
		logger:   slog.Default(),
		handlers: make(map[domain.EventType]Handler),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Room() string { return s.roomID }

// On registers the handler for one event type, replacing any previous one.
// Inbound events with no handler are dropped.
func (s *Session) On(t domain.EventType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// Connect subscribes the session to its room channel. At most one attempt
// may be in flight; a Disconnect issued while connecting supersedes the
// attempt, and its eventual completion is discarded.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnecting
	}
	s.connecting = true
	gen := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bus.Register(s); err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation != gen {
		// Superseded by a teardown while the subscribe was in flight.
		s.mu.Unlock()
		s.bus.Unregister(s)
		return ErrNotConnected
	}
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Publish sends one event on the room channel. Fire-and-forget from the
// caller's point of view; the broadcaster preserves per-sender order.
func (s *Session) Publish(event domain.RoomEvent) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := domain.EncodeEvent(event)
	if err != nil {
		return err
	}
	return s.bus.Broadcast(s, data)
}

// Disconnect releases the channel subscription. Idempotent and safe to call
// on a session that never connected; it synchronously stops further
// publishes from this session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.generation++
	s.mu.Unlock()

	if wasConnected {
		s.bus.Unregister(s)
	}
}

// Connected reports the current subscription state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send is the broadcaster's push path. Frames that fail to decode or carry
// an unhandled tag are dropped with a log line; transport never surfaces
// malformed peer input to the host.
func (s *Session) Send(data []byte) error {
	event, err := domain.DecodeEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "room", s.roomID, "error", err)
		return nil
	}

	s.mu.Lock()
	h := s.handlers[event.Type]
	s.mu.Unlock()

	if h != nil {
		h(event)
	}
	return nil
}

// Close implements domain.Connection; the broadcaster calls it when it
// evicts the session.
func (s *Session) Close() error {
	s.Disconnect()
	return nil
}
