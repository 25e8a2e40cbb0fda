package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
	"github.com/TokeNoMax/agardotfun-sub002/transport"
)

// State names the connection lifecycle phases of a RoomSync.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// DefaultRetryDelay paces reconnection attempts after a transport failure.
const DefaultRetryDelay = 3 * time.Second

// ConnectionState is the externally visible connection snapshot.
type ConnectionState struct {
	IsConnected bool
	State       State
	RoomID      string
}

// Callbacks are the host-supplied reactions to inbound room events. Handlers
// run synchronously on receipt and must not block. Any field may be nil.
type Callbacks struct {
	OnPlayerMove       func(senderID string, move domain.MovePayload)
	OnPlayerCollision  func(c domain.CollisionPayload)
	OnPlayerEliminated func(e domain.EliminatedPayload)
	OnPlayerJoined     func(j domain.JoinedPayload)
	OnPlayerLeft       func(l domain.LeftPayload)
	OnGameStart        func()
	OnConnectionChange func(state ConnectionState)
}

// RoomSync is the room-scoped event bus for one player: it owns the channel
// session, drives the reconnection state machine, and fans inbound events
// out to the current callbacks. Callbacks live in a mutable cell so the host
// can swap them without touching the connection.
type RoomSync struct {
	roomID     string
	playerID   string
	playerName string

	session      *transport.Session
	eventLimiter *ratelimit.Limiter
	logger       *slog.Logger
	retryDelay   time.Duration
	now          func() time.Time

	callbacks atomic.Pointer[Callbacks]

	mu         sync.Mutex
	state      State
	closed     bool
	retryTimer *time.Timer
}

// NewRoomSync builds a disconnected room service. The event limiter gates
// discrete game events; position updates are paced by PositionSync.
func NewRoomSync(roomID, playerID, playerName string, bus domain.Broadcaster, eventLimiter *ratelimit.Limiter) *RoomSync {
	r := &RoomSync{
		roomID:       roomID,
		playerID:     playerID,
		playerName:   playerName,
		session:      transport.NewSession(roomID, bus),
		eventLimiter: eventLimiter,
		logger:       slog.Default(),
		retryDelay:   DefaultRetryDelay,
		now:          time.Now,
		state:        StateDisconnected,
	}
	r.callbacks.Store(&Callbacks{})
	r.registerHandlers()
	return r
}

// SetRetryDelay overrides the fixed reconnection delay.
func (r *RoomSync) SetRetryDelay(d time.Duration) {
	if d > 0 {
		r.mu.Lock()
		r.retryDelay = d
		r.mu.Unlock()
	}
}

// SetCallbacks replaces the callback set without reconnecting.
func (r *RoomSync) SetCallbacks(cb Callbacks) {
	r.callbacks.Store(&cb)
}

// ConnectionState returns the current lifecycle snapshot.
func (r *RoomSync) ConnectionState() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ConnectionState{
		IsConnected: r.state == StateConnected,
		State:       r.state,
		RoomID:      r.roomID,
	}
}

// Connect subscribes to the room channel. Overlapping calls are rejected by
// the session's reentrancy guard; a connected service is left untouched.
func (r *RoomSync) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return transport.ErrNotConnected
	}
	if r.state == StateConnected {
		r.mu.Unlock()
		return nil
	}
	if r.state == StateConnecting {
		r.mu.Unlock()
		return transport.ErrAlreadyConnecting
	}
	r.mu.Unlock()

	r.setState(StateConnecting)
	if err := r.session.Connect(ctx); err != nil {
		r.setState(StateDisconnected)
		return err
	}
	r.setState(StateConnected)
	return nil
}

// Disconnect tears the service down from any state. Idempotent; pending
// reconnect attempts are abandoned.
func (r *RoomSync) Disconnect() {
	r.mu.Lock()
	r.closed = true
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.mu.Unlock()

	r.session.Disconnect()
	r.setState(StateDisconnected)
}

// BroadcastMove publishes an ephemeral position update. Like every other
// broadcast it is a silent no-op unless connected.
func (r *RoomSync) BroadcastMove(sample domain.PositionSample) error {
	return r.publish(domain.RoomEvent{
		Type: domain.EventPlayerMove,
		Move: &domain.MovePayload{
			X:         sample.X,
			Y:         sample.Y,
			Size:      sample.Size,
			VelocityX: sample.VelocityX,
			VelocityY: sample.VelocityY,
		},
	}, nil)
}

// BroadcastCollision announces an absorption outcome between two players.
func (r *RoomSync) BroadcastCollision(eliminatedID, eliminatorID string, eliminatedSize, eliminatorNewSize float64) error {
	return r.publish(domain.RoomEvent{
		Type: domain.EventPlayerCollision,
		Collision: &domain.CollisionPayload{
			EliminatedID:      eliminatedID,
			EliminatorID:      eliminatorID,
			EliminatedSize:    eliminatedSize,
			EliminatorNewSize: eliminatorNewSize,
		},
	}, r.eventLimiter)
}

// BroadcastEliminated announces a player's elimination.
func (r *RoomSync) BroadcastEliminated(eliminatedID, eliminatorID string) error {
	return r.publish(domain.RoomEvent{
		Type:       domain.EventPlayerEliminated,
		Eliminated: &domain.EliminatedPayload{EliminatedID: eliminatedID, EliminatorID: eliminatorID},
	}, r.eventLimiter)
}

// BroadcastJoined announces the local player joining the room.
func (r *RoomSync) BroadcastJoined() error {
	return r.publish(domain.RoomEvent{
		Type:   domain.EventPlayerJoined,
		Joined: &domain.JoinedPayload{PlayerID: r.playerID, PlayerName: r.playerName},
	}, r.eventLimiter)
}

// BroadcastLeft announces the local player leaving the room.
func (r *RoomSync) BroadcastLeft() error {
	return r.publish(domain.RoomEvent{
		Type: domain.EventPlayerLeft,
		Left: &domain.LeftPayload{PlayerID: r.playerID},
	}, r.eventLimiter)
}

// BroadcastGameStart announces the match starting.
func (r *RoomSync) BroadcastGameStart() error {
	return r.publish(domain.RoomEvent{
		Type:      domain.EventGameStart,
		GameStart: &domain.GameStartPayload{},
	}, r.eventLimiter)
}

func (r *RoomSync) publish(event domain.RoomEvent, limiter *ratelimit.Limiter) error {
	r.mu.Lock()
	connected := r.state == StateConnected
	r.mu.Unlock()
	if !connected {
		return nil
	}
	if limiter != nil && !limiter.Allow(r.playerID) {
		r.logger.Warn("event rate limit exceeded",
			"room", r.roomID, "playerId", r.playerID, "type", string(event.Type))
		return nil
	}

	event.RoomID = r.roomID
	event.SenderID = r.playerID
	event.SentAt = r.now().UnixMilli()

	if err := r.session.Publish(event); err != nil {
		r.handleTransportError(err)
		return nil
	}
	return nil
}

// handleTransportError drops to reconnecting and schedules a timed retry.
func (r *RoomSync) handleTransportError(err error) {
	r.mu.Lock()
	if r.closed || r.state != StateConnected {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.logger.Warn("transport error, reconnecting",
		"room", r.roomID, "playerId", r.playerID, "error", err)
	r.session.Disconnect()
	r.setState(StateReconnecting)
	r.scheduleRetry()
}

func (r *RoomSync) scheduleRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	r.retryTimer = time.AfterFunc(r.retryDelay, r.retry)
}

func (r *RoomSync) retry() {
	r.mu.Lock()
	if r.closed || r.state != StateReconnecting {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	err := r.session.Connect(context.Background())

	// Disconnect may have landed while the attempt was in flight. Tear the
	// session back down rather than resurrect a closed service.
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.session.Disconnect()
		return
	}

	if err != nil {
		r.logger.Warn("reconnect attempt failed",
			"room", r.roomID, "playerId", r.playerID, "error", err)
		r.scheduleRetry()
		return
	}
	r.setState(StateConnected)
}

func (r *RoomSync) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	snapshot := ConnectionState{
		IsConnected: s == StateConnected,
		State:       s,
		RoomID:      r.roomID,
	}
	r.mu.Unlock()

	if cb := r.callbacks.Load().OnConnectionChange; cb != nil {
		cb(snapshot)
	}
}

// registerHandlers wires the session's dispatch table to the callbacks cell.
// Handlers read the cell on every event, so SetCallbacks takes effect
// immediately without a reconnect.
func (r *RoomSync) registerHandlers() {
	r.session.On(domain.EventPlayerMove, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnPlayerMove; cb != nil && e.Move != nil {
			cb(e.SenderID, *e.Move)
		}
	})
	r.session.On(domain.EventPlayerCollision, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnPlayerCollision; cb != nil && e.Collision != nil {
			cb(*e.Collision)
		}
	})
	r.session.On(domain.EventPlayerEliminated, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnPlayerEliminated; cb != nil && e.Eliminated != nil {
			cb(*e.Eliminated)
		}
	})
	r.session.On(domain.EventPlayerJoined, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnPlayerJoined; cb != nil && e.Joined != nil {
			cb(*e.Joined)
		}
	})
	r.session.On(domain.EventPlayerLeft, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnPlayerLeft; cb != nil && e.Left != nil {
			cb(*e.Left)
		}
	})
	r.session.On(domain.EventGameStart, func(e domain.RoomEvent) {
		if cb := r.callbacks.Load().OnGameStart; cb != nil {
			cb()
		}
	})
}
