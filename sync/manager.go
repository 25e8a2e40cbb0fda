package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
)

// ManagerConfig tunes the services a Manager creates.
type ManagerConfig struct {
	Enabled           bool
	BroadcastInterval time.Duration
	PersistInterval   time.Duration
	RetryDelay        time.Duration
}

// handle bundles the live services for one (room, player) pair.
type handle struct {
	roomID   string
	playerID string
	room     *RoomSync
	position *PositionSync
}

// Manager is the lifecycle glue between the host application and the sync
// services. It guarantees at most one live session per (room, player) pair:
// Ensure tears down any prior session before creating the next, and every
// imperative broadcast degrades to a no-op while no session is live.
type Manager struct {
	bus             domain.Broadcaster
	store           domain.PlayerStateStore
	positionLimiter *ratelimit.Limiter
	eventLimiter    *ratelimit.Limiter
	cfg             ManagerConfig
	logger          *slog.Logger

	mu      sync.Mutex
	current *handle
}

// NewManager wires a manager around explicitly injected collaborators.
func NewManager(bus domain.Broadcaster, store domain.PlayerStateStore, positionLimiter, eventLimiter *ratelimit.Limiter, cfg ManagerConfig) *Manager {
	return &Manager{
		bus:             bus,
		store:           store,
		positionLimiter: positionLimiter,
		eventLimiter:    eventLimiter,
		cfg:             cfg,
		logger:          slog.Default(),
	}
}

// Ensure reconciles the live session with the requested identity. Missing
// identifiers or a disabled feature tear down any live session and skip
// creation. An unchanged identity only refreshes the callbacks.
func (m *Manager) Ensure(ctx context.Context, roomID, playerID, playerName string, cb Callbacks) error {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	if cur != nil && cur.roomID == roomID && cur.playerID == playerID {
		cur.room.SetCallbacks(cb)
		return nil
	}

	m.Teardown()

	if !m.cfg.Enabled || roomID == "" || playerID == "" || playerName == "" {
		return nil
	}

	room := NewRoomSync(roomID, playerID, playerName, m.bus, m.eventLimiter)
	room.SetRetryDelay(m.cfg.RetryDelay)
	room.SetCallbacks(cb)

	if err := room.Connect(ctx); err != nil {
		m.logger.Warn("room sync connect failed", "room", roomID, "playerId", playerID, "error", err)
		room.Disconnect()
		return err
	}

	position := NewPositionSync(roomID, playerID, room, m.store, m.positionLimiter)
	position.SetIntervals(m.cfg.BroadcastInterval, m.cfg.PersistInterval)

	m.mu.Lock()
	m.current = &handle{roomID: roomID, playerID: playerID, room: room, position: position}
	m.mu.Unlock()

	room.BroadcastJoined()
	return nil
}

// UpdateCallbacks swaps the callback set on the live session, if any,
// without touching its connection.
func (m *Manager) UpdateCallbacks(cb Callbacks) {
	if h := m.live(); h != nil {
		h.room.SetCallbacks(cb)
	}
}

// ConnectionState reports the live session's state, or a disconnected
// snapshot when none exists.
func (m *Manager) ConnectionState() ConnectionState {
	if h := m.live(); h != nil {
		return h.room.ConnectionState()
	}
	return ConnectionState{State: StateDisconnected}
}

// UpdatePosition feeds the dual-cadence pipeline. No-op when disconnected.
func (m *Manager) UpdatePosition(sample domain.PositionSample) {
	if h := m.live(); h != nil {
		h.position.UpdatePosition(sample)
	}
}

// BroadcastCollision is a safe imperative passthrough.
func (m *Manager) BroadcastCollision(eliminatedID, eliminatorID string, eliminatedSize, eliminatorNewSize float64) {
	if h := m.live(); h != nil {
		h.room.BroadcastCollision(eliminatedID, eliminatorID, eliminatedSize, eliminatorNewSize)
	}
}

// BroadcastEliminated is a safe imperative passthrough.
func (m *Manager) BroadcastEliminated(eliminatedID, eliminatorID string) {
	if h := m.live(); h != nil {
		h.room.BroadcastEliminated(eliminatedID, eliminatorID)
	}
}

// BroadcastGameStart is a safe imperative passthrough.
func (m *Manager) BroadcastGameStart() {
	if h := m.live(); h != nil {
		h.room.BroadcastGameStart()
	}
}

// Teardown disconnects and forgets the live session, if any. Idempotent.
func (m *Manager) Teardown() {
	m.mu.Lock()
	cur := m.current
	m.current = nil
	m.mu.Unlock()

	if cur == nil {
		return
	}
	cur.room.BroadcastLeft()
	cur.room.Disconnect()
}

func (m *Manager) live() *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
