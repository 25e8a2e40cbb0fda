// Package sync contains the per-player synchronization services: the
// dual-cadence position pipeline, the room event bus with its reconnection
// state machine, and the session manager that ties their lifecycles to the
// host application.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
)

const (
	// DefaultBroadcastInterval paces ephemeral position broadcasts (~20 Hz).
	DefaultBroadcastInterval = 50 * time.Millisecond
	// DefaultPersistInterval paces durable checkpoints.
	DefaultPersistInterval = 1000 * time.Millisecond

	persistTimeout = 5 * time.Second
)

// MoveBroadcaster publishes one ephemeral position update on the room
// channel. Satisfied by *RoomSync.
type MoveBroadcaster interface {
	BroadcastMove(sample domain.PositionSample) error
}

// PositionSync keeps one player's position loosely synchronized across peers
// and durably checkpointed, on two independent cadences. Nothing happens for
// a quiescent player: both paths are driven solely by UpdatePosition calls.
type PositionSync struct {
	roomID   string
	playerID string

	broadcaster MoveBroadcaster
	store       domain.PlayerStateStore
	limiter     *ratelimit.Limiter
	logger      *slog.Logger

	broadcastInterval time.Duration
	persistInterval   time.Duration
	now               func() time.Time

	mu            sync.Mutex
	lastBroadcast time.Time
	lastPersist   time.Time
}

// NewPositionSync wires a dual-cadence service for one (room, player) pair.
func NewPositionSync(roomID, playerID string, broadcaster MoveBroadcaster, store domain.PlayerStateStore, limiter *ratelimit.Limiter) *PositionSync {
	return &PositionSync{
		roomID:            roomID,
		playerID:          playerID,
		broadcaster:       broadcaster,
		store:             store,
		limiter:           limiter,
		logger:            slog.Default(),
		broadcastInterval: DefaultBroadcastInterval,
		persistInterval:   DefaultPersistInterval,
		now:               time.Now,
	}
}

// SetIntervals overrides the two cadences. Zero values keep the defaults.
func (p *PositionSync) SetIntervals(broadcast, persist time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if broadcast > 0 {
		p.broadcastInterval = broadcast
	}
	if persist > 0 {
		p.persistInterval = persist
	}
}

// UpdatePosition feeds the latest sample through both cadence gates. Safe to
// call at frame rate; publish and persistence failures are logged and
// swallowed — the next interval boundary retries with fresher data.
func (p *PositionSync) UpdatePosition(sample domain.PositionSample) {
	now := p.now()

	p.mu.Lock()
	doBroadcast := p.lastBroadcast.IsZero() || now.Sub(p.lastBroadcast) >= p.broadcastInterval
	if doBroadcast {
		p.lastBroadcast = now
	}
	doPersist := p.lastPersist.IsZero() || now.Sub(p.lastPersist) >= p.persistInterval
	if doPersist {
		p.lastPersist = now
	}
	p.mu.Unlock()

	if doBroadcast {
		if p.limiter == nil || p.limiter.Allow(p.playerID) {
			if err := p.broadcaster.BroadcastMove(sample); err != nil {
				p.logger.Warn("position broadcast failed",
					"room", p.roomID, "playerId", p.playerID, "error", err)
			}
		}
	}

	if doPersist {
		go p.persist(sample, now)
	}
}

func (p *PositionSync) persist(sample domain.PositionSample, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := domain.PlayerStateRecord{
		RoomID:    p.roomID,
		PlayerID:  p.playerID,
		X:         sample.X,
		Y:         sample.Y,
		Size:      sample.Size,
		VelocityX: sample.VelocityX,
		VelocityY: sample.VelocityY,
		UpdatedAt: at,
	}
	if err := p.store.UpsertPlayerState(ctx, rec); err != nil {
		p.logger.Warn("player state checkpoint failed",
			"room", p.roomID, "playerId", p.playerID, "error", err)
	}
}
