// Package protocol implements the authoritative inbound pipeline: every
// frame a remote client sends is decoded, rate limited, sanitized and
// plausibility-checked before it is allowed onto the room channel.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
	"github.com/TokeNoMax/agardotfun-sub002/validate"
)

// RejectNotice is sent back to a client whose update failed validation or
// rate limiting. The offending update is dropped, never corrected silently.
type RejectNotice struct {
	Type      string   `json:"type"`
	Reason    string   `json:"reason"`
	Corrected *Correct `json:"corrected,omitempty"`
}

type Correct struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const (
	noticeRejected    = "update_rejected"
	noticeRateLimited = "rate_limited"
)

// PlayerIdentified is implemented by connections that carry an
// authenticated player identity. When present it overrides whatever
// senderId the frame claims, so rate limits and the authority memory are
// always keyed by the identity the connection was opened with.
type PlayerIdentified interface {
	PlayerID() string
}

// lastAccepted is the authority's memory of a player's most recent valid
// state, used for the speed check and the durable checkpoint cadence.
type lastAccepted struct {
	x, y      float64
	at        int64 // unix millis
	persisted time.Time
}

// Handler is the authoritative side of the room channel. It owns the
// per-class rate limiters and the validator; both are injected so instances
// stay independent and testable.
type Handler struct {
	broadcaster domain.Broadcaster
	validator   *validate.Validator
	store       domain.PlayerStateStore
	moveLimiter *ratelimit.Limiter
	evtLimiter  *ratelimit.Limiter
	logger      *slog.Logger

	persistInterval time.Duration
	now             func() time.Time

	accepted syncMap
}

// NewHandler wires the authoritative pipeline.
func NewHandler(b domain.Broadcaster, v *validate.Validator, s domain.PlayerStateStore, moveLimiter, evtLimiter *ratelimit.Limiter) *Handler {
	return &Handler{
		broadcaster:     b,
		validator:       v,
		store:           s,
		moveLimiter:     moveLimiter,
		evtLimiter:      evtLimiter,
		logger:          slog.Default(),
		persistInterval: time.Second,
		now:             time.Now,
	}
}

// SetPersistInterval changes how often accepted positions are checkpointed
// to the store. Must be called before the handler serves traffic.
func (h *Handler) SetPersistInterval(d time.Duration) {
	if d > 0 {
		h.persistInterval = d
	}
}

// Handle processes one inbound frame from a connected client.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	event, err := domain.DecodeEvent(data)
	if err != nil {
		h.logger.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}
	event.RoomID = conn.Room()
	event.SenderID = h.senderIdentity(conn, event.SenderID)
	if event.SenderID == "" {
		h.logger.Warn("frame without sender identity dropped", "clientId", conn.ID())
		return
	}

	switch event.Type {
	case domain.EventPlayerMove:
		h.handleMove(conn, event)
	default:
		h.handleGameEvent(conn, event)
	}
}

// HandleClose announces a departed player to the rest of the room and drops
// the authority memory for them.
func (h *Handler) HandleClose(conn domain.Connection, playerID string) {
	h.accepted.delete(conn.Room(), playerID)
	event := domain.RoomEvent{
		Type:     domain.EventPlayerLeft,
		RoomID:   conn.Room(),
		SenderID: playerID,
		SentAt:   h.now().UnixMilli(),
		Left:     &domain.LeftPayload{PlayerID: playerID},
	}
	if data, err := domain.EncodeEvent(event); err == nil {
		h.broadcaster.Broadcast(conn, data)
	}
}

func (h *Handler) handleMove(conn domain.Connection, event domain.RoomEvent) {
	senderID := event.SenderID
	if !h.moveLimiter.Allow(senderID) {
		h.reject(conn, noticeRateLimited, nil)
		return
	}

	sample := h.validator.SanitizePlayerData(validate.RawPlayerData{
		X:         &event.Move.X,
		Y:         &event.Move.Y,
		Size:      &event.Move.Size,
		VelocityX: &event.Move.VelocityX,
		VelocityY: &event.Move.VelocityY,
	})

	now := h.now().UnixMilli()
	prev, known := h.accepted.get(conn.Room(), senderID)
	// Without an accepted position to measure against, the speed check is
	// moot, but bounds and size are still enforced: validate a first report
	// against itself so only the displacement comes out as zero.
	lastX, lastY, lastAt := sample.X, sample.Y, now
	if known {
		lastX, lastY, lastAt = prev.x, prev.y, prev.at
	}
	res := h.validator.ValidatePosition(sample.X, sample.Y, sample.Size, lastX, lastY, lastAt, now)
	if !res.IsValid {
		h.logger.Warn("implausible update rejected",
			"room", conn.Room(), "playerId", senderID, "reason", res.Reason)
		var corr *Correct
		if res.Corrected != nil {
			corr = &Correct{X: res.Corrected.X, Y: res.Corrected.Y}
		}
		h.reject(conn, res.Reason, corr)
		return
	}

	entry := lastAccepted{x: sample.X, y: sample.Y, at: now, persisted: prev.persisted}
	if h.store != nil && h.now().Sub(prev.persisted) >= h.persistInterval {
		entry.persisted = h.now()
		go h.persist(conn.Room(), senderID, sample)
	}
	h.accepted.set(conn.Room(), senderID, entry)

	event.Move.X = sample.X
	event.Move.Y = sample.Y
	event.Move.Size = sample.Size
	event.Move.VelocityX = sample.VelocityX
	event.Move.VelocityY = sample.VelocityY
	h.forward(conn, event)
}

func (h *Handler) handleGameEvent(conn domain.Connection, event domain.RoomEvent) {
	if !h.evtLimiter.Allow(event.SenderID) {
		h.reject(conn, noticeRateLimited, nil)
		return
	}
	h.forward(conn, event)
}

// senderIdentity resolves the identity a frame is attributed to. A
// connection that knows who opened it wins over the frame's senderId, so a
// client cannot dodge its own limiter budget or authority memory by rotating
// the claimed id.
func (h *Handler) senderIdentity(conn domain.Connection, claimed string) string {
	if p, ok := conn.(PlayerIdentified); ok {
		return p.PlayerID()
	}
	return claimed
}

func (h *Handler) forward(conn domain.Connection, event domain.RoomEvent) {
	event.SentAt = h.now().UnixMilli()
	data, err := domain.EncodeEvent(event)
	if err != nil {
		h.logger.Warn("marshal error", "clientId", conn.ID(), "error", err)
		return
	}
	h.broadcaster.Broadcast(conn, data)
}

func (h *Handler) reject(conn domain.Connection, reason string, corr *Correct) {
	notice := RejectNotice{Type: noticeRejected, Reason: reason, Corrected: corr}
	if data, err := json.Marshal(notice); err == nil {
		conn.Send(data)
	}
}

func (h *Handler) persist(roomID, playerID string, sample domain.PositionSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.store.UpsertPlayerState(ctx, domain.PlayerStateRecord{
		RoomID:    roomID,
		PlayerID:  playerID,
		X:         sample.X,
		Y:         sample.Y,
		Size:      sample.Size,
		VelocityX: sample.VelocityX,
		VelocityY: sample.VelocityY,
		UpdatedAt: h.now(),
	})
	if err != nil {
		h.logger.Warn("checkpoint failed", "room", roomID, "playerId", playerID, "error", err)
	}
}
