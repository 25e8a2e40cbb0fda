// Package domain holds the shared types and boundary interfaces of the
// realtime sync core. Nothing here depends on a concrete transport or store.
package domain

import (
	"context"
	"time"
)

// PositionSample is one client-reported snapshot of a player's state.
// Produced at frame rate; only the latest value per player matters.
type PositionSample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
}

// Connection is one subscriber attached to a room channel.
type Connection interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

// Broadcaster fans messages out to every connection subscribed to the
// sender's room, excluding the sender itself.
type Broadcaster interface {
	Register(conn Connection) error
	Unregister(conn Connection)
	Broadcast(sender Connection, data []byte) error
	Stats() (rooms, clients int)
}

// MessageHandler consumes raw inbound frames from a connection.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}

// PlayerStateRecord is the durable checkpoint written for a player.
type PlayerStateRecord struct {
	RoomID    string
	PlayerID  string
	X         float64
	Y         float64
	Size      float64
	VelocityX float64
	VelocityY float64
	UpdatedAt time.Time
}

// PlayerStateStore is the durable store boundary. Write failures are
// non-fatal to callers; the next cadence tick retries.
type PlayerStateStore interface {
	UpsertPlayerState(ctx context.Context, rec PlayerStateRecord) error
	LoadPlayerState(ctx context.Context, roomID, playerID string) (*PlayerStateRecord, error)
}
