package domain

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the room channel message union.
type EventType string

const (
	EventPlayerMove       EventType = "player_move"
	EventPlayerCollision  EventType = "player_collision"
	EventPlayerEliminated EventType = "player_eliminated"
	EventPlayerJoined     EventType = "player_joined"
	EventPlayerLeft       EventType = "player_left"
	EventGameStart        EventType = "game_start"
)

// RoomEvent is the tagged union carried on a room channel. Exactly one
// payload pointer is non-nil, matching Type. Events are ephemeral; they
// exist only in transit.
type RoomEvent struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	SenderID string    `json:"senderId"`
	SentAt   int64     `json:"sentAt"`

	Move       *MovePayload       `json:"move,omitempty"`
	Collision  *CollisionPayload  `json:"collision,omitempty"`
	Eliminated *EliminatedPayload `json:"eliminated,omitempty"`
	Joined     *JoinedPayload     `json:"joined,omitempty"`
	Left       *LeftPayload       `json:"left,omitempty"`
	GameStart  *GameStartPayload  `json:"gameStart,omitempty"`
}

type MovePayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
}

type CollisionPayload struct {
	EliminatedID      string  `json:"eliminatedId"`
	EliminatorID      string  `json:"eliminatorId"`
	EliminatedSize    float64 `json:"eliminatedSize"`
	EliminatorNewSize float64 `json:"eliminatorNewSize"`
}

type EliminatedPayload struct {
	EliminatedID string `json:"eliminatedId"`
	EliminatorID string `json:"eliminatorId"`
}

type JoinedPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type LeftPayload struct {
	PlayerID string `json:"playerId"`
}

type GameStartPayload struct{}

// Validate checks that the payload pointer matches the declared tag.
func (e *RoomEvent) Validate() error {
	var want bool
	switch e.Type {
	case EventPlayerMove:
		want = e.Move != nil
	case EventPlayerCollision:
		want = e.Collision != nil
	case EventPlayerEliminated:
		want = e.Eliminated != nil
	case EventPlayerJoined:
		want = e.Joined != nil
	case EventPlayerLeft:
		want = e.Left != nil
	case EventGameStart:
		want = true
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !want {
		return fmt.Errorf("event %q missing payload", e.Type)
	}
	return nil
}

// EncodeEvent renders an event for the wire.
func EncodeEvent(e RoomEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEvent parses a wire frame and rejects malformed unions.
func DecodeEvent(data []byte) (RoomEvent, error) {
	var e RoomEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return RoomEvent{}, err
	}
	if err := e.Validate(); err != nil {
		return RoomEvent{}, err
	}
	return e, nil
}
