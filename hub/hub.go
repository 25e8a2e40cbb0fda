// Package hub implements the room-keyed pub/sub channel used by every sync
// session. Messages broadcast on a room are delivered, in publish order, to
// all current subscribers of that room except the sender.
package hub

import (
	"log/slog"
	"sync"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
)

type room struct {
	clients map[string]domain.Connection
	mu      sync.RWMutex
}

type Hub struct {
	rooms map[string]*room
	mu    sync.RWMutex
}

func New() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
	}
}

// Register subscribes a connection to its room channel, creating the room on
// first join. Re-registering the same connection ID replaces the old entry.
func (h *Hub) Register(conn domain.Connection) error {
	h.mu.Lock()
	r, exists := h.rooms[conn.Room()]
	if !exists {
		r = &room{clients: make(map[string]domain.Connection)}
		h.rooms[conn.Room()] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.clients[conn.ID()] = conn
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client subscribed", "room", conn.Room(), "clientId", conn.ID(), "clients", count)
	return nil
}

// Unregister drops a connection from its room; the room itself is removed
// when the last subscriber leaves. Safe to call for unknown connections.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.RLock()
	r, exists := h.rooms[conn.Room()]
	h.mu.RUnlock()

	if !exists {
		return
	}

	r.mu.Lock()
	delete(r.clients, conn.ID())
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client unsubscribed", "room", conn.Room(), "clientId", conn.ID(), "clients", count)

	if count == 0 {
		h.mu.Lock()
		delete(h.rooms, conn.Room())
		h.mu.Unlock()
		slog.Info("room removed", "room", conn.Room())
	}
}

// Broadcast delivers data to every subscriber of the sender's room except
// the sender. An empty room is not an error — the message simply has no
// audience. Subscribers whose Send fails are unregistered.
func (h *Hub) Broadcast(sender domain.Connection, data []byte) error {
	h.mu.RLock()
	r, exists := h.rooms[sender.Room()]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, conn := range r.clients {
		if id == sender.ID() {
			continue
		}
		if err := conn.Send(data); err != nil {
			go func(c domain.Connection) {
				h.Unregister(c)
			}(conn)
		}
	}
	return nil
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		clients += len(r.clients)
		r.mu.RUnlock()
	}
	return rooms, clients
}
