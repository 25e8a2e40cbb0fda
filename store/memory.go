package store

import (
	"context"
	"sync"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
)

// Memory keeps checkpoints in a process-local map. Used in tests and when
// no database is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]domain.PlayerStateRecord
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]domain.PlayerStateRecord)}
}

func (m *Memory) UpsertPlayerState(_ context.Context, rec domain.PlayerStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cacheKey(rec.RoomID, rec.PlayerID)] = rec
	return nil
}

func (m *Memory) LoadPlayerState(_ context.Context, roomID, playerID string) (*domain.PlayerStateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[cacheKey(roomID, playerID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Len reports the number of stored checkpoints.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
