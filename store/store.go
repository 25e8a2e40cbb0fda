// Package store persists the last durable checkpoint per (room, player).
// The SQL implementation fronts MySQL with a short-TTL read cache; writes
// are last-write-wins upserts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/TokeNoMax/agardotfun-sub002/domain"
)

const readCacheTTL = 2 * time.Second

// PlayerState is the persisted row for one player in one room.
type PlayerState struct {
	RoomID    string    `gorm:"column:room_id;primaryKey;size:64"`
	PlayerID  string    `gorm:"column:player_id;primaryKey;size:64"`
	X         float64   `gorm:"column:x"`
	Y         float64   `gorm:"column:y"`
	Size      float64   `gorm:"column:size"`
	VelocityX float64   `gorm:"column:velocity_x"`
	VelocityY float64   `gorm:"column:velocity_y"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PlayerState) TableName() string {
	return "player_states"
}

// SQL stores checkpoints in MySQL behind a ristretto read cache. Reads serve
// reload/reconciliation, not real-time play, so a couple seconds of
// staleness is acceptable.
type SQL struct {
	db    *gorm.DB
	cache *ristretto.Cache[string, *domain.PlayerStateRecord]
}

// OpenSQL connects to MySQL, migrates the checkpoint table and builds the
// read cache.
func OpenSQL(dsn string) (*SQL, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PlayerState{}); err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache[string, *domain.PlayerStateRecord](&ristretto.Config[string, *domain.PlayerStateRecord]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SQL{db: db, cache: cache}, nil
}

func cacheKey(roomID, playerID string) string {
	return roomID + "|" + playerID
}

// UpsertPlayerState writes the latest checkpoint, last-write-wins.
func (s *SQL) UpsertPlayerState(ctx context.Context, rec domain.PlayerStateRecord) error {
	row := PlayerState{
		RoomID:    rec.RoomID,
		PlayerID:  rec.PlayerID,
		X:         rec.X,
		Y:         rec.Y,
		Size:      rec.Size,
		VelocityX: rec.VelocityX,
		VelocityY: rec.VelocityY,
		UpdatedAt: rec.UpdatedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return err
	}
	fresh := rec
	s.cache.SetWithTTL(cacheKey(rec.RoomID, rec.PlayerID), &fresh, 1, readCacheTTL)
	return nil
}

// LoadPlayerState returns the latest checkpoint, or nil when none exists.
func (s *SQL) LoadPlayerState(ctx context.Context, roomID, playerID string) (*domain.PlayerStateRecord, error) {
	if rec, ok := s.cache.Get(cacheKey(roomID, playerID)); ok {
		return rec, nil
	}

	var row PlayerState
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND player_id = ?", roomID, playerID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.PlayerStateRecord{
		RoomID:    row.RoomID,
		PlayerID:  row.PlayerID,
		X:         row.X,
		Y:         row.Y,
		Size:      row.Size,
		VelocityX: row.VelocityX,
		VelocityY: row.VelocityY,
		UpdatedAt: row.UpdatedAt,
	}
	s.cache.SetWithTTL(cacheKey(roomID, playerID), rec, 1, readCacheTTL)
	return rec, nil
}

// Close releases the cache and the underlying connection pool.
func (s *SQL) Close() error {
	s.cache.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
