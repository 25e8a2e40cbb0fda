// Package config loads the tunable surface of the sync core from the
// environment. Every knob has a sane default so the server runs from a
// clean checkout.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LimitConfig shapes one rate-limiter class.
type LimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

type Config struct {
	Port     string
	LogLevel string
	MySQLDSN string

	SyncEnabled       bool
	BroadcastInterval time.Duration
	PersistInterval   time.Duration
	RetryDelay        time.Duration

	WorldMinX float64
	WorldMinY float64
	WorldMaxX float64
	WorldMaxY float64
	MinSize   float64
	MaxSize   float64
	MaxSpeed  float64
	SpawnSize float64

	MoveLimit  LimitConfig
	EventLimit LimitConfig
	ConnLimit  LimitConfig
}

// Load reads .env when present, then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	return Config{
		Port:     getString("PORT", "8080"),
		LogLevel: getString("LOG_LEVEL", "info"),
		MySQLDSN: getString("MYSQL_DSN", ""),

		SyncEnabled:       getBool("SYNC_ENABLED", true),
		BroadcastInterval: getDurationMS("BROADCAST_INTERVAL_MS", 50*time.Millisecond),
		PersistInterval:   getDurationMS("PERSIST_INTERVAL_MS", 1000*time.Millisecond),
		RetryDelay:        getDurationMS("RECONNECT_DELAY_MS", 3000*time.Millisecond),

		WorldMinX: getFloat("WORLD_MIN_X", 0),
		WorldMinY: getFloat("WORLD_MIN_Y", 0),
		WorldMaxX: getFloat("WORLD_MAX_X", 3000),
		WorldMaxY: getFloat("WORLD_MAX_Y", 3000),
		MinSize:   getFloat("PLAYER_MIN_SIZE", 10),
		MaxSize:   getFloat("PLAYER_MAX_SIZE", 500),
		MaxSpeed:  getFloat("PLAYER_MAX_SPEED", 10),
		SpawnSize: getFloat("PLAYER_SPAWN_SIZE", 15),

		MoveLimit: LimitConfig{
			MaxRequests: getInt("MOVE_LIMIT_MAX", 1800),
			Window:      getDurationMS("MOVE_LIMIT_WINDOW_MS", time.Minute),
		},
		EventLimit: LimitConfig{
			MaxRequests: getInt("EVENT_LIMIT_MAX", 60),
			Window:      getDurationMS("EVENT_LIMIT_WINDOW_MS", time.Minute),
		},
		ConnLimit: LimitConfig{
			MaxRequests: getInt("CONN_LIMIT_MAX", 10),
			Window:      getDurationMS("CONN_LIMIT_WINDOW_MS", 5*time.Minute),
		},
	}
}

// SlogLevel maps the configured level name onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid bool env var, using default", "key", key, "value", v)
		return fallback
	}
	return b
}

func getDurationMS(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
