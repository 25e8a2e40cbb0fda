package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TokeNoMax/agardotfun-sub002/config"
	"github.com/TokeNoMax/agardotfun-sub002/domain"
	"github.com/TokeNoMax/agardotfun-sub002/hub"
	"github.com/TokeNoMax/agardotfun-sub002/protocol"
	"github.com/TokeNoMax/agardotfun-sub002/ratelimit"
	"github.com/TokeNoMax/agardotfun-sub002/store"
	"github.com/TokeNoMax/agardotfun-sub002/validate"
	ws "github.com/TokeNoMax/agardotfun-sub002/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	playerStore, closeStore := openStore(cfg)
	defer closeStore()

	moveLimiter := ratelimit.New(cfg.MoveLimit.MaxRequests, cfg.MoveLimit.Window)
	eventLimiter := ratelimit.New(cfg.EventLimit.MaxRequests, cfg.EventLimit.Window)
	connLimiter := ratelimit.New(cfg.ConnLimit.MaxRequests, cfg.ConnLimit.Window)
	defer moveLimiter.Close()
	defer eventLimiter.Close()
	defer connLimiter.Close()

	validator := &validate.Validator{
		World:     validate.Bounds{MinX: cfg.WorldMinX, MinY: cfg.WorldMinY, MaxX: cfg.WorldMaxX, MaxY: cfg.WorldMaxY},
		MinSize:   cfg.MinSize,
		MaxSize:   cfg.MaxSize,
		MaxSpeed:  cfg.MaxSpeed,
		SpawnSize: cfg.SpawnSize,
	}

	broadcaster := hub.New()
	handler := protocol.NewHandler(broadcaster, validator, playerStore, moveLimiter, eventLimiter)
	handler.SetPersistInterval(cfg.PersistInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(broadcaster, handler, connLimiter))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(broadcaster))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func openStore(cfg config.Config) (domain.PlayerStateStore, func()) {
	if cfg.MySQLDSN == "" {
		slog.Warn("no MYSQL_DSN configured, player checkpoints held in memory")
		return store.NewMemory(), func() {}
	}
	sqlStore, err := store.OpenSQL(cfg.MySQLDSN)
	if err != nil {
		slog.Error("mysql unavailable, falling back to memory store", "error", err)
		return store.NewMemory(), func() {}
	}
	return sqlStore, func() {
		if err := sqlStore.Close(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}
}

func wsHandler(broadcaster domain.Broadcaster, handler *protocol.Handler, connLimiter *ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		playerID := r.URL.Query().Get("player")
		if room == "" || playerID == "" {
			http.Error(w, "room and player are required", http.StatusBadRequest)
			return
		}
		if !connLimiter.Allow(playerID) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), room, playerID, conn, broadcaster, handler)
		if err := wsConn.Start(); err != nil {
			slog.Error("subscription rejected", "room", room, "playerId", playerID, "error", err)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(broadcaster domain.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, clients := broadcaster.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "clients": clients})
	}
}
