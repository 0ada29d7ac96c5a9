package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/tasukuchiba/chat_presence_app/internal/config"
	"github.com/tasukuchiba/chat_presence_app/internal/handlers"
	"github.com/tasukuchiba/chat_presence_app/internal/messaging"
	"github.com/tasukuchiba/chat_presence_app/internal/presence"
	"github.com/tasukuchiba/chat_presence_app/internal/reaper"
	"github.com/tasukuchiba/chat_presence_app/internal/storage"
	"github.com/tasukuchiba/chat_presence_app/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env は任意
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ストレージの初期化
	backend, err := initStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("Error closing storage", "err", err)
		}
	}()
	store := storage.NewRetrying(backend, uint64(cfg.StoreMaxRetries), log)

	// 参加者レジストリ・WebSocket Hub・メッセージルーターの初期化
	clock := clockwork.NewRealClock()
	registry := presence.NewRegistry(store, clock, log)
	hub := websocket.NewHub(registry, log)
	router := messaging.NewRouter(store, registry, hub, clock, log)
	registry.SetAnnouncer(router)
	go hub.Run(ctx)

	// 期限切れ参加者の定期削除
	sweeper := reaper.NewReaper(registry, clock, cfg.SweepInterval, cfg.StaleAfter, log)
	go sweeper.Start(ctx)

	// ルーティング設定
	mux := http.NewServeMux()
	handlers.Register(mux,
		handlers.NewParticipantHandler(registry, log),
		handlers.NewMessageHandler(router, log),
	)

	// WebSocketエンドポイント
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r)
	})

	// ヘルスチェック用エンドポイント
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{Addr: cfg.Addr(), Handler: handlers.WithCORS(mux)}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", server.Addr, "storage", cfg.StorageType)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		sweeper.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server stopped", "sweeps", sweeper.Sweeps())
	return nil
}

// initStorage は設定に基づいてストレージを初期化する
func initStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageType {
	case config.StoragePostgres:
		store, err := storage.NewPostgresStorage(ctx, cfg.PostgresURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		log.Info("Using PostgreSQL storage")
		return store, nil

	case config.StorageMongo:
		store, err := storage.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		log.Info("Using MongoDB storage", "database", cfg.MongoDatabase)
		return store, nil

	case config.StorageBadger:
		store, err := storage.NewBadgerStorage(cfg.BadgerFilepath)
		if err != nil {
			return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
		}
		log.Info("Using BadgerDB storage", "path", cfg.BadgerFilepath)
		return store, nil

	default:
		log.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}
