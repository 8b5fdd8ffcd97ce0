package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/answers"
	"github.com/stemsi/exstem-agent/internal/backend"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/connectivity"
	"github.com/stemsi/exstem-agent/internal/handler"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/pipeline"
	"github.com/stemsi/exstem-agent/internal/router"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/storage"
	"github.com/stemsi/exstem-agent/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("backend", cfg.BackendURL).
		Str("storage", cfg.StorageDriver).
		Msg("Starting ExStem Agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Durable Store ────────────────────────────────────────────
	kv, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open durable store")
	}
	defer kv.Close()

	// ─── Wire the Engine ───────────────────────────────────────────────
	tokens := backend.NewTokenHolder()
	hooks := backend.AuthHooks{
		OnAuthExpired: func() {
			log.Warn().Msg("Backend auth expired, dropping token")
			tokens.Clear()
		},
	}
	client := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout, tokens, hooks, log)

	watcher := connectivity.NewWatcher(client.Health, cfg.ProbeInterval, log)

	answerStore := answers.NewStore(kv, log)
	pipe := pipeline.New(kv, client, answerStore, watcher.Online, log)

	// Drain the pending log on every offline→online transition. The
	// watcher starts offline, so the first successful probe also covers
	// the startup sync.
	watcher.Subscribe(func(online bool) {
		if online {
			pipe.SyncPass(context.Background())
		}
	})

	var proctorURL func(examID string) string
	if cfg.ProctorEnabled {
		proctorURL = func(examID string) string {
			wsBase := strings.Replace(cfg.BackendURL, "http", "ws", 1)
			return fmt.Sprintf("%s/ws/v1/student/exams/%s/stream?token=%s", wsBase, examID, tokens.Get())
		}
	}

	manager := session.NewManager(kv, client, tokens, answerStore, pipe, watcher.Online, proctorURL, log)
	defer manager.Close()

	unlocker, err := middleware.NewUnlocker(cfg.UnlockPINHash, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize unlocker")
	}

	// ─── Start Connectivity Watcher ────────────────────────────────────
	watcher.Start(ctx)
	defer watcher.Stop()

	// ─── Setup Router ──────────────────────────────────────────────────
	agentHandler := handler.NewAgentHandler(manager, pipe, client, tokens, watcher, unlocker, log)
	r := router.SetupRouter(agentHandler, unlocker, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Agent API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// openStore picks the durable KV backend from config.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.KV, error) {
	switch cfg.StorageDriver {
	case "redis":
		return storage.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, log)
	case "memory":
		log.Warn().Msg("Memory storage: answers and pending submissions will not survive a restart")
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewSQLiteStore(ctx, cfg.SQLitePath, log)
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
