package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/bankfile"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

// resultCacheTTL bounds how long a result stays readable from Redis after
// its session has been evicted from memory.
const resultCacheTTL = 24 * time.Hour

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Bool("manual_tick", cfg.AllowManualTick).
		Msg("Starting ExStem exam engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	resultRepo := repository.NewResultRepository(pool)
	resultQueue := repository.NewResultQueueRepository(rdb, resultCacheTTL)
	eventRepo := repository.NewSessionEventRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	sessionService := service.NewExamSessionService(resultQueue, resultRepo, eventRepo, worker.SystemClock{}, cfg.TickInterval, log)

	// ─── Load Question Banks ───────────────────────────────────────────
	// Load every bank BEFORE accepting traffic so session creation never
	// races a half-populated catalogue.
	banks, err := bankfile.LoadDir(cfg.BankDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("dir", cfg.BankDir).Msg("Bank directory missing, starting with an empty catalogue")
	case err != nil:
		log.Fatal().Err(err).Str("dir", cfg.BankDir).Msg("Failed to load question banks")
	}
	for _, bank := range banks {
		if err := sessionService.RegisterBank(bank); err != nil {
			log.Fatal().Err(err).Str("bank_id", bank.ID).Msg("Failed to register question bank")
		}
	}
	log.Info().Int("banks", len(banks)).Str("dir", cfg.BankDir).Msg("Question banks loaded")

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService),
		Result:  handler.NewResultHandler(resultRepo),
		Health: handler.NewHealthHandler(sessionService, map[string]handler.Pinger{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		Stream: handler.NewStreamHandler(sessionService, eventRepo, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	resultWorker := worker.NewResultWorker(resultQueue, resultRepo, cfg.ResultBatchSize, cfg.ResultBatchTimeout, log)
	workerDone := make(chan struct{})
	go func() {
		resultWorker.Start(workerCtx)
		close(workerDone)
	}()
	go sessionService.RunRetention(workerCtx, time.Minute, cfg.SessionRetention)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop countdowns. In-progress sessions are abandoned, not graded.
	sessionService.Shutdown()

	// 3. Stop background workers and wait for the result buffer to flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Result worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
