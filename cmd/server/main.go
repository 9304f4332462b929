package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("store_backend", string(cfg.StoreBackend)).
		Msg("Starting ExStem Session")

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
	assessmentRepo := repository.NewAssessmentRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	monitorService := service.NewMonitorService(rdb)
	remote := service.NewRepositoryAPI(pool, assessmentRepo, attemptRepo, responseRepo, log)

	registry := service.NewSessionRegistry(
		buildStoreFactory(cfg, rdb, log),
		remote.ForStudent,
		service.CoordinatorOptions{
			StaleAfter:         cfg.SessionStaleAfter,
			ResetTimerOnDrift:  cfg.ResetTimerOnContentDrift,
			CompletedRetention: cfg.CompletedRetention,
			IdleRetention:      cfg.IdleRetention,
			Retry: service.RetryPolicy{
				MaxAttempts: cfg.RemoteRetryAttempts,
				Delay:       cfg.RemoteRetryDelay,
			},
		},
		log,
	)

	// ─── Start Background Workers ─────────────────────────────────────
	// The timer worker hooks expiries on the registry, so it is built
	// before any coordinator exists.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	timerWorker := worker.NewTimerWorker(registry, monitorService, cfg.TimerTickInterval, log)
	submitLimiter := middleware.NewRateLimiter(10, time.Minute)

	workers.Add(2)
	go func() {
		defer workers.Done()
		timerWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		submitLimiter.Run(workerCtx)
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(registry, monitorService, log),
		WS:      handler.NewWSHandler(registry, monitorService, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis":    handler.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}, registry, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, submitLimiter, cfg)

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

	// 2. Stop background workers; the timer worker submits queued expiries first.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// buildStoreFactory returns the per-student store source for the configured
// backend. Memory stores live as long as the process.
func buildStoreFactory(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) service.StoreFactory {
	if cfg.StoreBackend == config.StoreBackendMemory {
		log.Warn().Msg("Memory store selected, sessions will not survive a restart")

		var mu sync.Mutex
		stores := make(map[int]*store.MemoryStore)
		return func(studentID int) store.Store {
			mu.Lock()
			defer mu.Unlock()
			st, ok := stores[studentID]
			if !ok {
				st = store.NewMemoryStore()
				stores[studentID] = st
			}
			return st
		}
	}

	return func(studentID int) store.Store {
		return store.NewRedisStore(rdb, config.CacheKey.StudentScope(studentID), cfg.SessionKeyTTL)
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
