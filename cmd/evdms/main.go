package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/evdms/evdms/internal/app"
	"github.com/evdms/evdms/internal/platform/cache"
	"github.com/evdms/evdms/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	var deps app.Deps
	if cfg.NeedsPostgres() {
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		deps.Pool = pool
	}

	// Redis is optional unless a driver needs it; it also backs the jobs
	// health endpoint.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	switch {
	case err == nil:
		defer closeRedis(logger, redisClient)
		deps.Redis = redisClient
		deps.Inspector = asynq.NewInspector(cache.QueueOpt(cfg.RedisAddr))
		defer closeInspector(logger, deps.Inspector)
	case cfg.NeedsRedis():
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	default:
		logger.Warn("redis unavailable, jobs endpoint disabled", slog.Any("error", err))
	}

	components, err := app.Build(ctx, cfg, logger, deps)
	if err != nil {
		logger.Error("build application", slog.Any("error", err))
		os.Exit(1)
	}
	defer components.Close()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      components.Router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr),
			slog.String("storage", cfg.StorageDriver),
			slog.String("ledger", cfg.LedgerDriver),
			slog.String("sessions", cfg.SessionDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func openPostgres(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func closeRedis(logger *slog.Logger, client redis.UniversalClient) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}

func closeInspector(logger *slog.Logger, inspector *asynq.Inspector) {
	if err := inspector.Close(); err != nil {
		logger.Warn("inspector close", slog.Any("error", err))
	}
}
