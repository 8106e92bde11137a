package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tesoro-fin/tesoro/internal/app"
	"github.com/tesoro-fin/tesoro/internal/observability"
	"github.com/tesoro-fin/tesoro/internal/platform/cache"
	"github.com/tesoro-fin/tesoro/internal/platform/db"
	"github.com/tesoro-fin/tesoro/internal/recon"
	"github.com/tesoro-fin/tesoro/internal/shared"
	"github.com/tesoro-fin/tesoro/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	repo := recon.NewRepository(dbpool)
	guard := recon.NewGuard()
	stateMachine := recon.NewStateMachine(repo, guard, auditLogger, logger)
	runLock := recon.NewAccountRunLock(redisClient, cfg.BulkRunLockTTL)
	service := recon.NewService(repo, stateMachine, runLock, metrics, logger, cfg.ReconConfig())

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrent,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeBulkReconcile, Handler: jobs.NewBulkReconcileHandler(service, logger)},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
