package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-workforce/internal/app"
	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/dedup"
	jobmetrics "github.com/odyssey-erp/odyssey-workforce/internal/jobs"
	"github.com/odyssey-erp/odyssey-workforce/internal/notify"
	"github.com/odyssey-erp/odyssey-workforce/internal/observability"
	"github.com/odyssey-erp/odyssey-workforce/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workforce/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	recorder := audit.NewRecorder(audit.NewStore(audit.NewRepository(pool), logger), logger, observability.NewMetrics())

	deliverer := notify.NewDeliverer(notify.NewRepository(pool), logger, metrics)
	dedupJob := jobs.NewDedupSweepJob(dedup.NewService(dedup.NewRepository(pool), recorder, logger), logger, metrics)

	dedupTask, err := jobs.NewDedupTask(cfg.DedupActorID)
	if err != nil {
		logger.Error("build dedup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts, err := cache.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue redis options", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyDeliver, Handler: deliverer.Handle},
			{Type: jobs.TaskImportsDedup, Handler: dedupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DedupCron, Task: dedupTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
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
