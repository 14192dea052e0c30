package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/evdms/evdms/internal/app"
	jobmetrics "github.com/evdms/evdms/internal/jobs"
	"github.com/evdms/evdms/internal/platform/cache"
	"github.com/evdms/evdms/internal/platform/db"
	"github.com/evdms/evdms/internal/sales/quotations"
	"github.com/evdms/evdms/internal/shared"
	"github.com/evdms/evdms/jobs"
)

func main() {
	enqueue := flag.Bool("enqueue-sweep", false, "enqueue one quotation expiry sweep and exit")
	stats := flag.Bool("stats", false, "print default queue stats as JSON and exit")
	flag.Parse()

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
	queue := cache.QueueOpt(cfg.RedisAddr)

	if *enqueue || *stats {
		if err := runClient(ctx, queue, *enqueue); err != nil {
			logger.Error("jobs client", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if cfg.StorageDriver != "postgres" {
		logger.Error("worker needs shared storage", slog.Any("error", fmt.Errorf("%w: STORAGE_DRIVER=%s", shared.ErrConfiguration, cfg.StorageDriver)))
		os.Exit(1)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The sweep only touches the quotation store; HTTP metrics are not served
	// from the worker.
	quotationService := quotations.NewService(quotations.NewPGRepository(pool), logger, nil)
	expireJob := jobs.NewQuotationExpireJob(quotationService, logger, jobmetrics.NewMetrics(nil))

	var cron []jobs.CronRegistration
	if cfg.QuotationPersistExpiry {
		task, err := jobs.NewQuotationExpireTask("cron")
		if err != nil {
			logger.Error("build quotation expire task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.QuotationSweepCron, Task: task})
	} else {
		logger.Info("quotation expiry stays read-time only; cron sweep disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: queue,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpire, Handler: expireJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func runClient(ctx context.Context, queue asynq.RedisConnOpt, enqueue bool) error {
	client := jobs.NewClient(queue)
	defer client.Close()
	if enqueue {
		info, err := client.EnqueueQuotationExpire(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	}
	s, err := client.Stats()
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(s)
}
