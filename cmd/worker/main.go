package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"boss-office/internal/archive"
	"boss-office/internal/config"
	"boss-office/internal/factory"
	"boss-office/internal/lock"
	"boss-office/internal/queue"
	"boss-office/internal/statemachine"
	"boss-office/internal/store"
	"boss-office/internal/telemetry"
	workerproc "boss-office/internal/worker"
)

func main() {
	cfg := config.Load()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID, _ = os.Hostname()
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "boss-office-worker", "worker_id", workerID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The dispatch queue lives in Redis and jobs must be visible to the API,
	// so the worker needs both shared backends.
	if cfg.PostgresDSN == "" {
		logger.Error("POSTGRES_DSN is required for the worker")
		os.Exit(1)
	}
	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "err", err)
		os.Exit(1)
	}

	redisClient := queue.NewClient(cfg)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("connect redis", "addr", cfg.RedisAddr, "err", err)
		os.Exit(1)
	}
	q := queue.NewDispatchQueue(redisClient, cfg.VisibilityTimeout)

	opts := []statemachine.Option{
		statemachine.WithJobs(st),
		statemachine.WithLogger(logger),
		statemachine.WithLocker(lock.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockRetryInterval)),
	}
	uploader, err := archive.NewUploader(ctx, cfg)
	if err != nil {
		logger.Error("init archive", "err", err)
		os.Exit(1)
	}
	if uploader != nil {
		opts = append(opts, statemachine.OnTerminal(archive.New(st, uploader, logger).OnTerminal))
	}
	engine := statemachine.New(st, opts...)

	if cfg.FactoryWebhookURL == "" {
		logger.Warn("FACTORY_WEBHOOK_URL not set; every submission will fail")
	}
	submitter := factory.NewWebhookClient(cfg.FactoryWebhookURL, cfg.FactoryTimeout)
	processor := workerproc.NewProcessor(cfg, q, st, engine, submitter, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	logger.Info("worker started", "visibility", cfg.VisibilityTimeout, "max_attempts", cfg.MaxAttempts, "backoff_initial", cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "err", err)
	}
}
