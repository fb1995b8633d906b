package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "boss-office/internal/api"
	"boss-office/internal/archive"
	"boss-office/internal/config"
	"boss-office/internal/lock"
	"boss-office/internal/queue"
	"boss-office/internal/ratelimit"
	"boss-office/internal/statemachine"
	"boss-office/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "boss-office-api", "env", cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("open repository", "err", err)
		os.Exit(1)
	}
	defer closeRepo()

	var (
		redisClient *redis.Client
		dispatch    api.Enqueuer
		limiter     api.Limiter
	)
	if cfg.RedisAddr != "" {
		redisClient = queue.NewClient(cfg)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; dispatch and rate limiting disabled", "addr", cfg.RedisAddr, "err", err)
			redisClient = nil
		}
	}
	if redisClient != nil {
		dispatch = queue.NewDispatchQueue(redisClient, cfg.VisibilityTimeout)
		limiter = ratelimit.NewReviewerLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
	}

	engine, err := newEngine(ctx, cfg, repo, redisClient, logger)
	if err != nil {
		logger.Error("build state machine", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, repo, engine, dispatch, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// openRepository picks Postgres when a DSN is configured, else memory.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.RunMigrations(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newEngine(ctx context.Context, cfg config.Config, repo store.Repository, redisClient *redis.Client, logger *slog.Logger) (*statemachine.Engine, error) {
	opts := []statemachine.Option{
		statemachine.WithJobs(repo),
		statemachine.WithLogger(logger),
	}
	if cfg.LockBackend == config.LockRedis && redisClient != nil {
		opts = append(opts, statemachine.WithLocker(lock.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockRetryInterval)))
	}

	uploader, err := archive.NewUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if uploader != nil {
		opts = append(opts, statemachine.OnTerminal(archive.New(repo, uploader, logger).OnTerminal))
	}
	return statemachine.New(repo, opts...), nil
}
