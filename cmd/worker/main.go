package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/openinary/openinary/internal/config"
	"github.com/openinary/openinary/internal/events"
	"github.com/openinary/openinary/internal/infrastructure/cache"
	"github.com/openinary/openinary/internal/infrastructure/postgres"
	"github.com/openinary/openinary/internal/infrastructure/storage"
	"github.com/openinary/openinary/internal/transcoder"
	"github.com/openinary/openinary/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.Cache.LocalDir, cfg.Worker.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	if err := pgClient.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("connected to PostgreSQL")

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:       cfg.Storage.Endpoint,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.Bucket,
		UseSSL:         cfg.Storage.UseSSL,
		RequestTimeout: cfg.Storage.RequestTimeout,
		MaxIdleConns:   cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}
	logger.Info("connected to object storage", slog.String("bucket", cfg.Storage.Bucket))

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis")
	}

	jobs := postgres.NewJobRepository(pgClient.Pool())
	disk := cache.NewDiskCache(cfg.Cache.LocalDir)
	status := cache.NewJobStatusCache(redisClient, jobs, cache.DefaultJobStatusTTL)
	broker := events.NewBroker()

	// SSE subscribers live in the API process; relay transitions there.
	bridge := postgres.NewEventBridge(pgClient.Pool(), broker)
	bridge.Forward(ctx)

	tc := transcoder.NewFFmpegTranscoder(transcoder.FFmpegConfig{
		FFmpegPath:     cfg.Video.FFmpegPath,
		FFprobePath:    cfg.Video.FFprobePath,
		MaxSourceBytes: cfg.Video.MaxSourceSize,
		Timeout:        cfg.Video.Timeout,
	})

	pool := worker.NewPool(worker.Config{
		Concurrency:    cfg.Worker.Concurrency,
		PollInterval:   cfg.Worker.PollInterval,
		RetentionHours: cfg.Worker.RetentionHours,
		PublicDir:      cfg.Cache.PublicDir,
		TempDir:        cfg.Worker.TempDir,
	}, jobs, storageClient, disk, status, broker, tc)

	errCh := make(chan error, 1)
	go func() {
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("worker pool error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	cancel()
	logger.Info("worker stopped")
	return nil
}
