package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openinary/openinary/internal/api/handler"
	"github.com/openinary/openinary/internal/api/middleware"
	"github.com/openinary/openinary/internal/config"
	"github.com/openinary/openinary/internal/events"
	"github.com/openinary/openinary/internal/infrastructure/cache"
	"github.com/openinary/openinary/internal/infrastructure/postgres"
	"github.com/openinary/openinary/internal/infrastructure/storage"
	"github.com/openinary/openinary/internal/signature"
	"github.com/openinary/openinary/internal/transcoder"
	"github.com/openinary/openinary/internal/usecase"
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

	for _, dir := range []string{cfg.Cache.LocalDir, cfg.Cache.PublicDir, cfg.Worker.TempDir} {
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
	existence := cache.NewExistenceCache()
	go existence.Janitor(ctx)
	disk := cache.NewDiskCache(cfg.Cache.LocalDir)
	policy := cache.NewPolicy(cfg.Cache.MaxLocalSize)
	status := cache.NewJobStatusCache(redisClient, jobs, cache.DefaultJobStatusTTL)
	broker := events.NewBroker()

	// Worker processes publish transitions over Postgres notifications;
	// republish them here so SSE subscribers see them.
	bridge := postgres.NewEventBridge(pgClient.Pool(), broker)
	go func() {
		if err := bridge.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("job event listener stopped", slog.Any("error", err))
		}
	}()

	tc := transcoder.NewFFmpegTranscoder(transcoder.FFmpegConfig{
		FFmpegPath:     cfg.Video.FFmpegPath,
		FFprobePath:    cfg.Video.FFprobePath,
		MaxSourceBytes: cfg.Video.MaxSourceSize,
		Timeout:        cfg.Video.Timeout,
	})

	inv := usecase.NewInvalidationService(storageClient, existence, disk, policy)
	transformSvc := usecase.NewTransformService(
		usecase.TransformServiceConfig{
			PublicDir:  cfg.Cache.PublicDir,
			TempDir:    cfg.Worker.TempDir,
			MaxRetries: cfg.Worker.MaxRetries,
		},
		storageClient, jobs, existence, disk, policy, status, broker, tc, inv,
	)
	uploadSvc := usecase.NewUploadService(
		usecase.UploadServiceConfig{
			MaxFileSize: cfg.Upload.MaxFileSize,
			MaxRetries:  cfg.Worker.MaxRetries,
		},
		storageClient, jobs, broker,
	)
	assetSvc := usecase.NewAssetService(storageClient, jobs, existence, inv, cfg.Cache.PublicDir)

	var verifier *signature.Verifier
	if cfg.Signature.Secret != "" {
		verifier = signature.NewVerifier(cfg.Signature.Secret)
	}

	r := setupRouter(logger, cfg.Auth.APIKey, routerDeps{
		transform: handler.NewTransformHandler(transformSvc, verifier),
		upload:    handler.NewUploadHandler(uploadSvc),
		storage:   handler.NewStorageHandler(storageClient, assetSvc, inv),
		queue:     handler.NewQueueHandler(jobs, broker),
		status:    handler.NewVideoStatusHandler(transformSvc, storageClient),
		db:        pgClient,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

type routerDeps struct {
	transform *handler.TransformHandler
	upload    *handler.UploadHandler
	storage   *handler.StorageHandler
	queue     *handler.QueueHandler
	status    *handler.VideoStatusHandler
	db        handler.Pinger
}

func setupRouter(logger *slog.Logger, apiKey string, deps routerDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Get("/health/database", handler.DatabaseHealth(deps.db))
	r.Handle("/metrics", promhttp.Handler())

	// Public delivery surface.
	r.Get("/t/*", deps.transform.Serve)
	r.Head("/t/*", deps.transform.Serve)
	r.Get("/s--{sig}/*", deps.transform.ServeSigned)
	r.Head("/s--{sig}/*", deps.transform.ServeSigned)
	r.Get("/video-status/*", deps.status.Status)
	r.Get("/queue/events", deps.queue.Events)

	// Key-guarded admin surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(apiKey))

		r.Post("/upload", deps.upload.Upload)
		r.Get("/storage/", deps.storage.List)
		r.Get("/storage/*", deps.storage.Tree)
		r.Delete("/storage/*", deps.storage.Delete)
		r.Delete("/invalidate/*", deps.storage.Invalidate)
		r.Get("/queue/stats", deps.queue.Stats)
		r.Get("/queue/jobs", deps.queue.Jobs)
		r.Post("/queue/jobs/{id}/retry", deps.queue.Retry)
		r.Post("/queue/jobs/{id}/cancel", deps.queue.Cancel)
		r.Delete("/queue/jobs/{id}", deps.queue.Delete)
	})

	return r
}
