package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/laundrylens/internal/api"
	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/config"
	"github.com/dunamismax/laundrylens/internal/pipeline"
	"github.com/dunamismax/laundrylens/internal/queue"
	"github.com/dunamismax/laundrylens/internal/ratelimit"
	"github.com/dunamismax/laundrylens/internal/storage"
	"github.com/dunamismax/laundrylens/internal/store"
	"github.com/dunamismax/laundrylens/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "laundrylens-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	rasterizer, err := compress.ResamplerByName(cfg.Compress.Resampler)
	if err != nil {
		logger.Fatalf("resampler setup failed: %v", err)
	}
	if cfg.Compress.Resampler == "vips" {
		if err := compress.Startup(); err != nil {
			logger.Fatalf("vips startup failed: %v", err)
		}
		defer compress.Shutdown()
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.ClientConfig())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		Access:         cfg.Storage.AccessKey,
		Secret:         cfg.Storage.SecretKey,
		Bucket:         cfg.Storage.Bucket,
		UseSSL:         cfg.Storage.UseSSL,
		MaxObjectBytes: cfg.API.MaxUploadBytes,
	})
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Printf("bucket check failed bucket=%s err=%v", cfg.Storage.Bucket, err)
	}
	cancelBucket()

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()

	deps := api.Dependencies{
		Logger:         logger,
		Queue:          queueClient,
		Jobs:           jobStore,
		Storage:        storageClient,
		Uploader:       pipeline.NewProcessor(nil, pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs"}, rasterizer).WithMaxPixels(cfg.Compress.MaxPixels),
		Defaults:       cfg.Compress.Settings(),
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		PresignTTL:     cfg.API.PresignTTL,
		UserIDHeader:   cfg.API.UserIDHeader,
	}

	if cfg.API.RateLimitEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimit, cfg.API.RateLimitWindow)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		deps.RateLimiter = limiter
		logger.Printf("rate limiting enabled limit=%d window=%s", cfg.API.RateLimit, cfg.API.RateLimitWindow)
	}

	app := api.NewServer(deps)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// openJobStore uses Postgres when a DSN is configured and memory otherwise.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres setup failed: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}
