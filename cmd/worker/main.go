package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/config"
	"github.com/dunamismax/laundrylens/internal/events"
	"github.com/dunamismax/laundrylens/internal/storage"
	"github.com/dunamismax/laundrylens/internal/store"
	"github.com/dunamismax/laundrylens/internal/telemetry"
	"github.com/dunamismax/laundrylens/internal/webhook"
	"github.com/dunamismax/laundrylens/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "laundrylens-worker",
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

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()

	deps := worker.Dependencies{
		Storage:    storageClient,
		Rasterizer: rasterizer,
		Defaults:   cfg.Compress.Settings(),
		MaxPixels:  cfg.Compress.MaxPixels,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		Jobs: jobStore,
	}

	if cfg.Events.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatalf("events publisher setup failed: %v", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Printf("events publisher close error: %v", err)
			}
		}()
		deps.Publisher = publisher
		logger.Printf("publishing events exchange=%s", cfg.Events.Exchange)
	}

	srv := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s resampler=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Compress.Resampler,
	)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}

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
