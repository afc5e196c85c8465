package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/domain"
	"github.com/dunamismax/laundrylens/internal/queue"
	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Compress CompressConfig
	Webhook  WebhookConfig
	Events   EventsConfig
	Tracing  TracingConfig
}

type APIConfig struct {
	Addr             string
	MaxUploadBytes   int64
	PresignTTL       time.Duration
	RateLimit        int
	RateLimitWindow  time.Duration
	UserIDHeader     string
	RateLimitEnabled bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
	Retention     time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

func (q QueueConfig) ClientConfig() queue.ClientConfig {
	return queue.ClientConfig{
		Queue:     q.Name,
		MaxRetry:  q.MaxRetry,
		Timeout:   q.TaskTimeout,
		Retention: q.Retention,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type CompressConfig struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64
	Resampler string
	MaxPixels int
}

// Settings returns the configured defaults in wire form.
func (c CompressConfig) Settings() domain.CompressionSettings {
	return domain.CompressionSettings{
		MaxWidth:  c.MaxWidth,
		MaxHeight: c.MaxHeight,
		Quality:   c.Quality,
	}
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:             env("LAUNDRYLENS_API_ADDR", ":8080"),
			MaxUploadBytes:   int64(envInt("LAUNDRYLENS_MAX_UPLOAD_BYTES", 20<<20)),
			PresignTTL:       envDuration("LAUNDRYLENS_PRESIGN_TTL", 15*time.Minute),
			RateLimit:        envInt("LAUNDRYLENS_RATE_LIMIT", 30),
			RateLimitWindow:  envDuration("LAUNDRYLENS_RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader:     env("LAUNDRYLENS_USER_ID_HEADER", "X-User-ID"),
			RateLimitEnabled: envBool("LAUNDRYLENS_RATE_LIMIT_ENABLED", true),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 3*time.Minute),
			Retention:     envDuration("ASYNC_TASK_RETENTION", 24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.laundrylens-output"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "laundrylens-uploads"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Compress: CompressConfig{
			MaxWidth:  envInt("COMPRESS_MAX_WIDTH", 1920),
			MaxHeight: envInt("COMPRESS_MAX_HEIGHT", 1920),
			Quality:   envFloat("COMPRESS_QUALITY", 0.8),
			Resampler: env("COMPRESS_RESAMPLER", "catmullrom"),
			MaxPixels: envInt("COMPRESS_MAX_PIXELS", compress.DefaultMaxPixels),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Events: EventsConfig{
			AMQPURL:  env("RABBITMQ_URL", ""),
			Exchange: env("RABBITMQ_EXCHANGE", "laundrylens.events"),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
