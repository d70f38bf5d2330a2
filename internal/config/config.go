package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/dunamismax/pixeledge/internal/telemetry"
	"github.com/dunamismax/pixeledge/internal/webhook"
	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Edge      EdgeConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Transform TransformConfig
}

type APIConfig struct {
	Addr string
}

// EdgeConfig drives the origin-response handler. Region is stamped on every
// response it returns.
type EdgeConfig struct {
	Region       string
	CachePrefix  string
	MaxAge       time.Duration
	MaxDimension int
}

type StorageConfig struct {
	Driver    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (s StorageConfig) StoreConfig() storage.Config {
	return storage.Config{
		Driver:   s.Driver,
		Endpoint: s.Endpoint,
		Region:   s.Region,
		Access:   s.AccessKey,
		Secret:   s.SecretKey,
		Bucket:   s.Bucket,
		UseSSL:   s.UseSSL,
	}
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

// DatabaseConfig selects the variant ledger. An empty DSN keeps the ledger in
// memory.
type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Enabled      bool
	RedisAddr    string
	Capacity     int
	Window       time.Duration
	UserIDHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (w WebhookConfig) ClientConfig() webhook.Config {
	return webhook.Config{
		SigningSecret:  w.SigningSecret,
		Timeout:        w.Timeout,
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
	}
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func (t TelemetryConfig) TraceConfig(serviceName string) telemetry.TraceConfig {
	if t.ServiceName != "" {
		serviceName = t.ServiceName
	}
	return telemetry.TraceConfig{
		ServiceName:  serviceName,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
		SampleRatio:  t.SampleRatio,
	}
}

type TransformConfig struct {
	VipsCacheMB int
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	redisAddr := env("REDIS_ADDR", "localhost:6379")

	return Config{
		API: APIConfig{
			Addr: env("PIXELEDGE_API_ADDR", ":8080"),
		},
		Edge: EdgeConfig{
			Region:       env("AWS_REGION", "us-east-1"),
			CachePrefix:  env("PIXELEDGE_CACHE_PREFIX", "_cf/"),
			MaxAge:       envDuration("PIXELEDGE_CACHE_MAX_AGE", 365*24*time.Hour),
			MaxDimension: envInt("PIXELEDGE_MAX_DIMENSION", 8192),
		},
		Storage: StorageConfig{
			Driver:    env("STORAGE_DRIVER", storage.DriverMinio),
			Endpoint:  env("STORAGE_ENDPOINT", "localhost:9000"),
			Region:    env("STORAGE_REGION", env("AWS_REGION", "us-east-1")),
			AccessKey: env("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretKey: env("STORAGE_SECRET_KEY", "minioadmin"),
			Bucket:    env("STORAGE_BUCKET", "pixeledge-images"),
			UseSSL:    envBool("STORAGE_USE_SSL", false),
		},
		Queue: QueueConfig{
			RedisAddr:     redisAddr,
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:    env("RATE_LIMIT_REDIS_ADDR", redisAddr),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 60),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", ""),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Transform: TransformConfig{
			VipsCacheMB: envInt("VIPS_CACHE_MB", 128),
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

// envDuration accepts Go duration strings ("90s") or a bare number of
// seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
