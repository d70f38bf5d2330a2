package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"AWS_REGION", "PIXELEDGE_CACHE_PREFIX", "PIXELEDGE_CACHE_MAX_AGE", "STORAGE_DRIVER", "POSTGRES_DSN"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Edge.Region != "us-east-1" {
		t.Fatalf("expected default region, got %s", cfg.Edge.Region)
	}
	if cfg.Edge.CachePrefix != "_cf/" {
		t.Fatalf("expected _cf/ prefix, got %s", cfg.Edge.CachePrefix)
	}
	if cfg.Edge.MaxAge != 365*24*time.Hour {
		t.Fatalf("expected one year max age, got %s", cfg.Edge.MaxAge)
	}
	if cfg.Storage.Driver != "minio" {
		t.Fatalf("expected minio driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected memory ledger by default, got dsn %q", cfg.Database.DSN)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("PIXELEDGE_CACHE_MAX_AGE", "3600")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("WORKER_MAX_ACTIVE_JOBS", "not-a-number")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.25")

	cfg := Load()
	if cfg.Edge.Region != "eu-west-1" {
		t.Fatalf("expected eu-west-1, got %s", cfg.Edge.Region)
	}
	if cfg.Storage.Region != "eu-west-1" {
		t.Fatalf("expected storage region to follow AWS_REGION, got %s", cfg.Storage.Region)
	}
	if cfg.Edge.MaxAge != time.Hour {
		t.Fatalf("expected 1h max age, got %s", cfg.Edge.MaxAge)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected fallback worker slots, got %d", cfg.Worker.MaxActiveJobs)
	}
	if cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("expected sample ratio 0.25, got %v", cfg.Telemetry.SampleRatio)
	}
}

func TestTraceConfig_ServiceNameOverride(t *testing.T) {
	cfg := TelemetryConfig{Exporter: "stdout"}
	if got := cfg.TraceConfig("pixeledge-edge").ServiceName; got != "pixeledge-edge" {
		t.Fatalf("expected caller service name, got %s", got)
	}

	cfg.ServiceName = "custom"
	if got := cfg.TraceConfig("pixeledge-edge").ServiceName; got != "custom" {
		t.Fatalf("expected configured service name, got %s", got)
	}
}
