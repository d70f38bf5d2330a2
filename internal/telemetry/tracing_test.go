package telemetry

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
)

func TestSetupTracing_DisabledExporter(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "pixeledge-test", Exporter: "none"}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("setup tracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracing_RejectsBadExporters(t *testing.T) {
	tests := []struct {
		name string
		cfg  TraceConfig
		want string
	}{
		{name: "otlp without endpoint", cfg: TraceConfig{Exporter: "otlp"}, want: "requires endpoint"},
		{name: "unknown exporter", cfg: TraceConfig{Exporter: "zipkin"}, want: "unsupported trace exporter"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SetupTracing(context.Background(), tc.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampler_Description(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: "root:AlwaysOnSampler"},
		{ratio: 2, want: "root:AlwaysOnSampler"},
		{ratio: 0, want: "root:AlwaysOffSampler"},
		{ratio: 0.5, want: "root:TraceIDRatioBased{0.5}"},
	}

	for _, tc := range tests {
		if got := Sampler(tc.ratio).Description(); !strings.Contains(got, tc.want) {
			t.Fatalf("ratio %v: expected description containing %q, got %q", tc.ratio, tc.want, got)
		}
	}
}
