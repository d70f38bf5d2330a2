package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/queue"
	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

func TestHandleWarmVariant_Success(t *testing.T) {
	handler := &stubHandler{outcome: edge.Outcome{
		Stage:       edge.StageTransformed,
		URI:         "/images/photo.png/quality(100)w(200)h()format(webp)",
		OriginalKey: "images/photo.png",
		CacheKey:    "_cf/images/photo.png/quality(100)w(200)h()format(webp)",
		Format:      "webp",
		Bytes:       512,
		Write:       edge.NewCacheWrite(`"abc"`, nil),
	}}
	hooks := &captureWebhook{}
	s := newServer(log.New(io.Discard, "", 0), 1, handler, hooks)

	err := s.handleWarmVariant(context.Background(), warmTask(t, queue.WarmVariantPayload{
		WarmID:     "warm_1",
		URI:        "/images/photo.png",
		Query:      map[string]string{"w": "200", "format": "webp"},
		WebhookURL: "https://hooks.example.com",
	}))
	if err != nil {
		t.Fatalf("handle warm: %v", err)
	}

	if handler.req.URI != "/images/photo.png/quality(100)w(200)h()format(webp)" {
		t.Fatalf("expected rewritten uri, got %s", handler.req.URI)
	}
	if handler.upstream.Status != "404" {
		t.Fatalf("expected synthetic 404 upstream, got %s", handler.upstream.Status)
	}
	if len(hooks.events) != 1 || hooks.events[0] != EventVariantWarmed {
		t.Fatalf("expected one %s webhook, got %v", EventVariantWarmed, hooks.events)
	}
	if got := metricValue(t, s.metrics.registry, "pixeledge_worker_warms_total", map[string]string{"status": "warmed", "stage": "transformed"}); got != 1 {
		t.Fatalf("expected one warmed task, got %v", got)
	}
	if got := metricValue(t, s.metrics.registry, "pixeledge_worker_warmed_bytes_total", nil); got != 512 {
		t.Fatalf("expected 512 warmed bytes, got %v", got)
	}
}

func TestHandleWarmVariant_Failures(t *testing.T) {
	tests := []struct {
		name      string
		outcome   edge.Outcome
		wantSkip  bool
		wantStage string
	}{
		{
			name: "missing original",
			outcome: edge.Outcome{
				Stage: edge.StageOriginFetch,
				Err:   &edge.StageError{Stage: edge.StageOriginFetch, Err: fmt.Errorf("get: %w", storage.ErrNotFound)},
			},
			wantSkip:  true,
			wantStage: "origin_fetch",
		},
		{
			name: "storage outage",
			outcome: edge.Outcome{
				Stage: edge.StageOriginFetch,
				Err:   &edge.StageError{Stage: edge.StageOriginFetch, Err: errors.New("connection refused")},
			},
			wantStage: "origin_fetch",
		},
		{
			name:      "bad key",
			outcome:   edge.Outcome{Stage: edge.StageParams, Err: errors.New("empty key")},
			wantSkip:  true,
			wantStage: "params",
		},
		{
			name: "cache write failed",
			outcome: edge.Outcome{
				Stage: edge.StageTransformed,
				Write: edge.NewCacheWrite("", errors.New("bucket unavailable")),
			},
			wantStage: "transformed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hooks := &captureWebhook{}
			s := newServer(log.New(io.Discard, "", 0), 1, &stubHandler{outcome: tc.outcome}, hooks)

			err := s.handleWarmVariant(context.Background(), warmTask(t, queue.WarmVariantPayload{
				WarmID:     "warm_2",
				URI:        "/images/photo.png",
				WebhookURL: "https://hooks.example.com",
			}))
			if err == nil {
				t.Fatal("expected warm error")
			}
			if errors.Is(err, asynq.SkipRetry) != tc.wantSkip {
				t.Fatalf("expected skip retry=%v, got err=%v", tc.wantSkip, err)
			}
			if len(hooks.events) != 1 || hooks.events[0] != EventVariantFailed {
				t.Fatalf("expected one %s webhook, got %v", EventVariantFailed, hooks.events)
			}
			if got := metricValue(t, s.metrics.registry, "pixeledge_worker_warms_total", map[string]string{"status": "failed", "stage": tc.wantStage}); got != 1 {
				t.Fatalf("expected failed counter for stage %s, got %v", tc.wantStage, got)
			}
		})
	}
}

func TestHandleWarmVariant_BadPayloadSkipsRetry(t *testing.T) {
	handler := &stubHandler{}
	s := newServer(log.New(io.Discard, "", 0), 1, handler, nil)

	err := s.handleWarmVariant(context.Background(), asynq.NewTask(queue.TypeWarmVariant, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not to run, got %d calls", handler.calls)
	}
}

func TestHandleWarmVariant_WebhookFailureRetries(t *testing.T) {
	handler := &stubHandler{outcome: edge.Outcome{Stage: edge.StageTransformed, Write: edge.NewCacheWrite(`"e"`, nil)}}
	hooks := &captureWebhook{err: errors.New("receiver down")}
	s := newServer(log.New(io.Discard, "", 0), 1, handler, hooks)

	err := s.handleWarmVariant(context.Background(), warmTask(t, queue.WarmVariantPayload{
		URI:        "/a.png",
		WebhookURL: "https://hooks.example.com",
	}))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable webhook error, got %v", err)
	}
	if got := metricValue(t, s.metrics.registry, "pixeledge_worker_webhook_failures_total", map[string]string{"event": EventVariantWarmed}); got != 1 {
		t.Fatalf("expected webhook failure counter, got %v", got)
	}
}

type stubHandler struct {
	outcome  edge.Outcome
	req      edge.Request
	upstream edge.Response
	calls    int
}

func (h *stubHandler) Handle(_ context.Context, req edge.Request, upstream edge.Response) (edge.Response, edge.Outcome) {
	h.calls++
	h.req = req
	h.upstream = upstream
	return upstream, h.outcome
}

type captureWebhook struct {
	events []string
	err    error
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, _ any) error {
	c.events = append(c.events, event)
	return c.err
}

func warmTask(t *testing.T, payload queue.WarmVariantPayload) *asynq.Task {
	t.Helper()

	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(queue.TypeWarmVariant, body)
}

// metricValue reads the counter in family name whose labels equal labels.
func metricValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			match := true
			for _, pair := range pairs {
				if labels[pair.GetName()] != pair.GetValue() {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
