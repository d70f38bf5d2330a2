package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixeledge/internal/domain"
	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/pipeline"
	"github.com/dunamismax/pixeledge/internal/queue"
	"github.com/dunamismax/pixeledge/internal/ratelimit"
	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/dunamismax/pixeledge/internal/store"
	"github.com/hibiken/asynq"
)

const originResponseEvent = `{
  "Records": [{
    "cf": {
      "config": {"distributionId": "EDFDVBD6EXAMPLE", "eventType": "origin-response"},
      "request": {
        "clientIp": "203.0.113.178",
        "method": "GET",
        "uri": "/images/photo.png/quality(100)w(200)h()format(webp)",
        "querystring": {},
        "headers": {"host": [{"key": "Host", "value": "d111111abcdef8.cloudfront.net"}]}
      },
      "response": {
        "status": "403",
        "statusDescription": "Forbidden",
        "headers": {"server": [{"key": "Server", "value": "AmazonS3"}]}
      }
    }
  }]
}`

func TestViewerRequestRewritesURI(t *testing.T) {
	srv := newTestServer(t, newFakeObjects(), &fakeQueue{})

	body := `{"Records":[{"cf":{"request":{"method":"GET","uri":"/images/photo.png","querystring":{"w":{"value":"200"},"format":{"value":"webp"}}}}}]}`
	rec := doRequest(srv, http.MethodPost, "/v1/events/viewer-request", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var req edge.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.URI != "/images/photo.png/quality(100)w(200)h()format(webp)" {
		t.Fatalf("unexpected rewritten uri %s", req.URI)
	}
}

func TestOriginResponseTransformsMiss(t *testing.T) {
	objects := newFakeObjects()
	objects.data["images/photo.png"] = []byte("source")
	srv := newTestServer(t, objects, &fakeQueue{})

	rec := doRequest(srv, http.MethodPost, "/v1/events/origin-response", originResponseEvent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp edge.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "200" || resp.BodyEncoding != "base64" {
		t.Fatalf("expected transformed 200 response, got %+v", resp)
	}
	if got := resp.Headers.Get("content-type"); got != "image/webp" {
		t.Fatalf("expected image/webp, got %s", got)
	}
	if got := resp.Headers.Get(edge.HeaderRegion); got != "ap-northeast-1" {
		t.Fatalf("expected region header, got %q", got)
	}
	data, _ := base64.StdEncoding.DecodeString(resp.Body)
	if string(data) != "webp:200" {
		t.Fatalf("unexpected body %q", data)
	}
	if _, ok := objects.data["_cf/images/photo.png/quality(100)w(200)h()format(webp)"]; !ok {
		t.Fatal("expected variant written under the cache prefix")
	}

	metrics := doRequest(srv, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(metrics.Body.String(), `pixeledge_edge_origin_responses_total{stage="transformed"} 1`) {
		t.Fatalf("expected transformed outcome metric, got:\n%s", metrics.Body.String())
	}
}

func TestOriginResponseFailureReturnsUpstream(t *testing.T) {
	srv := newTestServer(t, newFakeObjects(), &fakeQueue{})

	rec := doRequest(srv, http.MethodPost, "/v1/events/origin-response", originResponseEvent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp edge.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "403" || resp.Headers.Get("server") != "AmazonS3" {
		t.Fatalf("expected upstream 403, got %+v", resp)
	}
}

func TestEventEndpointsRejectMalformedBodies(t *testing.T) {
	srv := newTestServer(t, newFakeObjects(), &fakeQueue{})

	for _, path := range []string{"/v1/events/viewer-request", "/v1/events/origin-response"} {
		if rec := doRequest(srv, http.MethodPost, path, "{", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for malformed JSON, got %d", path, rec.Code)
		}
		if rec := doRequest(srv, http.MethodPost, path, `{"Records":[]}`, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for empty records, got %d", path, rec.Code)
		}
	}
}

func TestWarmEnqueuesTask(t *testing.T) {
	objects := newFakeObjects()
	objects.data["images/photo.png"] = []byte("source")
	q := &fakeQueue{}
	srv := newTestServer(t, objects, q)

	body := `{"uri":"/images/photo.png","query":{"w":"200","format":"webp"},"webhook_url":"https://hooks.example.com"}`
	rec := doRequest(srv, http.MethodPost, "/v1/warm", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.payloads) != 1 {
		t.Fatalf("expected one enqueued task, got %d", len(q.payloads))
	}

	payload := q.payloads[0]
	if payload.CacheKey != "_cf/images/photo.png/quality(100)w(200)h()format(webp)" {
		t.Fatalf("unexpected cache key %s", payload.CacheKey)
	}
	if !strings.HasPrefix(payload.WarmID, "warm_") {
		t.Fatalf("expected warm id, got %s", payload.WarmID)
	}
	if payload.URI != "/images/photo.png" || payload.Query["w"] != "200" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWarmRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown field", body: `{"uri":"/a.png","size":1}`, want: http.StatusBadRequest},
		{name: "missing uri", body: `{}`, want: http.StatusBadRequest},
		{name: "relative uri", body: `{"uri":"a.png"}`, want: http.StatusBadRequest},
		{name: "missing original", body: `{"uri":"/missing.png"}`, want: http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{}
			srv := newTestServer(t, newFakeObjects(), q)
			rec := doRequest(srv, http.MethodPost, "/v1/warm", tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if len(q.payloads) != 0 {
				t.Fatal("expected nothing enqueued")
			}
		})
	}
}

func TestWarmDuplicateIsAccepted(t *testing.T) {
	objects := newFakeObjects()
	objects.data["a.png"] = []byte("source")
	srv := newTestServer(t, objects, &fakeQueue{err: asynq.ErrTaskIDConflict})

	rec := doRequest(srv, http.MethodPost, "/v1/warm", `{"uri":"/a.png"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate marker, got %s", rec.Body.String())
	}
}

func TestWarmRateLimited(t *testing.T) {
	objects := newFakeObjects()
	objects.data["a.png"] = []byte("source")
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	srv := newTestServer(t, objects, &fakeQueue{}, WithRateLimiter(limiter, "X-Tenant"))

	rec := doRequest(srv, http.MethodPost, "/v1/warm", `{"uri":"/a.png"}`, map[string]string{"X-Tenant": "acme"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After 3, got %s", got)
	}
	if limiter.subject != "acme:/v1/warm" {
		t.Fatalf("unexpected subject %s", limiter.subject)
	}

	limiter.subject = ""
	doRequest(srv, http.MethodPost, "/v1/events/origin-response", originResponseEvent, nil)
	if limiter.subject != "" {
		t.Fatal("expected edge events to bypass the rate limiter")
	}
}

func TestGetVariant(t *testing.T) {
	variants := store.NewMemoryVariantStore()
	key := "_cf/images/photo.png/quality(100)w(200)h()format(webp)"
	if err := variants.RecordVariant(context.Background(), domain.Variant{CacheKey: key, Format: "webp", Bytes: 9}); err != nil {
		t.Fatalf("seed variant: %v", err)
	}

	srv := NewServer(log.New(io.Discard, "", 0), nil, &fakeQueue{}, newFakeObjects(), variants)

	rec := doRequest(srv, http.MethodGet, "/v1/variants/"+key, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Variant
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode variant: %v", err)
	}
	if got.CacheKey != key || got.Bytes != 9 {
		t.Fatalf("unexpected variant %+v", got)
	}

	if rec := doRequest(srv, http.MethodGet, "/v1/variants/_cf/unknown", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/variants/_cf/a.png/quality(100)w()h()format(png)": "/v1/variants/{key}",
		"/v1/events/origin-response":                           "/v1/events/origin-response",
		"/v1/warm":                                             "/v1/warm",
		"/favicon.ico":                                         "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%s): expected %s, got %s", path, want, got)
		}
	}
}

func newTestServer(t *testing.T, objects *fakeObjects, q *fakeQueue, opts ...Option) *Server {
	t.Helper()

	engine := pipeline.NewEngineWithTransformer(fakeTransformer{}, 0)
	handler := edge.NewHandler(log.New(io.Discard, "", 0), objects, engine, nil, edge.Config{Region: "ap-northeast-1"})
	return NewServer(log.New(io.Discard, "", 0), handler, q, objects, store.NewMemoryVariantStore(), opts...)
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeObjects struct {
	data map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: make(map[string][]byte)}
}

func (f *fakeObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return data, nil
}

func (f *fakeObjects) PutObject(_ context.Context, key string, obj storage.Object) (storage.PutResult, error) {
	f.data[key] = obj.Data
	return storage.PutResult{ETag: `"fake"`}, nil
}

func (f *fakeObjects) ObjectExists(_ context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

type fakeQueue struct {
	payloads []queue.WarmVariantPayload
	err      error
}

func (q *fakeQueue) EnqueueWarmVariant(_ context.Context, payload queue.WarmVariantPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.CacheKey, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeLimiter struct {
	decision ratelimit.Decision
	subject  string
}

func (l *fakeLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.subject = subject
	return l.decision, nil
}

type fakeTransformer struct{}

func (fakeTransformer) Probe(context.Context, []byte) (pipeline.Metadata, error) {
	return pipeline.Metadata{Format: "png", Width: 400, Height: 200}, nil
}

func (fakeTransformer) Transform(_ context.Context, _ []byte, opts pipeline.Options) (pipeline.Output, error) {
	if opts.Format == "" {
		return pipeline.Output{}, errors.New("format required")
	}
	return pipeline.Output{
		Data:   []byte(fmt.Sprintf("%s:%d", opts.Format, opts.Width)),
		Format: opts.Format,
		Width:  opts.Width,
	}, nil
}
