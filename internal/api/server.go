package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixeledge/internal/domain"
	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/id"
	"github.com/dunamismax/pixeledge/internal/queue"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	handler               edgeHandler
	queueClient           warmEnqueuer
	storage               objectChecker
	variants              variantReader
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type edgeHandler interface {
	Resolve(req edge.Request) (edge.Resolution, error)
	Handle(ctx context.Context, req edge.Request, upstream edge.Response) (edge.Response, edge.Outcome)
}

type warmEnqueuer interface {
	EnqueueWarmVariant(ctx context.Context, payload queue.WarmVariantPayload) (*asynq.TaskInfo, error)
}

type objectChecker interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type variantReader interface {
	GetVariant(ctx context.Context, cacheKey string) (domain.Variant, bool, error)
}

type Option func(*Server)

// WithRateLimiter throttles warm requests per subject. The subject is read
// from userIDHeader, falling back to "anonymous".
func WithRateLimiter(limiter RateLimiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		if strings.TrimSpace(userIDHeader) != "" {
			s.rateLimitUserIDHeader = userIDHeader
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

func NewServer(logger *log.Logger, handler edgeHandler, queueClient warmEnqueuer, storage objectChecker, variants variantReader, opts ...Option) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		handler:               handler,
		queueClient:           queueClient,
		storage:               storage,
		variants:              variants,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		mux:                   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/events/viewer-request", s.handleViewerRequest)
	s.mux.HandleFunc("POST /v1/events/origin-response", s.handleOriginResponse)
	s.mux.HandleFunc("POST /v1/warm", s.handleWarm)
	s.mux.HandleFunc("GET /v1/variants/{key...}", s.handleGetVariant)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleViewerRequest(w http.ResponseWriter, r *http.Request) {
	var event edge.Event
	if err := decodeEvent(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	payload, err := event.First()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, edge.RewriteRequest(payload.Request))
}

// handleOriginResponse always answers 200 once the event decodes; the
// envelope carries the status the edge should serve.
func (s *Server) handleOriginResponse(w http.ResponseWriter, r *http.Request) {
	var event edge.Event
	if err := decodeEvent(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	payload, err := event.First()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, outcome := s.handler.Handle(r.Context(), payload.Request, payload.Response)
	s.metrics.observeOutcome(outcome)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req domain.WarmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	uri := strings.TrimSpace(req.URI)
	res, err := s.handler.Resolve(edge.RewriteRequest(edge.Request{
		Method:      http.MethodGet,
		URI:         uri,
		Querystring: edge.QueryFromValues(req.Query),
	}))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.verifyOriginalExists(r.Context(), res.OriginalKey); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.WarmVariantPayload{
		WarmID:      id.NewWithPrefix("warm"),
		URI:         uri,
		Query:       req.Query,
		CacheKey:    res.CacheKey,
		WebhookURL:  req.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueWarmVariant(r.Context(), payload)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"cache_key": res.CacheKey,
			"status":    domain.WarmStatusQueued,
			"duplicate": true,
		})
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed cache_key=%s err=%v", res.CacheKey, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue warm request"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"warm_id":      payload.WarmID,
		"status":       domain.WarmStatusQueued,
		"cache_key":    res.CacheKey,
		"original_key": res.OriginalKey,
		"queue":        taskInfo.Queue,
		"task_id":      taskInfo.ID,
		"state":        taskInfo.State.String(),
		"enqueued_at":  taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cache key is required"})
		return
	}
	if s.variants == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "variant not found"})
		return
	}

	variant, ok, err := s.variants.GetVariant(r.Context(), key)
	if err != nil {
		s.logger.Printf("fetch variant failed cache_key=%s err=%v", key, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load variant"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "variant not found"})
		return
	}

	writeJSON(w, http.StatusOK, variant)
}

func (s *Server) verifyOriginalExists(ctx context.Context, key string) error {
	exists, err := s.storage.ObjectExists(ctx, key)
	if err != nil {
		return fmt.Errorf("original object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("original object is missing: %s", key)
	}
	return nil
}

const maxBodyBytes = 1 << 20

// decodeEvent accepts unknown fields: edge events carry far more than the
// handler reads.
func decodeEvent(r *http.Request, into *edge.Event) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid event body: %w", err)
	}
	return nil
}

func decodeJSON(r *http.Request, into any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
