package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/pixeledge/internal/config"
	"github.com/dunamismax/pixeledge/internal/domain"
	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/dunamismax/pixeledge/internal/queue"
	"github.com/dunamismax/pixeledge/internal/storage"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventVariantWarmed = "variant.warmed"
	EventVariantFailed = "variant.failed"
)

var errNotCached = errors.New("variant generated but not cached")

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	handler       missHandler
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type missHandler interface {
	Handle(ctx context.Context, req edge.Request, upstream edge.Response) (edge.Response, edge.Outcome)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	handler missHandler,
	webhookClient webhookSender,
) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("miss handler is required")
	}

	s := newServer(logger, workerCfg.MaxActiveJobs, handler, webhookClient)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, maxActive int, handler missHandler, webhookClient webhookSender) *Server {
	return &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, maxActive)),
		handler:       handler,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixeledge/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWarmVariant, s.handleWarmVariant)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// syntheticMiss stands in for the origin's 404 so warming goes through the
// same miss handling as viewer traffic.
func syntheticMiss() edge.Response {
	return edge.Response{
		Status:            "404",
		StatusDescription: "Not Found",
		Headers:           edge.Headers{},
	}
}

func (s *Server) handleWarmVariant(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	status := domain.WarmStatusFailed
	stage := "decode"

	payload, err := queue.ParseWarmVariantPayload(task)
	if err != nil {
		s.metrics.warmsTotal.WithLabelValues(status, stage).Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.warm_variant", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("warm.id", payload.WarmID),
		attribute.String("warm.uri", payload.URI),
		attribute.String("warm.cache_key", payload.CacheKey),
	)
	defer span.End()
	defer func() {
		s.metrics.warmDuration.WithLabelValues(status).Observe(time.Since(startedAt).Seconds())
		s.metrics.warmsTotal.WithLabelValues(status, stage).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeWarms.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeWarms.Dec()
	}()

	s.logger.Printf("Warming... warm_id=%s uri=%s cache_key=%s", payload.WarmID, payload.URI, payload.CacheKey)

	req := edge.RewriteRequest(edge.Request{
		Method:      http.MethodGet,
		URI:         payload.URI,
		Querystring: edge.QueryFromValues(payload.Query),
		Headers:     edge.Headers{},
	})
	_, outcome := s.handler.Handle(ctx, req, syntheticMiss())
	stage = string(outcome.Stage)

	if err := warmError(outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		s.dispatchWebhook(ctx, payload, EventVariantFailed, map[string]any{
			"warm_id":      payload.WarmID,
			"status":       domain.WarmStatusFailed,
			"uri":          payload.URI,
			"cache_key":    outcome.CacheKey,
			"stage":        stage,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent(outcome) {
			return fmt.Errorf("warm %s: %v: %w", payload.URI, err, asynq.SkipRetry)
		}
		return fmt.Errorf("warm %s: %w", payload.URI, err)
	}

	s.logger.Printf("Warmed warm_id=%s cache_key=%s bytes=%d", payload.WarmID, outcome.CacheKey, outcome.Bytes)
	s.metrics.warmedBytesTotal.Add(float64(outcome.Bytes))

	if err := s.dispatchWebhook(ctx, payload, EventVariantWarmed, map[string]any{
		"warm_id":      payload.WarmID,
		"status":       domain.WarmStatusWarmed,
		"uri":          payload.URI,
		"cache_key":    outcome.CacheKey,
		"original_key": outcome.OriginalKey,
		"format":       outcome.Format,
		"bytes":        outcome.Bytes,
		"etag":         outcome.Write.ETag,
		"requested_at": payload.RequestedAt,
		"warmed_at":    time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	status = domain.WarmStatusWarmed
	span.SetStatus(codes.Ok, "warmed")
	return nil
}

func warmError(outcome edge.Outcome) error {
	if !outcome.Transformed() {
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("miss handling ended at stage %s", outcome.Stage)
	}
	if !outcome.Write.Stored() {
		if outcome.Write.Err != nil {
			return fmt.Errorf("%w: %v", errNotCached, outcome.Write.Err)
		}
		return errNotCached
	}
	return nil
}

// permanent reports failures that a retry cannot fix: bad keys, a missing
// original and sources the engine rejects.
func permanent(outcome edge.Outcome) bool {
	switch outcome.Stage {
	case edge.StageParams, edge.StageProbe, edge.StagePanic:
		return true
	case edge.StageOriginFetch:
		return errors.Is(outcome.Err, storage.ErrNotFound)
	default:
		return false
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.WarmVariantPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed warm_id=%s event=%s err=%v", payload.WarmID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
