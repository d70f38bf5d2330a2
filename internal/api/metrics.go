package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixeledge/internal/edge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitRejected  *prometheus.CounterVec
	queueEnqueued      *prometheus.CounterVec
	missOutcomes       *prometheus.CounterVec
	missDuration       *prometheus.HistogramVec
	cacheWriteFailures prometheus.Counter
	variantBytes       prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_api_requests_total",
			Help: "Total HTTP requests handled by the edge API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeledge_api_request_duration_seconds",
			Help:    "Edge API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_queue_warms_enqueued_total",
			Help: "Total warm tasks enqueued.",
		}, []string{"queue"}),
		missOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_edge_origin_responses_total",
			Help: "Origin-response events by the stage miss handling ended at.",
		}, []string{"stage"}),
		missDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeledge_edge_miss_duration_seconds",
			Help:    "Time spent handling cache misses.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		cacheWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeledge_edge_cache_write_failures_total",
			Help: "Variants served without being written to the cache prefix.",
		}),
		variantBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixeledge_edge_variant_bytes",
			Help:    "Size of generated variants in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.missOutcomes,
		m.missDuration,
		m.cacheWriteFailures,
		m.variantBytes,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeOutcome(outcome edge.Outcome) {
	stage := string(outcome.Stage)
	m.missOutcomes.WithLabelValues(stage).Inc()
	if outcome.Stage == edge.StagePassThrough {
		return
	}

	m.missDuration.WithLabelValues(stage).Observe(outcome.Duration.Seconds())
	if outcome.Transformed() {
		m.variantBytes.Observe(float64(outcome.Bytes))
		if !outcome.Write.Stored() {
			m.cacheWriteFailures.Inc()
		}
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/events/viewer-request"):
		return "/v1/events/viewer-request"
	case strings.HasPrefix(path, "/v1/events/origin-response"):
		return "/v1/events/origin-response"
	case strings.HasPrefix(path, "/v1/variants/"):
		return "/v1/variants/{key}"
	case strings.HasPrefix(path, "/v1/warm"):
		return "/v1/warm"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
