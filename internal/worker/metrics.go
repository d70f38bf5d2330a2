package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	warmsTotal       *prometheus.CounterVec
	warmDuration     *prometheus.HistogramVec
	activeWarms      prometheus.Gauge
	warmedBytesTotal prometheus.Counter
	webhookFailures  *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		warmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_worker_warms_total",
			Help: "Total warm tasks by final status and the miss-handling stage they ended at.",
		}, []string{"status", "stage"}),
		warmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeledge_worker_warm_duration_seconds",
			Help:    "Duration of each warm task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeWarms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixeledge_worker_active_warms",
			Help: "Current number of warm tasks holding a transform slot.",
		}),
		warmedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeledge_worker_warmed_bytes_total",
			Help: "Total bytes of variants written to the cache prefix by warm tasks.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeledge_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.warmsTotal,
		m.warmDuration,
		m.activeWarms,
		m.warmedBytesTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
