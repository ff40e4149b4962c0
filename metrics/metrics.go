// Package metrics provides Prometheus metrics for presssync
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for presssync. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Engine client metrics
	EngineRequestsTotal   *prometheus.CounterVec
	EngineRequestDuration *prometheus.HistogramVec

	// Sync metrics
	SyncBatchesTotal   *prometheus.CounterVec
	SyncDocumentsTotal *prometheus.CounterVec

	// Heartbeat metrics
	HealthProbesTotal *prometheus.CounterVec
	HeartbeatStatus   *prometheus.GaugeVec

	// Search metrics
	SearchRequestsTotal *prometheus.CounterVec
}

var heartbeatStatuses = []string{"never", "stale", "ok", "alert", "shutdown"}

// New creates the metrics on a private registry so several instances can
// coexist in one process.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{registry: registry}

	m.EngineRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presssync_engine_requests_total",
			Help: "Total number of requests sent to the search engine",
		},
		[]string{"method", "code"},
	)

	m.EngineRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presssync_engine_request_duration_seconds",
			Help:    "Duration of search engine requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.SyncBatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presssync_sync_batches_total",
			Help: "Total number of sync batches by outcome",
		},
		[]string{"outcome"},
	)

	m.SyncDocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presssync_sync_documents_total",
			Help: "Total number of documents handled by the sync, by result",
		},
		[]string{"result"},
	)

	m.HealthProbesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presssync_health_probes_total",
			Help: "Total number of cluster health probes by result",
		},
		[]string{"result"},
	)

	m.HeartbeatStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presssync_heartbeat_status",
			Help: "Current heartbeat status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	m.SearchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presssync_search_requests_total",
			Help: "Total number of search requests by outcome",
		},
		[]string{"outcome"},
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEngineRequest(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.EngineRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	m.EngineRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) ObserveBatch(outcome string) {
	if m == nil {
		return
	}
	m.SyncBatchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddDocuments(result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.SyncDocumentsTotal.WithLabelValues(result).Add(float64(count))
}

func (m *Metrics) ObserveProbe(healthy bool) {
	if m == nil {
		return
	}
	result := "failure"
	if healthy {
		result = "success"
	}
	m.HealthProbesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetHeartbeatStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range heartbeatStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.HeartbeatStatus.WithLabelValues(s).Set(value)
	}
}

func (m *Metrics) ObserveSearch(outcome string) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(outcome).Inc()
}
