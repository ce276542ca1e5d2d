// Package observability holds the gateway's Prometheus metrics and tracing setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts response cache lookups by result (hit, miss). A
	// failed store read is a miss and is also counted in CacheStoreErrors.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheStoreErrors counts failed cache store operations by operation.
	CacheStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_cache_store_errors_total",
			Help: "Response cache store failures by operation",
		},
		[]string{"op"},
	)

	// BackendRequests counts backend calls by model and outcome.
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_backend_requests_total",
			Help: "Inference backend requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	// BackendLatency observes backend call duration in seconds.
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infergate_backend_request_duration_seconds",
			Help:    "Inference backend request duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	// ChatRequests counts handled chat requests by resolved model and cache status.
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_chat_requests_total",
			Help: "Chat completion requests by resolved model and cache status",
		},
		[]string{"model", "cache"},
	)

	// HealthCheckStatus is 1 for the current status of each dependency check, 0 otherwise.
	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "infergate_health_check_status",
			Help: "Dependency check status (1 for the current status)",
		},
		[]string{"check", "status"},
	)

	// HealthCheckLatency is the latency of the last probe of each dependency.
	HealthCheckLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "infergate_health_check_latency_seconds",
			Help: "Latency of the most recent dependency probe",
		},
		[]string{"check"},
	)

	// SecretLookups counts secret resolutions by source (cache, store, env) and result.
	SecretLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_secret_lookups_total",
			Help: "Secret resolutions by source and result",
		},
		[]string{"source", "result"},
	)

	// UsageRecords counts usage records by outcome: written, dropped or failed.
	UsageRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_usage_records_total",
			Help: "Usage records by outcome",
		},
		[]string{"result"},
	)
)
