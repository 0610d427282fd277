// Package metrics exposes Prometheus collectors for store calls and tree
// operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blobtree"

// Outcome labels for tree operations.
const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	storeCalls    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeRetries  *prometheus.CounterVec
	treeOps       *prometheus.CounterVec
	treeDuration  *prometheus.HistogramVec
	treeKeys      *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		storeCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of blob store calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		storeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_milliseconds",
				Help:      "Duration of single blob store call attempts in milliseconds",
				Buckets: []float64{
					1,    // local stores
					10,   // 10ms
					50,   // 50ms - small object operations
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
					5000, // 5s - large objects or throttled calls
				},
			},
			[]string{"operation"},
		),
		storeRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_retries_total",
				Help:      "Total number of retried blob store calls after transient errors",
			},
			[]string{"operation"},
		),
		treeOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_operations_total",
				Help:      "Total number of tree operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		treeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tree_operation_duration_milliseconds",
				Help:      "Duration of tree operations in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(5, 4, 8), // 5ms .. ~82s
			},
			[]string{"operation"},
		),
		treeKeys: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_keys_total",
				Help:      "Total number of keys processed by tree operations by status",
			},
			[]string{"operation", "status"},
		),
	}
}

// ObserveStoreCall records one store call attempt.
func (m *Metrics) ObserveStoreCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.storeCalls.WithLabelValues(operation, status).Inc()
	m.storeDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

// IncRetry counts a retry of operation.
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(operation).Inc()
}

// ObserveTreeOp records a finished tree operation.
func (m *Metrics) ObserveTreeOp(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.treeOps.WithLabelValues(operation, outcome).Inc()
	m.treeDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

// AddKeys records per-key outcomes of a tree operation.
func (m *Metrics) AddKeys(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	if succeeded > 0 {
		m.treeKeys.WithLabelValues(operation, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		m.treeKeys.WithLabelValues(operation, "failed").Add(float64(failed))
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
