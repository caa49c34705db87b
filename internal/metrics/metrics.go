package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pools_api"

// Metrics holds the Prometheus collectors of the synchronizer and API.
type Metrics struct {
	// Sync health
	LastObservedBlock *prometheus.GaugeVec
	SyncErrorsTotal   *prometheus.CounterVec
	SyncPassesTotal   *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec

	// Data volume
	PoolsWritten   *prometheus.CounterVec
	TokensResolved *prometheus.CounterVec
	TokensPriced   *prometheus.CounterVec

	// Upstreams
	OracleRequests *prometheus.CounterVec

	// HTTP surface
	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LastObservedBlock: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_observed_block",
			Help:      "Block number of the last successful structural sync per network.",
		}, []string{"network"}),

		SyncErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Failed sync passes, labeled by network and failing stage.",
		}, []string{"network", "stage"}),

		SyncPassesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Structural sync passes started per network.",
		}, []string{"network"}),

		SyncDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync passes, labeled by kind (pools, prices).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network", "kind"}),

		PoolsWritten: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_written_total",
			Help:      "Pool records written to the cache.",
		}, []string{"network"}),

		TokensResolved: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_resolved_total",
			Help:      "Token metadata resolutions done on chain, labeled by whether defaults were used.",
		}, []string{"network", "partial"}),

		TokensPriced: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_priced_total",
			Help:      "Tokens returned by price refreshes, labeled by whether the oracle had data.",
		}, []string{"network", "priced"}),

		OracleRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      "Price oracle requests, labeled by outcome.",
		}, []string{"outcome"}),

		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "endpoint", "code"}),

		RequestLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request latencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// NewNop returns collectors registered nowhere, for tests and one-shot
// commands.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
