// Package metrics provides Prometheus metrics for DecentDB's storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storage/transaction substrate
// (spec.md §2 components B, D, F, G).
type Metrics struct {
	// Pager / page cache (component B)
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CachePagesInUse     prometheus.Gauge

	// WAL (component D)
	WALFsyncDuration      prometheus.Histogram
	WALAppendBytesTotal   prometheus.Counter
	WALCheckpointDuration prometheus.Histogram
	WALCheckpointsTotal   *prometheus.CounterVec
	WALSizeBytes          prometheus.Gauge

	// Transaction manager (component G)
	TxnCommitsTotal      prometheus.Counter
	TxnRollbacksTotal    prometheus.Counter
	TxnCommitDuration    prometheus.Histogram
	ActiveSnapshots      prometheus.Gauge
	SchemaCookie         prometheus.Gauge

	// Trigram index (component F)
	TrigramQueriesTotal      *prometheus.CounterVec
	TrigramCandidatesTotal   prometheus.Counter
	TrigramSelectivityRatio  prometheus.Histogram

	// gRPC surface
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{ServerStartTime: time.Now()}

	m.CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_pager_cache_hits_total",
		Help: "Total page cache hits.",
	})
	m.CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_pager_cache_misses_total",
		Help: "Total page cache misses.",
	})
	m.CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_pager_cache_evictions_total",
		Help: "Total clean pages evicted from the page cache.",
	})
	m.CachePagesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_pager_cache_pages_in_use",
		Help: "Pages currently resident in the page cache.",
	})

	m.WALFsyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decentdb_wal_fsync_duration_seconds",
		Help:    "Duration of WAL fsync calls.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	m.WALAppendBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_wal_append_bytes_total",
		Help: "Total bytes appended to the WAL.",
	})
	m.WALCheckpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decentdb_wal_checkpoint_duration_seconds",
		Help:    "Duration of checkpoint runs.",
		Buckets: prometheus.DefBuckets,
	})
	m.WALCheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decentdb_wal_checkpoints_total",
		Help: "Total checkpoint runs by mode (passive|force) and outcome.",
	}, []string{"mode", "outcome"})
	m.WALSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_wal_size_bytes",
		Help: "Current size of the WAL sidecar file.",
	})

	m.TxnCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_txn_commits_total",
		Help: "Total committed write transactions.",
	})
	m.TxnRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_txn_rollbacks_total",
		Help: "Total rolled-back write transactions.",
	})
	m.TxnCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decentdb_txn_commit_duration_seconds",
		Help:    "Duration of commit() calls, including the fsync.",
		Buckets: prometheus.DefBuckets,
	})
	m.ActiveSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_txn_active_snapshots",
		Help: "Number of currently active reader snapshots.",
	})
	m.SchemaCookie = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_txn_schema_cookie",
		Help: "Current schema cookie value.",
	})

	m.TrigramQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decentdb_trigram_queries_total",
		Help: "Total trigram index queries by outcome (ok|not_selective|truncated).",
	}, []string{"outcome"})
	m.TrigramCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decentdb_trigram_candidates_total",
		Help: "Total candidate row-ids produced by trigram queries.",
	})
	m.TrigramSelectivityRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decentdb_trigram_selectivity_ratio",
		Help:    "Observed f_min/total_rows ratio at trigram query guardrail evaluation.",
		Buckets: []float64{.01, .02, .05, .1, .15, .25, .5, .75, 1},
	})

	m.GrpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decentdb_grpc_requests_total",
		Help: "Total number of gRPC requests.",
	}, []string{"method", "status"})
	m.GrpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decentdb_grpc_request_duration_seconds",
		Help:    "Duration of gRPC requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	m.GrpcRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_grpc_requests_in_flight",
		Help: "Number of gRPC requests currently being processed.",
	})

	m.ServerUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decentdb_server_uptime_seconds",
		Help: "Server uptime in seconds.",
	})

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordGrpcRequest records a gRPC request with its status.
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Hit/Miss/Eviction implement pkg/pager.CacheStats.
func (m *Metrics) Hit()      { m.CacheHitsTotal.Inc() }
func (m *Metrics) Miss()     { m.CacheMissesTotal.Inc() }
func (m *Metrics) Eviction() { m.CacheEvictionsTotal.Inc() }

// RecordCommit records a committed write transaction's duration.
func (m *Metrics) RecordCommit(d time.Duration) {
	m.TxnCommitsTotal.Inc()
	m.TxnCommitDuration.Observe(d.Seconds())
}

// RecordRollback records a rolled-back write transaction.
func (m *Metrics) RecordRollback() { m.TxnRollbacksTotal.Inc() }

// RecordCheckpoint records a checkpoint run's outcome and duration.
func (m *Metrics) RecordCheckpoint(mode, outcome string, d time.Duration) {
	m.WALCheckpointsTotal.WithLabelValues(mode, outcome).Inc()
	m.WALCheckpointDuration.Observe(d.Seconds())
}

// RecordTrigramQuery records a trigram query's outcome and selectivity.
func (m *Metrics) RecordTrigramQuery(outcome string, fMin, totalRows int) {
	m.TrigramQueriesTotal.WithLabelValues(outcome).Inc()
	if totalRows > 0 {
		m.TrigramSelectivityRatio.Observe(float64(fMin) / float64(totalRows))
	}
}
