// Package metrics holds every Prometheus metric kissvdb exports, built the
// way storage-node's metrics.Metrics is: one struct of pre-registered
// collectors built once at startup via promauto. The collectors are
// exported fields that callers increment, set or observe directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector kissvdb exports under /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec

	KVGetTotal       prometheus.Counter
	KVPutTotal       prometheus.Counter
	KVDeleteTotal    prometheus.Counter
	KVCasConflicts   prometheus.Counter
	KVKeysTotal      prometheus.Gauge
	TTLExpiredTotal  prometheus.Counter

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntriesTotal   prometheus.Gauge

	WALAppendsTotal        prometheus.Counter
	WALAppendDuration      prometheus.Histogram
	WALSegmentsTotal       prometheus.Gauge
	WALCurrentSegmentBytes prometheus.Gauge
	SnapshotsTotal         prometheus.Counter
	SnapshotDuration       prometheus.Histogram

	VectorUpsertTotal   *prometheus.CounterVec
	VectorDeleteTotal   *prometheus.CounterVec
	VectorSearchTotal   *prometheus.CounterVec
	VectorSearchLatency *prometheus.HistogramVec
	VectorLiveCount     *prometheus.GaugeVec
	VectorTombstoneRatio *prometheus.GaugeVec
	VacuumRunsTotal     prometheus.Counter
	VacuumDuration      prometheus.Histogram

	SubscribersActive prometheus.Gauge
	SubscriberGapsTotal prometheus.Counter

	DiskUsagePercent    prometheus.Gauge
	DiskThrottledWrites prometheus.Counter
	DiskRejectedWrites  prometheus.Counter
}

// New constructs every collector against a fresh registry. Call once at
// startup; the /metrics handler serves Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		HTTPRequestsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests by route and status class.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: fac.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kissvdb", Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		KVGetTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "get_total", Help: "Total KV get calls.",
		}),
		KVPutTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "put_total", Help: "Total KV put calls.",
		}),
		KVDeleteTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "delete_total", Help: "Total KV delete calls.",
		}),
		KVCasConflicts: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "cas_conflicts_total", Help: "Total CAS precondition failures.",
		}),
		KVKeysTotal: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "keys_total", Help: "Current number of live keys.",
		}),
		TTLExpiredTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "kv", Name: "ttl_expired_total", Help: "Total keys removed by the TTL sweeper.",
		}),

		CacheHitsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "cache", Name: "hits_total", Help: "Total read-cache hits.",
		}),
		CacheMissesTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "cache", Name: "misses_total", Help: "Total read-cache misses.",
		}),
		CacheEvictionsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "cache", Name: "evictions_total", Help: "Total read-cache evictions.",
		}),
		CacheEntriesTotal: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "cache", Name: "entries_total", Help: "Current read-cache entry count.",
		}),

		WALAppendsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "wal", Name: "appends_total", Help: "Total records appended to the log.",
		}),
		WALAppendDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kissvdb", Subsystem: "wal", Name: "append_duration_seconds",
			Help: "Log append latency.", Buckets: prometheus.DefBuckets,
		}),
		WALSegmentsTotal: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "wal", Name: "segments_total", Help: "Current number of WAL segments on disk.",
		}),
		WALCurrentSegmentBytes: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "wal", Name: "current_segment_bytes", Help: "Size of the active WAL segment.",
		}),
		SnapshotsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "snapshot", Name: "total", Help: "Total snapshots written.",
		}),
		SnapshotDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kissvdb", Subsystem: "snapshot", Name: "duration_seconds",
			Help: "Snapshot write latency.", Buckets: prometheus.DefBuckets,
		}),

		VectorUpsertTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "upsert_total", Help: "Total vector upserts by collection.",
		}, []string{"collection"}),
		VectorDeleteTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "delete_total", Help: "Total vector deletes by collection.",
		}, []string{"collection"}),
		VectorSearchTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "search_total", Help: "Total vector searches by collection and mode.",
		}, []string{"collection", "mode"}),
		VectorSearchLatency: fac.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "search_duration_seconds",
			Help: "Vector search latency by collection and mode.", Buckets: prometheus.DefBuckets,
		}, []string{"collection", "mode"}),
		VectorLiveCount: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "live_count", Help: "Current live vector count by collection.",
		}, []string{"collection"}),
		VectorTombstoneRatio: fac.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "tombstone_ratio", Help: "Current tombstone ratio by collection.",
		}, []string{"collection"}),
		VacuumRunsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "vacuum_runs_total", Help: "Total vacuum runs that rewrote a collection.",
		}),
		VacuumDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kissvdb", Subsystem: "vector", Name: "vacuum_duration_seconds",
			Help: "Vacuum run latency.", Buckets: prometheus.DefBuckets,
		}),

		SubscribersActive: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "stream", Name: "subscribers_active", Help: "Current number of active event stream subscribers.",
		}),
		SubscriberGapsTotal: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "stream", Name: "subscriber_gaps_total", Help: "Total gap events emitted to subscribers.",
		}),

		DiskUsagePercent: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "kissvdb", Subsystem: "disk", Name: "usage_percent", Help: "Current data directory filesystem usage percent.",
		}),
		DiskThrottledWrites: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "disk", Name: "throttled_writes_total", Help: "Total writes rejected due to disk throttling.",
		}),
		DiskRejectedWrites: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "kissvdb", Subsystem: "disk", Name: "rejected_writes_total", Help: "Total writes rejected due to the disk circuit breaker.",
		}),
	}
}
