package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(archiveConns, archiveEmptyAcquires, archiveQueryDuration) }

var (
	archiveConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_archive_db_connections",
			Help: "Connections of the job archive pool by state.",
		},
		[]string{"state"}, // total, idle, acquired, max
	)

	archiveEmptyAcquires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_archive_db_empty_acquires",
			Help: "Acquires that had to wait for a free connection since the pool opened.",
		},
	)

	archiveQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_archive_query_duration_seconds",
			Help:    "Latency of job archive statements.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"op", "outcome"}, // outcome: ok, not_found, error
	)
)

// PoolSnapshot is one reading of the archive connection pool.
type PoolSnapshot struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires              int64
}

func SetArchivePool(s PoolSnapshot) {
	archiveConns.WithLabelValues("total").Set(float64(s.Total))
	archiveConns.WithLabelValues("idle").Set(float64(s.Idle))
	archiveConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	archiveConns.WithLabelValues("max").Set(float64(s.Max))
	archiveEmptyAcquires.Set(float64(s.EmptyAcquires))
}

func ObserveArchiveQuery(op, outcome string, start time.Time) {
	archiveQueryDuration.WithLabelValues(norm(op), norm(outcome)).Observe(time.Since(start).Seconds())
}
