package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(aiJobsProcessedTotal, aiJobRetries, aiJobDuration, queueDepth, queueRecovered, archivePruned)
}

var (
	aiJobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_jobs_processed_total",
			Help: "Total number of AI jobs processed, labeled by type and final status.",
		},
		[]string{"type", "status"}, // completed, failed, retrying, skipped
	)

	aiJobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_job_retries_total",
			Help: "Retries scheduled per job type.",
		},
		[]string{"type"},
	)

	aiJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"type"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_queue_jobs",
			Help: "Jobs per queue and state (waiting, delayed, active).",
		},
		[]string{"queue", "state"},
	)

	queueRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_queue_recovered_total",
			Help: "Jobs moved back to waiting, by reason (promoted, lease_expired).",
		},
		[]string{"queue", "reason"},
	)

	archivePruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_job_archive_pruned_total",
		Help: "Archived jobs deleted by the retention sweep.",
	})
)

func IncAIJob(jobType, status string) {
	aiJobsProcessedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
}

func IncJobRetry(jobType string) {
	aiJobRetries.WithLabelValues(norm(jobType)).Inc()
}

func ObserveJobDuration(jobType string, seconds float64) {
	aiJobDuration.WithLabelValues(norm(jobType)).Observe(seconds)
}

func SetQueueDepth(queue string, waiting, delayed, active int64) {
	queueDepth.WithLabelValues(norm(queue), "waiting").Set(float64(waiting))
	queueDepth.WithLabelValues(norm(queue), "delayed").Set(float64(delayed))
	queueDepth.WithLabelValues(norm(queue), "active").Set(float64(active))
}

func AddQueueRecovered(queue, reason string, n int) {
	if n > 0 {
		queueRecovered.WithLabelValues(norm(queue), norm(reason)).Add(float64(n))
	}
}

func AddArchivePruned(n int64) { archivePruned.Add(float64(n)) }
