package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_enqueued_total",
			Help: "Total jobs enqueued by queue name",
		},
		[]string{"queue"},
	)

	jobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_completed_total",
			Help: "Total jobs completed by queue name",
		},
		[]string{"queue"},
	)

	jobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_retried_total",
			Help: "Total job retries scheduled by queue name",
		},
		[]string{"queue"},
	)

	jobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_failed_total",
			Help: "Total jobs exhausted or permanently failed by queue name",
		},
		[]string{"queue"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_job_duration_seconds",
			Help:    "Handler execution time by queue name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)

// RecordJobEnqueued increments the enqueue counter.
func RecordJobEnqueued(queue string) {
	jobsEnqueued.WithLabelValues(queue).Inc()
}

// RecordJobCompleted increments the completion counter.
func RecordJobCompleted(queue string) {
	jobsCompleted.WithLabelValues(queue).Inc()
}

// RecordJobRetried increments the retry counter.
func RecordJobRetried(queue string) {
	jobsRetried.WithLabelValues(queue).Inc()
}

// RecordJobFailed increments the permanent-failure counter.
func RecordJobFailed(queue string) {
	jobsFailed.WithLabelValues(queue).Inc()
}

// ObserveJobDuration records a handler execution time.
func ObserveJobDuration(queue string, seconds float64) {
	jobDuration.WithLabelValues(queue).Observe(seconds)
}
