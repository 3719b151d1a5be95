package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records execution metadata for scheduled jobs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewJobMetrics registers the scheduler metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of scheduled job runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_runs_total",
		Help: "Scheduled job runs by terminal status.",
	}, []string{"job", "status"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_retries_total",
		Help: "Retry attempts after a failed run.",
	}, []string{"job"})
	reg.MustRegister(duration, runs, retries)
	return &JobMetrics{
		duration: duration,
		runs:     runs,
		retries:  retries,
	}
}

// ObserveDuration records the duration for the named job.
func (j *JobMetrics) ObserveDuration(job string, duration time.Duration) {
	if j == nil || j.duration == nil {
		return
	}
	j.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncRun increments the run counter for the named job and terminal status.
func (j *JobMetrics) IncRun(job, status string) {
	if j == nil || j.runs == nil {
		return
	}
	j.runs.WithLabelValues(normalizeLabel(job), normalizeLabel(status)).Inc()
}

// IncRetry increments the retry counter for the named job.
func (j *JobMetrics) IncRetry(job string) {
	if j == nil || j.retries == nil {
		return
	}
	j.retries.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
