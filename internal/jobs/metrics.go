// Package jobmetrics holds the Prometheus collectors shared by worker handlers.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	deletions     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against registerer, or against the
// default Prometheus registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for job. A nil receiver yields a no-op tracker.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDeletions counts imported records removed by a deduplication pass.
func (m *Metrics) AddDeletions(pass string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deletions.WithLabelValues(pass).Add(float64(count))
}

// NotificationDelivered counts persisted notifications. Redelivered tasks that
// found their row already present are counted as duplicates.
func (m *Metrics) NotificationDelivered(created bool) {
	if m == nil {
		return
	}
	result := "created"
	if !created {
		result = "duplicate"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_jobs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_jobs_failures_total",
			Help: "Failed job executions by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workforce_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_dedup_deleted_total",
			Help: "Imported records deleted by the deduplicator, by pass.",
		}, []string{"pass"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_notifications_delivered_total",
			Help: "In-app notifications persisted by the worker, by result.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.deletions, m.notifications)
	return m
}
