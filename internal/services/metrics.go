package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the job engine exports on /metrics.
type Metrics struct {
	RowsProcessed   *prometheus.CounterVec
	UpstreamCalls   *prometheus.CounterVec
	QuotaExhausted  prometheus.Counter
	PublishFailures prometheus.Counter
	RunningJobs     prometheus.Gauge
	RowDuration     prometheus.Histogram
	ResumeSkipped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titlesync",
			Name:      "rows_processed_total",
			Help:      "Rows localized and checkpointed, by job kind.",
		}, []string{"kind"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titlesync",
			Name:      "translation_calls_total",
			Help:      "Translation upstream calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		QuotaExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titlesync",
			Name:      "quota_exhausted_total",
			Help:      "Jobs stopped because the translation quota ran out.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titlesync",
			Name:      "publish_failures_total",
			Help:      "Rows the CMS did not accept.",
		}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "titlesync",
			Name:      "running_jobs",
			Help:      "Jobs with an active run loop in this process.",
		}),
		RowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "titlesync",
			Name:      "row_duration_seconds",
			Help:      "Wall time of one row across all languages.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ResumeSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titlesync",
			Name:      "resume_skipped_total",
			Help:      "Interrupted jobs not resumed because their run lock was held.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RowsProcessed, m.UpstreamCalls, m.QuotaExhausted,
			m.PublishFailures, m.RunningJobs, m.RowDuration, m.ResumeSkipped)
	}
	return m
}
