package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for job activity.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsActive   prometheus.Gauge
	rateLimited  prometheus.Counter
	jobsExpired  prometheus.Counter
	creditsSpent prometheus.Counter
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunivo",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal state, by status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tunivo",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of a job from submission to terminal state.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"status"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tunivo",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently running.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tunivo",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Job submissions rejected by the per-user rate limit.",
		}),
		jobsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tunivo",
			Subsystem: "jobs",
			Name:      "expired_total",
			Help:      "Jobs removed by the retention janitor.",
		}),
		creditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tunivo",
			Subsystem: "ledger",
			Name:      "credits_committed_total",
			Help:      "Credits debited for finished jobs.",
		}),
	}
	reg.MustRegister(m.jobsTotal, m.jobDuration, m.jobsActive, m.rateLimited, m.jobsExpired, m.creditsSpent)
	return m
}

func (m *Metrics) jobStarted() { m.jobsActive.Inc() }

func (m *Metrics) jobFinished(status string, started time.Time) {
	m.jobsActive.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}
