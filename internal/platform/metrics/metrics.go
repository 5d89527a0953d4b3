// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestCount         *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	Submissions          *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	QueueJobs            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Submissions by final status and rejection code",
			}, []string{"outcome", "reason"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verification_duration_seconds",
				Help:    "Time spent in the verifier",
				Buckets: prometheus.DefBuckets,
			}, []string{"strategy"},
		),
		QueueJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_jobs_total",
				Help: "Queued verification jobs by result",
			}, []string{"result"},
		),
	}
	m.registry.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.Submissions,
		m.VerificationDuration,
		m.QueueJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSubmission counts a finished submission. Nil receivers are no-ops.
func (m *Metrics) ObserveSubmission(outcome, reason string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObserveVerification(strategy string, seconds float64) {
	if m == nil {
		return
	}
	m.VerificationDuration.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) ObserveJob(result string) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(result).Inc()
}
