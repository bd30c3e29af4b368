package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes, used as metric labels and log states.
const (
	outcomeRejected  = "rejected"
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

type relayMetrics struct {
	submissions      *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	httpDuration     *prometheus.HistogramVec
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	factory := promauto.With(reg)
	return &relayMetrics{
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_submissions_total",
				Help: "Contact submissions by terminal outcome",
			},
			[]string{"outcome"}, // rejected, succeeded, failed
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contact_dispatch_duration_seconds",
				Help:    "Time spent handing a message to the mail transport",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *relayMetrics) recordOutcome(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *relayMetrics) recordDispatch(status string, d time.Duration) {
	m.dispatchDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *relayMetrics) recordHTTP(method, path string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}
