package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	outcomeFound        = "found"
	outcomeEmpty        = "empty"
	outcomeInvalid      = "invalid_request"
	outcomeLoginFailed  = "login_failed"
	outcomeRemoteFailed = "remote_failed"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sync_requests_total",
			Help: "Sync requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_sync_duration_seconds",
			Help:    "Time spent serving a sync request, portal round trips included.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) observe(outcome string, start time.Time) {
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}
