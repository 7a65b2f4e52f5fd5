package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proxy's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	rateLimited prometheus.Counter
}

// NewMetrics creates and registers the proxy collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartaccount",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "JSON-RPC requests forwarded, by upstream and response status.",
			},
			[]string{"upstream", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smartaccount",
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream round-trip latency.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"upstream"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartaccount",
			Subsystem: "proxy",
			Name:      "inflight_requests",
			Help:      "Requests currently waiting on an upstream.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartaccount",
			Subsystem: "proxy",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limit.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.inFlight,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry so callers can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(upstream string, status int, start time.Time) {
	m.requests.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	if !start.IsZero() {
		m.duration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
	}
}
