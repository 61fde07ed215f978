package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
	injections    *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_relay_requests_total",
			Help: "Total number of proxied requests by model family and status.",
		}, []string{"family", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claude_relay_request_latency_ms",
			Help:    "Upstream request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"family", "status"}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_relay_enhance_injections_total",
			Help: "Fields injected during request enhancement, by family and kind.",
		}, []string{"family", "kind"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.injections)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(family string, status int, dur time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(family, s).Inc()
	m.latencyMs.WithLabelValues(family, s).Observe(float64(dur.Milliseconds()))
}

// ObserveInjection counts a single injected field, e.g. kind "tools",
// "system", "reminder", "max_tokens".
func (m *Metrics) ObserveInjection(family, kind string) {
	m.injections.WithLabelValues(family, kind).Inc()
}
