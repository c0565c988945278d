package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the active-connection counter and request counters the
// data model requires (spec §4: "active-connection counter"); scraping the
// wrapped Registry is an external collaborator's job, not this package's.
type Metrics struct {
	Registry *prometheus.Registry

	activeConnections prometheus.Gauge
	requestsTotal      *prometheus.CounterVec
}

// NewMetrics registers the server's gauges/counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vortex",
			Name:      "active_connections",
			Help:      "Number of currently accepted, not-yet-closed connections.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vortex",
			Name:      "requests_total",
			Help:      "Total requests dispatched, labeled by method and status class.",
		}, []string{"method", "status_class"}),
	}
	reg.MustRegister(m.activeConnections, m.requestsTotal)
	return m
}

func (m *Metrics) ConnectionOpened() { m.activeConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.activeConnections.Dec() }

// RequestServed records one dispatched request's method and status class
// ("2xx", "4xx", ...).
func (m *Metrics) RequestServed(method string, status int) {
	m.requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 100 && status < 200:
		return "1xx"
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
