// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	cleanupFailures prometheus.Counter
}

// New registers the portal collectors on a private registry together with
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_contribution_mutations_total",
			Help: "Contribution create, status and delete operations by result.",
		}, []string{"action", "result"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_attachment_cleanup_failures_total",
			Help: "Attached files that could not be deleted.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.mutations,
		m.cleanupFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(method string, status int) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ContributionMutation(action, result string) {
	m.mutations.WithLabelValues(action, result).Inc()
}

// CleanupFailures is handed to the attachment manager.
func (m *Metrics) CleanupFailures() prometheus.Counter {
	return m.cleanupFailures
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
