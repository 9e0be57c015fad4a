package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh results
const (
	RefreshSuccess  = "success"
	RefreshRejected = "rejected"
	RefreshNetwork  = "network_error"
	RefreshBad      = "malformed"
	RefreshSkipped  = "already_refreshed"
)

// Authorized request outcomes
const (
	OutcomeOK            = "ok"
	OutcomeRetried       = "retried"
	OutcomeExpired       = "session_expired"
	OutcomeRefreshFailed = "refresh_failed"
	OutcomeNetwork       = "network_error"
)

// Metrics of the session layer. Nil *Metrics is valid and records nothing
type Metrics struct {
	registry *prometheus.Registry

	refresh    *prometheus.CounterVec
	authorized *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jumen",
			Name:      "refresh_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		authorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jumen",
			Name:      "authorized_requests_total",
			Help:      "Authorized gateway requests by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.refresh,
		m.authorized,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(result).Inc()
}

func (m *Metrics) AuthorizedRequest(outcome string) {
	if m == nil {
		return
	}
	m.authorized.WithLabelValues(outcome).Inc()
}

// Handler exposes metrics in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
