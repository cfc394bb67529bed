// Package metrics exposes Prometheus counters for the authorization server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tiny_oidc"

// Metrics groups the collectors recorded by services and the HTTP layer
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued      *prometheus.CounterVec
	securityEvents    *prometheus.CounterVec
	clientTransitions *prometheus.CounterVec
	oauthErrors       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New creates a Metrics registered on its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token responses issued, by grant type.",
		}, []string{"grant_type"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events such as refresh token reuse.",
		}, []string{"event"}),
		clientTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_status_transitions_total",
			Help:      "Client lifecycle transitions, by target status.",
		}, []string{"status"}),
		oauthErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_errors_total",
			Help:      "OAuth error responses, by endpoint and error code.",
		}, []string{"endpoint", "error"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}

	m.registry.MustRegister(
		m.tokensIssued,
		m.securityEvents,
		m.clientTransitions,
		m.oauthErrors,
		m.httpRequests,
		m.httpDuration,
		m.httpInflight,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Register adds an extra collector, ignoring duplicates
func (m *Metrics) Register(c prometheus.Collector) error {
	if m == nil {
		return nil
	}
	if err := m.registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) SecurityEvent(event string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ClientTransition(status string) {
	if m == nil {
		return
	}
	m.clientTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) OAuthError(endpoint, code string) {
	if m == nil {
		return
	}
	m.oauthErrors.WithLabelValues(endpoint, code).Inc()
}
