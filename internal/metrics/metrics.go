package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the auth counters.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Credential labels for validation counters.
const (
	CredentialSession = "session"
	CredentialAPIKey  = "api_key"
)

// Metrics holds the back office Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	LoginsTotal          *prometheus.CounterVec
	ValidationsTotal     *prometheus.CounterVec
	SessionsCreatedTotal prometheus.Counter
	SessionsRevokedTotal prometheus.Counter
	SessionsPrunedTotal  prometheus.Counter
	AccountsCreatedTotal prometheus.Counter
	DeactivationsTotal   prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_auth_logins_total",
				Help: "Username/password authentication attempts by result",
			},
			[]string{"result"},
		),
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_auth_validations_total",
				Help: "Credential validations by credential type and result",
			},
			[]string{"credential", "result"},
		),
		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_sessions_created_total",
			Help: "Sessions minted",
		}),
		SessionsRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_sessions_revoked_total",
			Help: "Sessions deleted by logout, revoke-all or deactivation",
		}),
		SessionsPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_sessions_pruned_total",
			Help: "Expired sessions removed by pruning",
		}),
		AccountsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_accounts_created_total",
			Help: "Administrator accounts provisioned",
		}),
		DeactivationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_accounts_deactivated_total",
			Help: "Administrator accounts deactivated",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.ValidationsTotal,
		m.SessionsCreatedTotal,
		m.SessionsRevokedTotal,
		m.SessionsPrunedTotal,
		m.AccountsCreatedTotal,
		m.DeactivationsTotal,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one completed request.
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveValidation(credential, result string) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(credential, result).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.Inc()
}

func (m *Metrics) SessionsRevoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevokedTotal.Add(float64(n))
}

func (m *Metrics) SessionsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsPrunedTotal.Add(float64(n))
}

func (m *Metrics) AccountCreated() {
	if m == nil {
		return
	}
	m.AccountsCreatedTotal.Inc()
}

func (m *Metrics) AccountDeactivated() {
	if m == nil {
		return
	}
	m.DeactivationsTotal.Inc()
}
