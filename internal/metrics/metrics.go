// Package metrics exposes Prometheus counters for authentication events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginLocked             = "locked"
	LoginError              = "error"
)

// Session validation results
const (
	SessionValid   = "valid"
	SessionMissing = "missing"
	SessionExpired = "expired"
)

// Metrics holds the service counters. A nil *Metrics records nothing, so
// components can be built without a registry in tests.
type Metrics struct {
	LoginsTotal             *prometheus.CounterVec
	LockoutsTotal           prometheus.Counter
	SessionsCreatedTotal    prometheus.Counter
	SessionValidationsTotal *prometheus.CounterVec
	ResetRequestsTotal      *prometheus.CounterVec
	PasswordChangesTotal    *prometheus.CounterVec
	CleanupRemovedTotal     *prometheus.CounterVec
	CleanupFailuresTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers the counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionguard_lockouts_total",
			Help: "Accounts locked after repeated failures",
		}),
		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionguard_sessions_created_total",
			Help: "Sessions issued",
		}),
		SessionValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_session_validations_total",
			Help: "Session lookups by result",
		}, []string{"result"}),
		ResetRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_reset_requests_total",
			Help: "Password reset requests by result",
		}, []string{"result"}),
		PasswordChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_password_changes_total",
			Help: "Password changes by source and result",
		}, []string{"source", "result"}),
		CleanupRemovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_cleanup_removed_total",
			Help: "Rows removed by scheduled cleanup jobs",
		}, []string{"job"}),
		CleanupFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_cleanup_failures_total",
			Help: "Scheduled cleanup job failures",
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.LockoutsTotal,
		m.SessionsCreatedTotal,
		m.SessionValidationsTotal,
		m.ResetRequestsTotal,
		m.PasswordChangesTotal,
		m.CleanupRemovedTotal,
		m.CleanupFailuresTotal,
	)

	return m
}

// NewRegistry returns a registry carrying the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.Inc()
}

func (m *Metrics) SessionValidated(result string) {
	if m == nil {
		return
	}
	m.SessionValidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ResetRequested(result string) {
	if m == nil {
		return
	}
	m.ResetRequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) PasswordChanged(source, result string) {
	if m == nil {
		return
	}
	m.PasswordChangesTotal.WithLabelValues(source, result).Inc()
}

// CleanupRan records the outcome of one scheduled job run
func (m *Metrics) CleanupRan(job string, removed int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CleanupFailuresTotal.WithLabelValues(job).Inc()
		return
	}
	m.CleanupRemovedTotal.WithLabelValues(job).Add(float64(removed))
}
