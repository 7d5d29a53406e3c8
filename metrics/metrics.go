// Package metrics provides Prometheus metrics for console authentication operations.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for console operations.
type Metrics struct {
	enabled bool

	// Authentication metrics
	loginAttemptsTotal prometheus.Counter
	authFailuresTotal  *prometheus.CounterVec
	logoutTotal        *prometheus.CounterVec

	// Two-factor metrics
	twoFactorEventsTotal *prometheus.CounterVec

	// Transport metrics
	requestDuration *prometheus.HistogramVec
}

// New creates and registers console metrics on reg (prometheus.DefaultRegisterer when nil).
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m.loginAttemptsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "hrconsole_login_attempts_total",
		Help: "Total password and OAuth2 login attempts",
	})

	m.authFailuresTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "hrconsole_auth_failures_total",
		Help: "Total authentication and security-action failures",
	}, []string{"operation", "kind"})

	m.logoutTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "hrconsole_logout_total",
		Help: "Total logouts, labelled by whether the server was notified",
	}, []string{"notified"})

	m.twoFactorEventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "hrconsole_twofactor_events_total",
		Help: "Two-factor challenge and enrollment events",
	}, []string{"event"})

	m.requestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hrconsole_api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	return m
}

// Noop returns a disabled Metrics instance.
func Noop() *Metrics { return &Metrics{} }

// RecordLoginAttempt records a login attempt.
func (m *Metrics) RecordLoginAttempt() {
	if m == nil || !m.enabled {
		return
	}
	m.loginAttemptsTotal.Inc()
}

// RecordFailure records a failed operation with the error kind as label.
func (m *Metrics) RecordFailure(operation, kind string) {
	if m == nil || !m.enabled {
		return
	}
	m.authFailuresTotal.WithLabelValues(operation, kind).Inc()
}

// RecordLogout records a logout.
func (m *Metrics) RecordLogout(notified bool) {
	if m == nil || !m.enabled {
		return
	}
	m.logoutTotal.WithLabelValues(strconv.FormatBool(notified)).Inc()
}

// RecordTwoFactorEvent records a 2FA event such as "challenge_passed" or "enrollment_enabled".
func (m *Metrics) RecordTwoFactorEvent(event string) {
	if m == nil || !m.enabled {
		return
	}
	m.twoFactorEventsTotal.WithLabelValues(event).Inc()
}

// ObserveRequest records one API call duration. Status 0 marks a transport failure.
func (m *Metrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.requestDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
