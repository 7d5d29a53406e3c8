package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDisabled(t *testing.T) {
	metrics := New(false, nil)

	if metrics == nil {
		t.Fatal("metrics should not be nil (noop)")
	}

	// These should not panic even though they're noop
	metrics.RecordLoginAttempt()
	metrics.RecordFailure("login", "rate_limited")
	metrics.RecordLogout(true)
	metrics.RecordTwoFactorEvent("challenge_passed")
	metrics.ObserveRequest("login", 200, time.Millisecond)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordLoginAttempt()
	m.ObserveRequest("login", 500, time.Second)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, reg)

	m.RecordLoginAttempt()
	m.RecordLoginAttempt()
	m.RecordFailure("login", "invalid_credentials")
	m.RecordLogout(false)
	m.RecordTwoFactorEvent("enrollment_enabled")

	if got := testutil.ToFloat64(m.loginAttemptsTotal); got != 2 {
		t.Errorf("login attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.authFailuresTotal.WithLabelValues("login", "invalid_credentials")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.logoutTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("logouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.twoFactorEventsTotal.WithLabelValues("enrollment_enabled")); got != 1 {
		t.Errorf("2fa events = %v, want 1", got)
	}
}

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, reg)

	m.ObserveRequest("login", 200, 10*time.Millisecond)
	m.ObserveRequest("login", 0, time.Second)

	if n := testutil.CollectAndCount(m.requestDuration); n != 2 {
		t.Errorf("histogram series = %d, want 2", n)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry owns its collectors, so two instances must not conflict.
	New(true, prometheus.NewRegistry())
	New(true, prometheus.NewRegistry())
}
