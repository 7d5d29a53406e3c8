package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/chimerakang/hrconsole-go/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestLoggerEmitsToAllHandlers(t *testing.T) {
	var a, b collector
	logger := New(10, WithHandler(a.handle), WithHandler(b.handle))

	logger.Log(Event{Action: ActionLogin, Result: ResultSuccess, UserEmail: "a@corp.io"})
	require.NoError(t, logger.Close())

	require.Len(t, a.snapshot(), 1)
	require.Len(t, b.snapshot(), 1)
	assert.Equal(t, "a@corp.io", a.snapshot()[0].UserEmail)
}

func TestLoggerSetsTimestamp(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	before := time.Now()
	logger.Log(Event{Action: ActionLogout, Result: ResultSuccess})
	require.NoError(t, logger.Close())

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
}

func TestLoggerCloseFlushesQueue(t *testing.T) {
	var c collector
	logger := New(5, WithHandler(func(e Event) {
		time.Sleep(10 * time.Millisecond)
		c.handle(e)
	}))

	for i := 0; i < 5; i++ {
		logger.Log(Event{Action: ActionLogin, Result: ResultFailure})
	}
	require.NoError(t, logger.Close())
	assert.Len(t, c.snapshot(), 5)
}

func TestLoggerDropsAfterClose(t *testing.T) {
	var c collector
	logger := New(1, WithHandler(c.handle))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	logger.Log(Event{Action: ActionLogin})
	assert.Empty(t, c.snapshot())
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	logger.Log(Event{Action: ActionLogin})
	logger.LogContext(context.Background(), Event{Action: ActionLogin})
	assert.NoError(t, logger.Close())
}

func TestLogContextCarriesRequestID(t *testing.T) {
	var c collector
	logger := New(10, WithHandler(c.handle))

	ctx := console.WithRequestID(context.Background(), "req-12345")
	logger.LogContext(ctx, Event{Action: ActionChangePassword, Result: ResultFailure, Error: "current password is incorrect"})
	require.NoError(t, logger.Close())

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "req-12345", events[0].RequestID)
	assert.Equal(t, "current password is incorrect", events[0].Error)
}

func TestZapHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := New(10, WithZapHandler(zap.New(core)))

	logger.Log(Event{Action: ActionEnableTwoFactor, Result: ResultSuccess, UserEmail: "a@corp.io", SessionID: "s1"})
	require.NoError(t, logger.Close())

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, ActionEnableTwoFactor, fields["action"])
	assert.Equal(t, "a@corp.io", fields["user_email"])
	assert.Equal(t, "s1", fields["session_id"])
	assert.NotContains(t, fields, "error")
}

func sampleEntries() []console.AuditLogEntry {
	at := func(s string) console.Timestamp {
		ts, _ := time.Parse(time.RFC3339, s)
		return console.Timestamp{Time: ts}
	}
	return []console.AuditLogEntry{
		{ID: 1, Action: "LOGIN", EntityType: "User", Status: "SUCCESS", Timestamp: at("2026-01-01T09:00:00Z")},
		{ID: 2, Action: "LOGIN_FAILED", EntityType: "User", Status: "FAILURE", Timestamp: at("2026-01-02T09:00:00Z")},
		{ID: 3, Action: "UPDATE", EntityType: "Employee", Status: "SUCCESS", Timestamp: at("2026-01-03T09:00:00Z")},
	}
}

func ids(entries []console.AuditLogEntry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestFilterApply(t *testing.T) {
	jan2, _ := time.Parse(time.RFC3339, "2026-01-02T00:00:00Z")
	jan2end, _ := time.Parse(time.RFC3339, "2026-01-02T23:59:59Z")

	cases := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"empty matches all", Filter{}, []int64{1, 2, 3}},
		{"action substring case-insensitive", Filter{Action: "login"}, []int64{1, 2}},
		{"entity type", Filter{EntityType: "employee"}, []int64{3}},
		{"result", Filter{Result: "failure"}, []int64{2}},
		{"from", Filter{Start: jan2}, []int64{2, 3}},
		{"window", Filter{Start: jan2, End: jan2end}, []int64{2}},
		{"combined", Filter{Action: "LOGIN", Result: "SUCCESS"}, []int64{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(tc.filter.Apply(sampleEntries())))
		})
	}
}

func newFetcher(t *testing.T, h http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	st := store.NewMemory()
	require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", Role: console.RoleAdmin}))
	return NewFetcher(rest.New(srv.URL, st))
}

func TestFetchSendsQuery(t *testing.T) {
	var query map[string]string
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"userEmail": r.URL.Query().Get("userEmail"),
			"startDate": r.URL.Query().Get("startDate"),
			"endDate":   r.URL.Query().Get("endDate"),
		}
		_, _ = w.Write([]byte(`[{"id":7,"action":"LOGIN","entityType":"User","status":"SUCCESS","timestamp":"2026-01-01T09:00:00"}]`))
	})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries, err := f.Fetch(context.Background(), Query{UserEmail: "a@corp.io", Start: start})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ID)
	assert.Equal(t, 9, entries[0].Timestamp.Hour())
	assert.Equal(t, "a@corp.io", query["userEmail"])
	assert.Equal(t, "2026-01-01T00:00:00", query["startDate"])
	assert.Empty(t, query["endDate"])
}

func TestFetchNonArrayIsEmpty(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})
	entries, err := f.Fetch(context.Background(), Query{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestFetchUnauthorized(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := f.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, console.ErrSessionExpired)
}
