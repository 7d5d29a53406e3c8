package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const logsPath = "/api/v1/admin/audit-logs"

// dateLayout is the format the server expects for startDate and endDate.
const dateLayout = "2006-01-02T15:04:05"

// Query narrows the server-side audit log fetch. Zero fields are omitted.
type Query struct {
	UserEmail string
	Start     time.Time
	End       time.Time
}

// Fetcher reads the server's audit trail.
type Fetcher struct {
	rest *rest.Client
}

// NewFetcher creates a Fetcher over the shared transport.
func NewFetcher(r *rest.Client) *Fetcher {
	return &Fetcher{rest: r}
}

// Fetch returns the audit entries matching q. A body that is not a JSON array
// yields an empty list.
func (f *Fetcher) Fetch(ctx context.Context, q Query) ([]console.AuditLogEntry, error) {
	params := map[string]string{}
	if q.UserEmail != "" {
		params["userEmail"] = q.UserEmail
	}
	if !q.Start.IsZero() {
		params["startDate"] = q.Start.Format(dateLayout)
	}
	if !q.End.IsZero() {
		params["endDate"] = q.End.Format(dateLayout)
	}

	resp, err := f.rest.Do(ctx, rest.Request{
		Operation:     "audit_logs",
		Method:        http.MethodGet,
		Path:          logsPath,
		Query:         params,
		Authenticated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("console/audit: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("console/audit: %w", resp.Error(rest.Authenticated(nil)))
	}

	if !gjson.ValidBytes(resp.Body) || !gjson.ParseBytes(resp.Body).IsArray() {
		return []console.AuditLogEntry{}, nil
	}
	var entries []console.AuditLogEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("console/audit: decode logs: %w", err)
	}
	return entries, nil
}

// Filter selects audit entries client-side. Text fields match as case-insensitive
// substrings; an empty field matches everything.
type Filter struct {
	Action     string
	EntityType string
	// Result matches the entry's status, e.g. "SUCCESS" or "FAILURE".
	Result string
	Start  time.Time
	End    time.Time
}

// Match reports whether e passes the filter.
func (f Filter) Match(e console.AuditLogEntry) bool {
	if !contains(e.Action, f.Action) || !contains(e.EntityType, f.EntityType) || !contains(e.Status, f.Result) {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// Apply returns the entries that pass the filter, preserving order.
func (f Filter) Apply(entries []console.AuditLogEntry) []console.AuditLogEntry {
	out := make([]console.AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Query returns the server-side part of the filter.
func (f Filter) Query(userEmail string) Query {
	return Query{UserEmail: userEmail, Start: f.Start, End: f.End}
}

func contains(value, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}
