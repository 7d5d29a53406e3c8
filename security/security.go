// Package security performs authenticated account mutations: password change,
// 2FA disable and session termination, plus the reads that back the security
// settings screen.
package security

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/metrics"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/chimerakang/hrconsole-go/token"
	"go.uber.org/zap"
)

// ErrForbidden is returned when the stored role may not perform an action.
var ErrForbidden = errors.New("security: action requires an administrator role")

// TwoFactor is the subset of the 2FA API used here. *twofactor.API implements it.
type TwoFactor interface {
	Status(ctx context.Context) (*console.TwoFactorStatus, error)
	Disable(ctx context.Context, code string) error
}

// Employees resolves employee ids. *employee.Service implements it.
type Employees interface {
	IDByEmail(ctx context.Context, email string) (string, error)
}

// Client implements the security actions.
type Client struct {
	rest      *rest.Client
	store     console.SessionStore
	twoFactor TwoFactor
	sessions  console.SessionLister
	employees Employees
	logs      *audit.Fetcher

	logger   *zap.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	inflight console.InFlight
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAudit emits audit events for mutations.
func WithAudit(a *audit.Logger) Option {
	return func(c *Client) { c.audit = a }
}

// New creates a security Client.
func New(r *rest.Client, store console.SessionStore, tf TwoFactor, sessions console.SessionLister, employees Employees, opts ...Option) *Client {
	c := &Client{
		rest:      r,
		store:     store,
		twoFactor: tf,
		sessions:  sessions,
		employees: employees,
		logs:      audit.NewFetcher(r),
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var passwordKinds = rest.Authenticated(nil)

// ChangePassword replaces the account password. Mismatch and length are
// checked before any network call.
func (c *Client) ChangePassword(ctx context.Context, current, newPassword, confirm string) error {
	if newPassword != confirm {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, "", console.ErrMismatch)
	}
	if utf8.RuneCountInString(newPassword) < console.MinPasswordLength {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, "", console.ErrTooShort)
	}
	if current == "" {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, "",
			&console.Error{Kind: console.KindInvalidFormat, Message: "Current password is required."})
	}

	done, err := c.inflight.Begin("change_password")
	if err != nil {
		return err
	}
	defer done()

	email, err := c.subject(ctx)
	if err != nil {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, "", err)
	}
	id, err := c.employees.IDByEmail(ctx, email)
	if err != nil {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, email, err)
	}

	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "change_password",
		Method:    http.MethodPut,
		Path:      "/api/v1/employees/changePassword/" + url.PathEscape(id),
		Body: map[string]string{
			"oldPassword":     current,
			"newPassword":     newPassword,
			"confirmPassword": confirm,
		},
		Authenticated: true,
	})
	if err != nil {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, email, err)
	}
	if !resp.OK() {
		return c.fail(ctx, "change_password", audit.ActionChangePassword, email, passwordError(resp))
	}

	c.logger.Info("password changed", zap.String("email", email))
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, Action: audit.ActionChangePassword, Result: audit.ResultSuccess})
	return nil
}

// passwordError classifies a failed change. The server reports validation
// failures as free text, so known phrases are matched when no structured code
// or status mapping applies.
func passwordError(resp *rest.Response) *console.Error {
	e := resp.Error(passwordKinds)
	if e.Kind != console.KindUnknown {
		return e
	}
	switch {
	case strings.Contains(e.Message, "Old password is incorrect"):
		e.Kind = console.KindInvalidCurrent
	case strings.Contains(e.Message, "not match"):
		e.Kind = console.KindMismatch
	}
	return e
}

// DisableTwoFactor turns 2FA off. A fresh code is required as step-up
// authentication and is shape-checked before any network call.
func (c *Client) DisableTwoFactor(ctx context.Context, code string) error {
	if err := console.ValidateVerificationCode(code); err != nil {
		return c.fail(ctx, "disable_2fa", audit.ActionDisableTwoFactor, "", err)
	}

	done, err := c.inflight.Begin("disable_2fa")
	if err != nil {
		return err
	}
	defer done()

	if err := c.twoFactor.Disable(ctx, code); err != nil {
		return c.fail(ctx, "disable_2fa", audit.ActionDisableTwoFactor, c.emailOrEmpty(ctx), err)
	}
	c.metrics.RecordTwoFactorEvent("disabled")
	c.audit.LogContext(ctx, audit.Event{UserEmail: c.emailOrEmpty(ctx), Action: audit.ActionDisableTwoFactor, Result: audit.ResultSuccess})
	return nil
}

// TwoFactorStatus reports whether 2FA is enabled.
func (c *Client) TwoFactorStatus(ctx context.Context) (*console.TwoFactorStatus, error) {
	return c.twoFactor.Status(ctx)
}

// ActiveSessions lists the signed-in user's active sessions.
func (c *Client) ActiveSessions(ctx context.Context) ([]console.SessionDescriptor, error) {
	email, err := c.subject(ctx)
	if err != nil {
		return nil, err
	}
	return c.sessions.List(ctx, email)
}

// TerminateSession ends sessionID and returns the list as re-read from the
// server. A failed re-read after a successful termination returns its error.
func (c *Client) TerminateSession(ctx context.Context, sessionID string) ([]console.SessionDescriptor, error) {
	done, err := c.inflight.Begin("terminate_session:" + sessionID)
	if err != nil {
		return nil, err
	}
	defer done()

	email := c.emailOrEmpty(ctx)
	if err := c.sessions.Terminate(ctx, sessionID); err != nil {
		return nil, c.fail(ctx, "terminate_session", audit.ActionTerminateSession, email, err)
	}
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, SessionID: sessionID, Action: audit.ActionTerminateSession, Result: audit.ResultSuccess})
	return c.ActiveSessions(ctx)
}

// TerminateAllSessions ends every session of the signed-in user, the current
// one included, and clears the stored session.
func (c *Client) TerminateAllSessions(ctx context.Context) error {
	done, err := c.inflight.Begin("terminate_all_sessions")
	if err != nil {
		return err
	}
	defer done()

	email, err := c.subject(ctx)
	if err != nil {
		return err
	}
	if err := c.sessions.TerminateAll(ctx, email); err != nil {
		return c.fail(ctx, "terminate_all_sessions", audit.ActionTerminateAll, email, err)
	}
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, Action: audit.ActionTerminateAll, Result: audit.ResultSuccess})
	return c.store.Clear(ctx)
}

// AuditLogs fetches the server audit trail and filters it client-side.
// Only ADMIN and SUPER_ADMIN sessions may read it.
func (c *Client) AuditLogs(ctx context.Context, f audit.Filter) ([]console.AuditLogEntry, error) {
	s, err := c.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !s.Authenticated() {
		return nil, console.ErrSessionExpired
	}
	if !s.HasRole() || (s.Role != console.RoleAdmin && s.Role != console.RoleSuperAdmin) {
		return nil, ErrForbidden
	}

	entries, err := c.logs.Fetch(ctx, f.Query(""))
	if err != nil {
		return nil, err
	}
	return f.Apply(entries), nil
}

// subject returns the email carried by the stored token.
func (c *Client) subject(ctx context.Context) (string, error) {
	s, err := c.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if !s.Authenticated() {
		return "", &console.Error{Kind: console.KindSessionExpired, Message: "Authentication required. Please log in again."}
	}
	return token.Subject(s.Token)
}

func (c *Client) emailOrEmpty(ctx context.Context) string {
	email, _ := c.subject(ctx)
	return email
}

func (c *Client) fail(ctx context.Context, op, action, email string, err error) error {
	kind := console.KindOf(err)
	c.metrics.RecordFailure(op, kind.String())
	c.logger.Info("security action failed",
		zap.String("operation", op),
		zap.String("email", email),
		zap.Stringer("kind", kind))
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, Action: action, Result: audit.ResultFailure, Error: err.Error()})
	return err
}
