// Package auth authenticates console users against the HR API.
//
// Client performs password login, second-factor submission, OAuth2 redirect
// exchange and logout. It is the only writer of the session store apart from
// explicit Clear calls.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/metrics"
	"github.com/chimerakang/hrconsole-go/oauth2"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/chimerakang/hrconsole-go/token"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath        = "/api/v1/auth/login"
	loginTwoFAPath   = "/api/v1/auth/login/2fa"
	logoutPath       = "/api/v1/auth/logout"
	oauth2LogoutPath = "/api/v1/auth/oauth2/logout"

	// twoFactorMarker is the message the server sends in place of a token.
	twoFactorMarker = "2FA required"
)

// Status distinguishes the successful outcomes of a login.
type Status int

const (
	// OutcomeAuthenticated means a session was written to the store.
	OutcomeAuthenticated Status = iota + 1
	// OutcomeTwoFactorRequired means the credentials were accepted but a
	// verification code is needed. The store is untouched.
	OutcomeTwoFactorRequired
)

func (s Status) String() string {
	switch s {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeTwoFactorRequired:
		return "two_factor_required"
	}
	return "unknown"
}

// Outcome is the result of a successful login step.
type Outcome struct {
	Status  Status
	Session *console.Session
	// Message is the server's informational text, if any.
	Message string
}

// Client implements console.Authenticator.
type Client struct {
	rest    *rest.Client
	store   console.SessionStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	flows   *console.FlowGuard

	inflight console.InFlight
	sf       singleflight.Group
}

var _ console.Authenticator = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records login attempts, failures and logouts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAudit emits an audit event for every outcome.
func WithAudit(a *audit.Logger) Option {
	return func(c *Client) { c.audit = a }
}

// WithFlowGuard makes Login claim the flow guard for its duration.
func WithFlowGuard(g *console.FlowGuard) Option {
	return func(c *Client) { c.flows = g }
}

// New creates an auth Client writing sessions to store.
func New(r *rest.Client, store console.SessionStore, opts ...Option) *Client {
	c := &Client{
		rest:   r,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var loginKinds = rest.StatusKinds{
	http.StatusUnauthorized:    console.KindInvalidCredentials,
	http.StatusLocked:          console.KindAccountLocked,
	http.StatusTooManyRequests: console.KindRateLimited,
}

var twoFactorKinds = rest.StatusKinds{
	http.StatusBadRequest:      console.KindInvalidCode,
	http.StatusUnauthorized:    console.KindSessionExpired,
	http.StatusTooManyRequests: console.KindRateLimited,
}

// Login submits email and password. On OutcomeTwoFactorRequired nothing is
// written; the caller keeps the credentials for SubmitTwoFactorCode.
func (c *Client) Login(ctx context.Context, email, password string) (*Outcome, error) {
	email = strings.TrimSpace(email)
	if err := console.ValidateLoginForm(email, password); err != nil {
		return nil, c.fail(ctx, "login", audit.ActionLogin, email, err)
	}

	done, err := c.inflight.Begin("login")
	if err != nil {
		return nil, err
	}
	defer done()

	if c.flows != nil {
		release, err := c.flows.Acquire(console.FlowLogin)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	c.metrics.RecordLoginAttempt()
	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "login",
		Method:    http.MethodPost,
		Path:      loginPath,
		Body:      map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return nil, c.fail(ctx, "login", audit.ActionLogin, email, err)
	}
	if !resp.OK() {
		return nil, c.fail(ctx, "login", audit.ActionLogin, email, resp.Error(loginKinds))
	}

	body := gjson.ParseBytes(resp.Body)
	tok := body.Get("token").String()
	msg := body.Get("message").String()
	needsCode := body.Get("requiresTwoFactor").Bool() || msg == twoFactorMarker

	switch {
	case needsCode && tok != "":
		return nil, c.fail(ctx, "login", audit.ActionLogin, email,
			&console.Error{Kind: console.KindUnknown, Message: "ambiguous login response", Status: resp.Status})
	case needsCode:
		c.logger.Info("second factor required", zap.String("email", email))
		c.metrics.RecordTwoFactorEvent("challenge_required")
		c.audit.LogContext(ctx, audit.Event{UserEmail: email, Action: audit.ActionLogin, Result: audit.ResultTwoFactorRequired})
		return &Outcome{Status: OutcomeTwoFactorRequired, Message: msg}, nil
	}

	s, err := c.establish(ctx, email, resp)
	if err != nil {
		return nil, c.fail(ctx, "login", audit.ActionLogin, email, err)
	}
	c.logger.Info("login succeeded", zap.String("email", email), zap.String("role", string(s.Role)))
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, SessionID: s.SessionID, Action: audit.ActionLogin, Result: audit.ResultSuccess})
	return &Outcome{Status: OutcomeAuthenticated, Session: s, Message: msg}, nil
}

// SubmitTwoFactorCode completes a login that returned OutcomeTwoFactorRequired.
// The code's shape is checked before any network I/O.
func (c *Client) SubmitTwoFactorCode(ctx context.Context, email, password, code string) (*console.Session, error) {
	email = strings.TrimSpace(email)
	if err := console.ValidateVerificationCode(code); err != nil {
		return nil, c.fail(ctx, "login_2fa", audit.ActionLoginTwoFactor, email, err)
	}

	done, err := c.inflight.Begin("login_2fa")
	if err != nil {
		return nil, err
	}
	defer done()

	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "login_2fa",
		Method:    http.MethodPost,
		Path:      loginTwoFAPath,
		Body:      map[string]string{"email": email, "password": password, "twoFactorCode": code},
	})
	if err != nil {
		return nil, c.fail(ctx, "login_2fa", audit.ActionLoginTwoFactor, email, err)
	}
	if !resp.OK() {
		return nil, c.fail(ctx, "login_2fa", audit.ActionLoginTwoFactor, email, resp.Error(twoFactorKinds))
	}

	s, err := c.establish(ctx, email, resp)
	if err != nil {
		return nil, c.fail(ctx, "login_2fa", audit.ActionLoginTwoFactor, email, err)
	}
	c.metrics.RecordTwoFactorEvent("challenge_passed")
	c.logger.Info("second factor accepted", zap.String("email", email))
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, SessionID: s.SessionID, Action: audit.ActionLoginTwoFactor, Result: audit.ResultSuccess})
	return s, nil
}

// establish turns a token-bearing response into a stored session. Token and
// role are written together or not at all.
func (c *Client) establish(ctx context.Context, email string, resp *rest.Response) (*console.Session, error) {
	body := gjson.ParseBytes(resp.Body)
	tok := body.Get("token").String()
	if tok == "" {
		msg := rest.Message(resp.Body)
		if msg == "" {
			msg = "login response carried no token"
		}
		return nil, &console.Error{Kind: console.KindUnknown, Message: msg, Status: resp.Status}
	}

	role := console.ParseRole(body.Get("role").String())
	if !role.Known() {
		if claims, err := token.Decode(tok); err == nil {
			role = claims.Role
		}
	}
	if !role.Known() {
		return nil, &console.Error{Kind: console.KindUnknown, Message: "login response carried no recognised role", Status: resp.Status}
	}

	s := console.Session{
		Token:     tok,
		Role:      role,
		SessionID: body.Get("sessionId").String(),
		UserEmail: email,
	}
	// A caller that gave up while the response was in transit gets no session.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ExchangeOAuth2Redirect stores the session delivered by an identity-provider
// redirect. It performs no network I/O. The role comes from the token's role
// claim; a token without one yields a partial session.
func (c *Client) ExchangeOAuth2Redirect(ctx context.Context, params url.Values) (*Outcome, error) {
	r, err := oauth2.ParseRedirect(params)
	if err != nil {
		return nil, c.fail(ctx, "oauth2", audit.ActionOAuth2Login, params.Get(oauth2.ParamUser), err)
	}
	return c.storeRedirect(ctx, r)
}

// ExchangeOAuth2RedirectURL is ExchangeOAuth2Redirect for the full redirect URL
// as pasted by a user.
func (c *Client) ExchangeOAuth2RedirectURL(ctx context.Context, raw string) (*Outcome, error) {
	r, err := oauth2.ParseRedirectURL(raw)
	if err != nil {
		return nil, c.fail(ctx, "oauth2", audit.ActionOAuth2Login, "", err)
	}
	return c.storeRedirect(ctx, r)
}

func (c *Client) storeRedirect(ctx context.Context, r *oauth2.Redirect) (*Outcome, error) {
	s := console.Session{Token: r.Token, UserEmail: r.User}
	if claims, err := token.Decode(r.Token); err == nil {
		s.Role = claims.Role
	} else {
		c.logger.Warn("oauth2 token not decodable, storing partial session", zap.String("email", r.User))
	}
	if err := c.store.Set(ctx, s); err != nil {
		return nil, c.fail(ctx, "oauth2", audit.ActionOAuth2Login, r.User, err)
	}

	c.metrics.RecordLoginAttempt()
	c.logger.Info("oauth2 login stored", zap.String("email", r.User), zap.Bool("role_known", s.Role.Known()))
	c.audit.LogContext(ctx, audit.Event{UserEmail: r.User, Action: audit.ActionOAuth2Login, Result: audit.ResultSuccess})
	return &Outcome{Status: OutcomeAuthenticated, Session: &s}, nil
}

// Logout clears the stored session, then notifies the server with the captured
// token. The notification is best effort and its failure is never returned.
// With no stored session there is nothing to notify. Concurrent calls share
// one logout.
func (c *Client) Logout(ctx context.Context) error {
	_, err, _ := c.sf.Do("logout", func() (any, error) {
		return nil, c.logout(ctx)
	})
	return err
}

func (c *Client) logout(ctx context.Context) error {
	s, getErr := c.store.Get(ctx)
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	if getErr != nil || !s.Authenticated() {
		c.metrics.RecordLogout(false)
		return nil
	}

	req := rest.Request{
		Operation: "logout",
		Method:    http.MethodPost,
		Path:      logoutPath,
		Body:      map[string]string{"sessionId": s.SessionID},
		Token:     s.Token,
	}
	if s.SessionID == "" {
		// OAuth2 sessions carry no server session id.
		req.Operation = "oauth2_logout"
		req.Path = oauth2LogoutPath
		req.Body = map[string]string{"email": s.UserEmail}
	}

	notified := false
	resp, err := c.rest.Do(context.WithoutCancel(ctx), req)
	switch {
	case err != nil:
		c.logger.Warn("logout notification failed", zap.String("email", s.UserEmail), zap.Error(err))
	case !resp.OK():
		c.logger.Warn("logout notification rejected", zap.String("email", s.UserEmail), zap.Int("status", resp.Status))
	default:
		notified = true
	}
	c.metrics.RecordLogout(notified)
	c.audit.LogContext(ctx, audit.Event{UserEmail: s.UserEmail, SessionID: s.SessionID, Action: audit.ActionLogout, Result: audit.ResultSuccess})
	return nil
}

// Current returns the stored session, or nil.
func (c *Client) Current(ctx context.Context) (*console.Session, error) {
	return c.store.Get(ctx)
}

func (c *Client) fail(ctx context.Context, op, action, email string, err error) error {
	kind := console.KindOf(err)
	c.metrics.RecordFailure(op, kind.String())
	c.logger.Info("authentication failed",
		zap.String("operation", op),
		zap.String("email", email),
		zap.Stringer("kind", kind))
	c.audit.LogContext(ctx, audit.Event{UserEmail: email, Action: action, Result: audit.ResultFailure, Error: err.Error()})

	var ce *console.Error
	if errors.As(err, &ce) {
		return err
	}
	return &console.Error{Kind: console.KindUnknown, Message: err.Error(), Err: err}
}
