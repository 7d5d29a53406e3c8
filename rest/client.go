// Package rest is the HTTP transport shared by every console service.
//
// It attaches the bearer token from the session store, surfaces status codes
// and bodies untouched, and never retries: replaying a login or a code
// submission could trip server-side lockout counters.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const tracerName = "github.com/chimerakang/hrconsole-go/rest"

// Observer receives one observation per completed API call.
// metrics.Metrics implements it.
type Observer interface {
	ObserveRequest(operation string, status int, elapsed time.Duration)
}

// Client performs API calls against the HR server.
type Client struct {
	http     *resty.Client
	store    console.SessionStore
	logger   *zap.Logger
	observer Observer
	baseURL  string

	timeout time.Duration
	hc      *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithObserver reports request durations, typically to Prometheus.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient replaces the underlying *http.Client (transport, TLS, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New creates a transport for baseURL that reads bearer tokens from store.
func New(baseURL string, store console.SessionStore, opts ...Option) *Client {
	c := &Client{
		store:   store,
		logger:  zap.NewNop(),
		baseURL: baseURL,
		timeout: console.DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	r := resty.New()
	if c.hc != nil {
		r = resty.NewWithClient(c.hc)
	}
	c.http = r.
		SetBaseURL(baseURL).
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json")
	return c
}

// NewFromConfig creates a transport for cfg.BaseURL bounded by cfg.Timeout, or
// console.DefaultTimeout when it is unset. Later options still apply.
func NewFromConfig(cfg console.Config, store console.SessionStore, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = console.DefaultTimeout
	}
	return New(cfg.BaseURL, store, append([]Option{WithTimeout(timeout)}, opts...)...)
}

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// BaseURL returns the API base address.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one API call.
type Request struct {
	// Operation names the call for logs, metrics and spans, e.g. "login".
	Operation string
	Method    string
	Path      string
	Body      any
	Query     map[string]string

	// Authenticated attaches the stored bearer token. A missing session fails with
	// KindSessionExpired before any network I/O.
	Authenticated bool

	// Token, when set, is used instead of the stored token.
	Token string
}

// Response is the raw outcome of an API call that reached the server.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Do executes req. A non-nil error means the call did not produce an HTTP response
// (no session, transport failure, cancelled context); HTTP error statuses are
// returned in the Response for the caller to classify.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	bearer := req.Token
	if bearer == "" && req.Authenticated {
		s, err := c.store.Get(ctx)
		if err != nil {
			return nil, &console.Error{Kind: console.KindUnknown, Message: "could not read session", Err: err}
		}
		if !s.Authenticated() {
			return nil, &console.Error{Kind: console.KindSessionExpired, Message: "Authentication required. Please log in again."}
		}
		bearer = s.Token
	}

	ctx, finish := startSpan(ctx, req.Operation, req.Method, c.baseURL, req.Path)
	start := time.Now()

	r := c.http.R().SetContext(ctx)
	if bearer != "" {
		r.SetAuthToken(bearer)
	}
	if id := console.RequestIDFromContext(ctx); id != "" {
		r.SetHeader("X-Request-ID", id)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}

	resp, err := r.Execute(req.Method, req.Path)
	elapsed := time.Since(start)
	if err != nil {
		finish(0, err)
		c.observe(req.Operation, 0, elapsed)
		c.logger.Warn("api call failed",
			zap.String("operation", req.Operation),
			zap.String("path", req.Path),
			zap.Error(err))
		return nil, &console.Error{Kind: console.KindUnknown, Message: fmt.Sprintf("network error: %v", err), Err: err}
	}

	out := &Response{Status: resp.StatusCode(), Body: resp.Body()}
	finish(out.Status, nil)
	c.observe(req.Operation, out.Status, elapsed)
	c.logger.Debug("api call",
		zap.String("operation", req.Operation),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", out.Status),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

func (c *Client) observe(op string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, status, elapsed)
	}
}

// startSpan opens a client span for one API call and returns a finish func that
// records status and error.
func startSpan(ctx context.Context, operation, method, baseURL, path string) (context.Context, func(int, error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "HTTP.hrconsole."+operation)
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(baseURL+path),
		attribute.String("http.target", path),
	)
	return ctx, func(status int, err error) {
		defer span.End()
		if status > 0 {
			span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		}
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= 400:
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		default:
			span.SetStatus(codes.Ok, "success")
		}
	}
}
