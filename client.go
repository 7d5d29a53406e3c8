// Package console provides the client-side authentication SDK for the HR
// administration console: session state, login with optional two-factor
// challenge, OAuth2 redirect handling, 2FA enrollment and security actions.
//
// The root package defines the data model, the error taxonomy and the
// interfaces; concrete implementations live in sub-packages and are injected
// via Option functions.
//
//	cfg := console.Config{BaseURL: baseURL, Timeout: 10 * time.Second}
//	st := store.NewFile(path)
//	api := rest.NewFromConfig(cfg, st)
//	client, err := console.NewClient(cfg,
//	    console.WithSessionStore(st),
//	    console.WithAuthenticator(auth.New(api, st)),
//	)
package console

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client bundles the session store and services used by the console front end.
type Client struct {
	config   Config
	logger   *zap.Logger
	store    SessionStore
	auth     Authenticator
	sessions SessionLister
	flows    *FlowGuard
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the address of the HR API, e.g. "http://localhost:9192".
	BaseURL string

	// Timeout bounds every API call. Default: 15 seconds. Transports built with
	// rest.NewFromConfig apply it.
	Timeout time.Duration
}

// DefaultTimeout is applied when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionStore sets the session store.
func WithSessionStore(s SessionStore) Option {
	return func(c *Client) { c.store = s }
}

// WithAuthenticator sets the login/logout implementation.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithSessionLister sets the active-session service.
func WithSessionLister(s SessionLister) Option {
	return func(c *Client) { c.sessions = s }
}

// WithFlowGuard shares a flow guard between the client's flows.
func WithFlowGuard(g *FlowGuard) Option {
	return func(c *Client) { c.flows = g }
}

// NewClient creates a console client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("console: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("console: BaseURL %q must be an absolute http(s) URL", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{config: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.flows == nil {
		c.flows = NewFlowGuard()
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *zap.Logger { return c.logger }

// Store returns the session store, or nil if not configured.
func (c *Client) Store() SessionStore { return c.store }

// Auth returns the authenticator, or nil if not configured.
func (c *Client) Auth() Authenticator { return c.auth }

// Sessions returns the active-session service, or nil if not configured.
func (c *Client) Sessions() SessionLister { return c.sessions }

// Flows returns the shared flow guard.
func (c *Client) Flows() *FlowGuard { return c.flows }

// Current returns the stored session, or nil when nobody is logged in.
func (c *Client) Current(ctx context.Context) (*Session, error) {
	if c.store == nil {
		return nil, fmt.Errorf("console: no session store configured")
	}
	return c.store.Get(ctx)
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{c.store, c.auth, c.sessions}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
