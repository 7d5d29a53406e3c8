package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/auth"
	"github.com/chimerakang/hrconsole-go/config"
	"github.com/chimerakang/hrconsole-go/employee"
	"github.com/chimerakang/hrconsole-go/guard"
	"github.com/chimerakang/hrconsole-go/logger"
	"github.com/chimerakang/hrconsole-go/metrics"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/chimerakang/hrconsole-go/security"
	"github.com/chimerakang/hrconsole-go/session"
	"github.com/chimerakang/hrconsole-go/store"
	"github.com/chimerakang/hrconsole-go/telemetry"
	"github.com/chimerakang/hrconsole-go/twofactor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const serviceName = "hrconsole"

var errUsage = errors.New("usage: hrconsole [flags] <command> [args]")

// app holds the wired services for one invocation.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	out    io.Writer
	errOut io.Writer
	prompt *prompter

	client    *console.Client
	store     console.SessionStore
	rest      *rest.Client
	flows     *console.FlowGuard
	auth      *auth.Client
	guard     *guard.Guard
	twoFactor *twofactor.API
	security  *security.Client

	metrics  *metrics.Metrics
	registry *prometheus.Registry
	audit    *audit.Logger
	tracing  *telemetry.Provider

	closers []func() error
}

func newApp(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (*app, []string, error) {
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	configPath := fs.String("config", "", "config file (yaml, json or .env)")
	fs.String("base-url", "", "HR API base URL")
	fs.String("store", "", "session store: file, redis or memory")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Env: cfg.Env, ServiceName: serviceName})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, out: stdout, errOut: stderr, prompt: newPrompter(stdin, stderr)}
	a.closers = append(a.closers, func() error { _ = log.Sync(); return nil })

	if cfg.TracingEnabled {
		p, err := telemetry.New(ctx, cfg.OTLPEndpoint, serviceName)
		if err != nil {
			return nil, nil, err
		}
		p.SetGlobal()
		a.tracing = p
		a.closers = append(a.closers, func() error { return p.Shutdown(context.Background()) })
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(cfg.MetricsEnabled, a.registry)
	if cfg.MetricsEnabled {
		a.closers = append(a.closers, func() error {
			return prometheus.WriteToTextfile(cfg.MetricsFile, a.registry)
		})
	}

	a.audit = audit.New(256, audit.WithZapHandler(log.Named("audit")))
	a.closers = append(a.closers, a.audit.Close)

	st, err := a.openStore()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	a.store = st

	clientCfg := console.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}
	a.rest = rest.NewFromConfig(clientCfg, st,
		rest.WithLogger(log.Named("rest")),
		rest.WithObserver(a.metrics))
	a.flows = console.NewFlowGuard()
	a.auth = auth.New(a.rest, st,
		auth.WithFlowGuard(a.flows),
		auth.WithLogger(log.Named("auth")),
		auth.WithMetrics(a.metrics),
		auth.WithAudit(a.audit))
	a.guard = guard.New(st)
	a.twoFactor = twofactor.NewAPI(a.rest)
	sessions := session.New(session.NewRESTBackend(a.rest))
	a.security = security.New(a.rest, st, a.twoFactor, sessions,
		employee.New(employee.NewRESTBackend(a.rest)),
		security.WithLogger(log.Named("security")),
		security.WithMetrics(a.metrics),
		security.WithAudit(a.audit))

	client, err := console.NewClient(clientCfg,
		console.WithLogger(log),
		console.WithSessionStore(st),
		console.WithAuthenticator(a.auth),
		console.WithSessionLister(sessions),
		console.WithFlowGuard(a.flows))
	if err != nil {
		a.close()
		return nil, nil, err
	}
	a.client = client
	// Closes the redis connection when that store is in use.
	a.closers = append(a.closers, client.Close)

	return a, fs.Args(), nil
}

func (a *app) openStore() (console.SessionStore, error) {
	switch a.cfg.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		return store.NewRedis(client, a.cfg.RedisKey), nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreFile:
		return store.NewFile(a.cfg.StorePath, store.WithFileLogger(a.log.Named("store"))), nil
	}
	return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
}

// twoFactorOptions wires a flow into the shared guard and observability.
func (a *app) twoFactorOptions(email string) []twofactor.Option {
	return []twofactor.Option{
		twofactor.WithFlowGuard(a.flows),
		twofactor.WithLogger(a.log.Named("twofactor")),
		twofactor.WithMetrics(a.metrics),
		twofactor.WithAudit(a.audit),
		twofactor.WithUserEmail(email),
	}
}

// requestContext tags every call of this invocation with one request id.
func (a *app) requestContext(ctx context.Context) context.Context {
	return console.WithRequestID(ctx, uuid.NewString())
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown", zap.Error(err))
		}
	}
}

func (a *app) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.errOut, errUsage)
	fmt.Fprintln(a.errOut, "\nCommands:")
	for _, name := range names {
		fmt.Fprintf(a.errOut, "  %-11s %s\n", name, commands[name].summary)
	}
}
