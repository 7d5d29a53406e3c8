package twofactor

import (
	"errors"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/metrics"
	"go.uber.org/zap"
)

// ErrState is returned when an operation is not allowed in the flow's current state.
var ErrState = errors.New("twofactor: operation not allowed in current state")

type options struct {
	flows   *console.FlowGuard
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	email   string
}

// Option configures an Enrollment or a Challenge.
type Option func(*options)

// WithFlowGuard makes the flow hold the guard while it has transient state.
func WithFlowGuard(g *console.FlowGuard) Option {
	return func(o *options) { o.flows = g }
}

// WithLogger sets a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records flow events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudit emits audit events for flow outcomes.
func WithAudit(a *audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

// WithUserEmail labels audit events and logs with the account's email.
func WithUserEmail(email string) Option {
	return func(o *options) { o.email = email }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// acquire claims the flow guard if one is configured.
func (o *options) acquire(kind console.FlowKind) (func(), error) {
	if o.flows == nil {
		return func() {}, nil
	}
	return o.flows.Acquire(kind)
}
