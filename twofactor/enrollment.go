package twofactor

import (
	"context"
	"sync"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"go.uber.org/zap"
)

// State is a step of the enrollment flow.
type State int

const (
	StateIdle State = iota
	StateSetupRequested
	StateAwaitingVerification
	StateEnabled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetupRequested:
		return "setup_requested"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateEnabled:
		return "enabled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Enroller is the server side of enrollment. *API implements it.
type Enroller interface {
	Status(ctx context.Context) (*console.TwoFactorStatus, error)
	Setup(ctx context.Context) (*console.TwoFactorEnrollment, error)
	Enable(ctx context.Context, code string) error
}

// Enrollment walks an account from setup to enabled 2FA.
//
// Setup material lives only in the Enrollment and is dropped on success, on
// Cancel, and when the session expires. One server call runs at a time.
type Enrollment struct {
	api Enroller
	opt options

	mu       sync.Mutex
	state    State
	material *console.TwoFactorEnrollment
	enabled  bool
	busy     bool
	gen      uint64
	release  func()
}

// NewEnrollment creates an idle enrollment flow.
func NewEnrollment(api Enroller, opts ...Option) *Enrollment {
	return &Enrollment{api: api, opt: buildOptions(opts)}
}

// BeginSetup requests enrollment material. Allowed from Idle and Failed.
func (e *Enrollment) BeginSetup(ctx context.Context) (*console.TwoFactorEnrollment, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, console.ErrInFlight
	}
	if e.state != StateIdle && e.state != StateFailed {
		e.mu.Unlock()
		return nil, ErrState
	}
	if e.enabled {
		e.mu.Unlock()
		return nil, &console.Error{Kind: console.KindUnknown, Message: "two-factor authentication is already enabled"}
	}
	if e.release == nil {
		release, err := e.opt.acquire(console.FlowEnrollment)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.release = release
	}
	e.material = nil
	e.state = StateSetupRequested
	e.busy = true
	gen := e.gen
	e.mu.Unlock()

	m, err := e.api.Setup(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return nil, context.Canceled
	}
	e.busy = false
	if err != nil {
		e.state = StateFailed
		e.releaseLocked()
		e.opt.metrics.RecordTwoFactorEvent("enrollment_failed")
		e.opt.logger.Info("2fa setup failed", zap.String("email", e.opt.email), zap.Stringer("kind", console.KindOf(err)))
		return nil, err
	}
	e.material = m.Clone()
	e.state = StateAwaitingVerification
	e.opt.metrics.RecordTwoFactorEvent("enrollment_started")
	return m.Clone(), nil
}

// VerifyAndEnable confirms enrollment with code. A malformed code is rejected
// before any network call and leaves the state unchanged. A server rejection
// moves to Failed but keeps the material so the user can try another code.
func (e *Enrollment) VerifyAndEnable(ctx context.Context, code string) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return console.ErrInFlight
	}
	if e.material == nil || (e.state != StateAwaitingVerification && e.state != StateFailed) {
		e.mu.Unlock()
		return ErrState
	}
	if err := console.ValidateVerificationCode(code); err != nil {
		e.mu.Unlock()
		return err
	}
	e.busy = true
	gen := e.gen
	e.mu.Unlock()

	err := e.api.Enable(ctx, code)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return context.Canceled
	}
	e.busy = false
	if err != nil {
		e.state = StateFailed
		if console.KindOf(err) == console.KindSessionExpired {
			e.material = nil
			e.releaseLocked()
		}
		e.opt.metrics.RecordTwoFactorEvent("enrollment_failed")
		e.opt.audit.LogContext(ctx, audit.Event{UserEmail: e.opt.email, Action: audit.ActionEnableTwoFactor, Result: audit.ResultFailure, Error: err.Error()})
		return err
	}

	e.state = StateEnabled
	e.enabled = true
	e.material = nil
	e.releaseLocked()
	e.opt.metrics.RecordTwoFactorEvent("enrollment_enabled")
	e.opt.logger.Info("2fa enabled", zap.String("email", e.opt.email))
	e.opt.audit.LogContext(ctx, audit.Event{UserEmail: e.opt.email, Action: audit.ActionEnableTwoFactor, Result: audit.ResultSuccess})
	return nil
}

// Cancel abandons the flow from any non-terminal state, discarding all setup
// material. A call still in flight has its result ignored.
func (e *Enrollment) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateEnabled {
		return
	}
	if e.state != StateIdle || e.busy {
		e.opt.metrics.RecordTwoFactorEvent("enrollment_cancelled")
	}
	e.gen++
	e.busy = false
	e.material = nil
	e.state = StateIdle
	e.releaseLocked()
}

// Reconcile re-reads the server's 2FA status and returns it.
func (e *Enrollment) Reconcile(ctx context.Context) (bool, error) {
	st, err := e.api.Status(ctx)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = st.Enabled
	return st.Enabled, nil
}

// State returns the current step.
func (e *Enrollment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Enabled reports the account's 2FA status as last known to the flow. It turns
// true as soon as VerifyAndEnable succeeds.
func (e *Enrollment) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Material returns a copy of the held setup material, or nil.
func (e *Enrollment) Material() *console.TwoFactorEnrollment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.material.Clone()
}

func (e *Enrollment) releaseLocked() {
	if e.release != nil {
		e.release()
		e.release = nil
	}
}
