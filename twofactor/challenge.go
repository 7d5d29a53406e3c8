package twofactor

import (
	"context"
	"sync"

	console "github.com/chimerakang/hrconsole-go"
	"go.uber.org/zap"
)

// Submitter completes a login with a verification code. *auth.Client implements it.
type Submitter interface {
	SubmitTwoFactorCode(ctx context.Context, email, password, code string) (*console.Session, error)
}

// ChallengeState is the lifecycle of a Challenge.
type ChallengeState int

const (
	ChallengePending ChallengeState = iota
	ChallengeDone
	ChallengeExpired
	ChallengeAbandoned
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengePending:
		return "pending"
	case ChallengeDone:
		return "done"
	case ChallengeExpired:
		return "expired"
	case ChallengeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Challenge holds a login attempt between the password step and the code step.
//
// The credentials survive InvalidCode, RateLimited and malformed codes so the
// user can resubmit without re-entering the password. They are cleared on
// success, on SessionExpired and on Abandon. There is no retry limit and no
// automatic retry.
type Challenge struct {
	submitter Submitter
	opt       options

	mu      sync.Mutex
	attempt console.LoginAttempt
	state   ChallengeState
	busy    bool
	cancel  context.CancelFunc
	release func()
}

// NewChallenge creates a pending challenge for attempt.
func NewChallenge(s Submitter, attempt console.LoginAttempt, opts ...Option) *Challenge {
	return &Challenge{submitter: s, attempt: attempt, opt: buildOptions(opts)}
}

// Start claims the flow guard. Submit calls it implicitly.
func (c *Challenge) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Challenge) startLocked() error {
	if c.state != ChallengePending {
		return ErrState
	}
	if c.attempt.Empty() {
		return &console.Error{Kind: console.KindNoCredentials, Message: "no pending login to verify"}
	}
	if c.release != nil {
		return nil
	}
	release, err := c.opt.acquire(console.FlowChallenge)
	if err != nil {
		return err
	}
	c.release = release
	return nil
}

// Submit sends code with the held credentials.
func (c *Challenge) Submit(ctx context.Context, code string) (*console.Session, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, console.ErrInFlight
	}
	if err := c.startLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := console.ValidateVerificationCode(code); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	email, password := c.attempt.Email, c.attempt.Password
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.busy = true
	c.cancel = cancel
	c.mu.Unlock()

	s, err := c.submitter.SubmitTwoFactorCode(ctx, email, password, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.cancel = nil
	if c.state == ChallengeAbandoned {
		if err == nil {
			err = context.Canceled
		}
		return nil, err
	}

	switch kind := console.KindOf(err); {
	case err == nil:
		c.finishLocked(ChallengeDone)
		return s, nil
	case kind == console.KindSessionExpired:
		c.finishLocked(ChallengeExpired)
		c.opt.logger.Info("2fa challenge expired", zap.String("email", email))
	case kind == console.KindRateLimited:
		c.opt.metrics.RecordTwoFactorEvent("challenge_rate_limited")
	default:
		c.opt.metrics.RecordTwoFactorEvent("challenge_rejected")
	}
	return nil, err
}

// Abandon discards the held credentials, cancels a submit in progress and
// releases the flow guard.
func (c *Challenge) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.state == ChallengePending {
		c.finishLocked(ChallengeAbandoned)
	}
}

// State returns the challenge's lifecycle state.
func (c *Challenge) State() ChallengeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retained reports whether the login credentials are still held.
func (c *Challenge) Retained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.attempt.Empty()
}

// Email returns the email of the pending login, or "" once cleared.
func (c *Challenge) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt.Email
}

func (c *Challenge) finishLocked(s ChallengeState) {
	c.attempt.Clear()
	c.state = s
	if c.release != nil {
		c.release()
		c.release = nil
	}
}
