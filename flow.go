package console

import "sync"

// FlowKind names an authentication flow that writes session state.
type FlowKind string

const (
	FlowNone       FlowKind = ""
	FlowLogin      FlowKind = "login"
	FlowChallenge  FlowKind = "two_factor_challenge"
	FlowEnrollment FlowKind = "two_factor_enrollment"
)

// FlowGuard admits at most one authentication flow at a time, so a 2FA enrollment
// and a login challenge cannot race to write conflicting session state.
type FlowGuard struct {
	mu     sync.Mutex
	active FlowKind
	seq    uint64
}

// NewFlowGuard returns an idle guard.
func NewFlowGuard() *FlowGuard { return &FlowGuard{} }

// Acquire claims the guard for kind. The returned release func is idempotent and
// only releases the claim it was issued for.
//
// A login may hand over to a challenge: acquiring FlowChallenge while FlowLogin is
// active is refused like any other conflict, so the caller must release the login first.
func (g *FlowGuard) Acquire(kind FlowKind) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != FlowNone {
		return nil, &Error{Kind: KindFlowConflict, Message: "another authentication flow is active: " + string(g.active)}
	}
	g.active = kind
	g.seq++
	mine := g.seq

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.seq == mine {
				g.active = FlowNone
			}
		})
	}, nil
}

// Active returns the kind currently holding the guard.
func (g *FlowGuard) Active() FlowKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// InFlight rejects duplicate submissions of the same action while one is outstanding.
type InFlight struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// Begin marks key as in flight. It fails with KindInFlight if key is already pending.
func (f *InFlight) Begin(key string) (done func(), err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending == nil {
		f.pending = make(map[string]struct{})
	}
	if _, ok := f.pending[key]; ok {
		return nil, &Error{Kind: KindInFlight, Message: key + " already in progress"}
	}
	f.pending[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.pending, key)
			f.mu.Unlock()
		})
	}, nil
}

// Pending reports whether key is in flight.
func (f *InFlight) Pending(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[key]
	return ok
}
