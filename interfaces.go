package console

import "context"

// SessionStore is the single source of truth for whether a user is authenticated.
// Implementations: store.Memory, store.File, store.Redis.
//
// Set replaces the whole session at once; no reader may observe a token from one
// Set paired with the role of another.
type SessionStore interface {
	// Get returns the current session, or nil when no session is stored.
	Get(ctx context.Context) (*Session, error)

	// Set stores s, replacing any previous session.
	Set(ctx context.Context, s Session) error

	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Authenticator performs the login and logout exchanges with the server.
// Implementation: auth.Client.
type Authenticator interface {
	// SubmitTwoFactorCode completes a login that was answered with a 2FA challenge.
	SubmitTwoFactorCode(ctx context.Context, email, password, code string) (*Session, error)

	// Logout clears the local session and notifies the server on a best-effort basis.
	Logout(ctx context.Context) error
}

// SessionLister lists and terminates server-side sessions.
// Implementation: session.Service.
type SessionLister interface {
	// List returns the active sessions of the given user.
	List(ctx context.Context, userEmail string) ([]SessionDescriptor, error)

	// Terminate ends one session by id.
	Terminate(ctx context.Context, sessionID string) error

	// TerminateAll ends every session of the given user.
	TerminateAll(ctx context.Context, userEmail string) error
}
