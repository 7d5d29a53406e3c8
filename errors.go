package console

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the console SDK.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidCredentials
	KindInvalidCode
	KindInvalidFormat
	KindAccountLocked
	KindRateLimited
	KindSessionExpired
	KindMismatch
	KindTooShort
	KindInvalidCurrent
	KindOAuth2Failed
	KindNoCredentials
	// KindInFlight is returned when the same action is submitted while a previous
	// submission is still outstanding.
	KindInFlight
	// KindFlowConflict is returned when another authentication flow holds the flow guard.
	KindFlowConflict
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindInvalidCredentials: "invalid_credentials",
	KindInvalidCode:        "invalid_code",
	KindInvalidFormat:      "invalid_format",
	KindAccountLocked:      "account_locked",
	KindRateLimited:        "rate_limited",
	KindSessionExpired:     "session_expired",
	KindMismatch:           "mismatch",
	KindTooShort:           "too_short",
	KindInvalidCurrent:     "invalid_current",
	KindOAuth2Failed:       "oauth2_failed",
	KindNoCredentials:      "no_credentials",
	KindInFlight:           "in_flight",
	KindFlowConflict:       "flow_conflict",
}

// String returns the snake_case name of the kind, used as a metrics label.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the typed failure returned by every console operation.
type Error struct {
	Kind ErrorKind
	// Message is the best human-readable description available.
	Message string
	// Status is the HTTP status that produced the error, 0 for client-side failures.
	Status int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind, so sentinels such as
// ErrRateLimited match any rate-limit failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnknown            = &Error{Kind: KindUnknown, Message: "request failed"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrInvalidCode        = &Error{Kind: KindInvalidCode, Message: "invalid verification code"}
	ErrInvalidFormat      = &Error{Kind: KindInvalidFormat, Message: "invalid input format"}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked, Message: "account is locked"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "too many attempts"}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired, Message: "session expired"}
	ErrMismatch           = &Error{Kind: KindMismatch, Message: "new password and confirm password do not match"}
	ErrTooShort           = &Error{Kind: KindTooShort, Message: fmt.Sprintf("password must be at least %d characters long", MinPasswordLength)}
	ErrInvalidCurrent     = &Error{Kind: KindInvalidCurrent, Message: "current password is incorrect"}
	ErrOAuth2Failed       = &Error{Kind: KindOAuth2Failed, Message: "oauth2 login failed"}
	ErrNoCredentials      = &Error{Kind: KindNoCredentials, Message: "no credentials in redirect"}
	ErrInFlight           = &Error{Kind: KindInFlight, Message: "request already in progress"}
	ErrFlowConflict       = &Error{Kind: KindFlowConflict, Message: "another authentication flow is active"}
)

// KindOf returns the kind of err, or KindUnknown for errors not produced by this SDK.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage renders err as text suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Request failed. Please try again."
	}
	switch e.Kind {
	case KindInvalidCredentials:
		return "Invalid email or password. Please try again."
	case KindAccountLocked:
		return "Account is locked due to too many failed attempts. Please contact support."
	case KindRateLimited:
		return "Too many attempts. Please wait a moment before trying again."
	case KindSessionExpired:
		return "Session expired. Please log in again."
	case KindInvalidCode:
		return "Invalid verification code. Please check your authenticator app and try again."
	case KindInvalidFormat:
		if e.Message != "" {
			return e.Message
		}
		return "Please enter a valid 6-digit code."
	case KindMismatch:
		return "New password and confirm password do not match."
	case KindTooShort:
		return fmt.Sprintf("Password must be at least %d characters long.", MinPasswordLength)
	case KindInvalidCurrent:
		return "Current password is incorrect."
	case KindOAuth2Failed:
		return "Google login failed. Please try again."
	case KindNoCredentials:
		return "No login credentials received. Please log in."
	case KindInFlight:
		return "A request is already in progress."
	case KindFlowConflict:
		return "Another sign-in or two-factor flow is in progress."
	}
	if e.Message != "" {
		return e.Message
	}
	return "Request failed. Please try again."
}

// codeKinds maps structured server error codes onto kinds.
var codeKinds = map[string]ErrorKind{
	"INVALID_CREDENTIALS":      KindInvalidCredentials,
	"ACCOUNT_LOCKED":           KindAccountLocked,
	"RATE_LIMITED":             KindRateLimited,
	"INVALID_CODE":             KindInvalidCode,
	"SESSION_EXPIRED":          KindSessionExpired,
	"INVALID_CURRENT_PASSWORD": KindInvalidCurrent,
	"PASSWORD_MISMATCH":        KindMismatch,
	"PASSWORD_TOO_SHORT":       KindTooShort,
}

// KindForCode returns the kind for a structured server error code.
func KindForCode(code string) (ErrorKind, bool) {
	k, ok := codeKinds[code]
	return k, ok
}
