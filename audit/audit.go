// Package audit records client-side authentication events and reads the
// server's audit trail.
package audit

import (
	"context"
	"sync"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"go.uber.org/zap"
)

// Actions emitted by the console.
const (
	ActionLogin            = "LOGIN"
	ActionLoginTwoFactor   = "LOGIN_2FA"
	ActionOAuth2Login      = "OAUTH2_LOGIN"
	ActionLogout           = "LOGOUT"
	ActionEnableTwoFactor  = "ENABLE_2FA"
	ActionDisableTwoFactor = "DISABLE_2FA"
	ActionChangePassword   = "CHANGE_PASSWORD"
	ActionTerminateSession = "TERMINATE_SESSION"
	ActionTerminateAll     = "TERMINATE_ALL_SESSIONS"
)

// Results.
const (
	ResultSuccess           = "SUCCESS"
	ResultFailure           = "FAILURE"
	ResultTwoFactorRequired = "TWO_FACTOR_REQUIRED"
)

// Event is one client-side authentication event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithZapHandler adds a handler that writes events as structured log lines.
func WithZapHandler(l *zap.Logger) Option {
	return func(lg *Logger) {
		lg.AddHandler(func(e Event) {
			fields := []zap.Field{
				zap.String("action", e.Action),
				zap.String("result", e.Result),
				zap.Time("at", e.Timestamp),
			}
			if e.UserEmail != "" {
				fields = append(fields, zap.String("user_email", e.UserEmail))
			}
			if e.SessionID != "" {
				fields = append(fields, zap.String("session_id", e.SessionID))
			}
			if e.RequestID != "" {
				fields = append(fields, zap.String("request_id", e.RequestID))
			}
			if e.Details != "" {
				fields = append(fields, zap.String("details", e.Details))
			}
			if e.Error != "" {
				fields = append(fields, zap.String("error", e.Error))
			}
			l.Info("audit", fields...)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates a new audit logger with buffered async emission.
// bufferSize: event queue buffer size (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		handlers: make([]Handler, 0),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(logger)
	}

	// Start async event processor
	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler to receive audit events. Call before the first Log.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log emits an audit event asynchronously. A nil Logger discards the event.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-l.done:
		// Logger is shutting down, event is dropped
		return
	default:
	}
	select {
	case l.queue <- event:
	case <-l.done:
	}
}

// LogContext is Log with the request id taken from ctx.
func (l *Logger) LogContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = console.RequestIDFromContext(ctx)
	}
	l.Log(event)
}

// process handles events from the queue.
func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.dispatch(event)
		case <-l.done:
			// Drain remaining events
			for {
				select {
				case event := <-l.queue:
					l.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) dispatch(event Event) {
	for _, h := range l.handlers {
		h(event)
	}
}

// Close flushes pending events and stops the logger. It is safe to call twice.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}
