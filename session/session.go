// Package session lists and terminates a user's active server-side sessions.
package session

import (
	"context"
	"fmt"

	console "github.com/chimerakang/hrconsole-go"
	"golang.org/x/sync/singleflight"
)

// Backend defines the contract for pluggable session backends.
type Backend interface {
	// List returns the active sessions of userEmail.
	List(ctx context.Context, userEmail string) ([]console.SessionDescriptor, error)

	// Terminate ends one session by id.
	Terminate(ctx context.Context, sessionID string) error

	// TerminateAll ends every session of userEmail.
	TerminateAll(ctx context.Context, userEmail string) error
}

// Service implements console.SessionLister with a configurable backend.
type Service struct {
	backend Backend
	sf      singleflight.Group
}

var _ console.SessionLister = (*Service)(nil)

// New creates a new session Service with the given backend.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// List returns the active sessions of userEmail. Concurrent calls for the same
// user share one backend request.
func (s *Service) List(ctx context.Context, userEmail string) ([]console.SessionDescriptor, error) {
	if userEmail == "" {
		return nil, fmt.Errorf("console/session: userEmail cannot be empty")
	}

	v, err, _ := s.sf.Do(userEmail, func() (any, error) {
		return s.backend.List(ctx, userEmail)
	})
	if err != nil {
		return nil, fmt.Errorf("console/session: %w", err)
	}
	sessions := v.([]console.SessionDescriptor)
	return append([]console.SessionDescriptor(nil), sessions...), nil
}

// Terminate ends a specific session.
func (s *Service) Terminate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("console/session: sessionID cannot be empty")
	}

	if err := s.backend.Terminate(ctx, sessionID); err != nil {
		return fmt.Errorf("console/session: %w", err)
	}
	return nil
}

// TerminateAll ends every session of userEmail, including the caller's own.
func (s *Service) TerminateAll(ctx context.Context, userEmail string) error {
	if userEmail == "" {
		return fmt.Errorf("console/session: userEmail cannot be empty")
	}

	if err := s.backend.TerminateAll(ctx, userEmail); err != nil {
		return fmt.Errorf("console/session: %w", err)
	}
	return nil
}
