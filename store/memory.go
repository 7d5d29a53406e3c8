// Package store provides console.SessionStore implementations.
//
// Every implementation writes the whole session in one step, so readers observe
// either the previous session or the new one, never a token paired with a stale
// role.
package store

import (
	"context"
	"sync"

	console "github.com/chimerakang/hrconsole-go"
)

// Memory keeps the session in process memory. It does not survive restarts.
type Memory struct {
	mu      sync.RWMutex
	session *console.Session
}

// compile-time check
var _ console.SessionStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

// Get returns a copy of the stored session, or nil.
func (m *Memory) Get(_ context.Context) (*console.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

// Set replaces the stored session.
func (m *Memory) Set(_ context.Context, s console.Session) error {
	if err := check(s); err != nil {
		return err
	}
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

// Clear drops the stored session.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}

func check(s console.Session) error {
	if s.Token == "" {
		return &console.Error{Kind: console.KindInvalidFormat, Message: "store: session token is required"}
	}
	return nil
}
