package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// File persists the session as a small JSON document, replaced atomically via
// rename on every write. It survives process restarts.
type File struct {
	path   string
	logger *zap.Logger
	mu     sync.RWMutex
}

// compile-time check
var _ console.SessionStore = (*File)(nil)

// FileOption configures a File store.
type FileOption func(*File)

// WithFileLogger sets the logger used to report unreadable session files.
func WithFileLogger(l *zap.Logger) FileOption {
	return func(f *File) { f.logger = l }
}

// NewFile returns a store backed by the file at path.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path, logger: zap.NewNop()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get reads the session file. A missing or unreadable file means no session.
func (f *File) Get(_ context.Context) (*console.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("console/store: read %s: %w", f.path, err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		f.logger.Warn("ignoring corrupt session file", zap.String("path", f.path), zap.Error(err))
		return nil, nil
	}
	return r.session(), nil
}

// Set writes s to a temporary file and renames it over the session file.
func (f *File) Set(_ context.Context, s console.Session) error {
	if err := check(s); err != nil {
		return err
	}
	data, err := json.Marshal(toRecord(s))
	if err != nil {
		return fmt.Errorf("console/store: encode session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("console/store: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("console/store: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("console/store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("console/store: write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("console/store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("console/store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("console/store: replace %s: %w", f.path, err)
	}
	return nil
}

// Clear removes the session file.
func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("console/store: remove %s: %w", f.path, err)
	}
	return nil
}
