package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/faultline/faultline/internal/core"
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultLockRetry   = 25 * time.Millisecond
)

// FileStateStore keeps each limiter's state in its own JSON file. The key is
// the file path.
type FileStateStore struct {
	LockTimeout time.Duration
	LockRetry   time.Duration
}

// NewFileStateStore returns a file-backed limiter state store.
func NewFileStateStore() *FileStateStore {
	return &FileStateStore{LockTimeout: defaultLockTimeout, LockRetry: defaultLockRetry}
}

// GetLimiterState reads the state file. A missing file yields nil state.
func (s *FileStateStore) GetLimiterState(ctx context.Context, path string) (*core.LimiterState, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("persistence file is required")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is caller configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rate limit state: %w", err)
	}

	var state core.LimiterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode rate limit state: %w", err)
	}
	return &state, nil
}

// UpdateLimiterState replaces the state file. The document is written to a
// sibling temp file first so a crash never leaves a truncated file behind.
func (s *FileStateStore) UpdateLimiterState(ctx context.Context, path string, state *core.LimiterState) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("persistence file is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	doc := *state
	doc.PersistenceFile = path
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write rate limit state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rate limit state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rate limit state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rate limit state: %w", err)
	}
	return nil
}

// LockLimiterState takes an advisory lock on <path>.lock.
func (s *FileStateStore) LockLimiterState(ctx context.Context, path string) (func() error, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	retry := s.LockRetry
	if retry <= 0 {
		retry = defaultLockRetry
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lock := flock.New(strings.TrimSpace(path) + ".lock")
	locked, err := lock.TryLockContext(lockCtx, retry)
	if err != nil {
		return nil, fmt.Errorf("lock rate limit state: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock rate limit state: %s is held by another process", lock.Path())
	}
	return lock.Unlock, nil
}

// ResetLimiterState removes the state file and its lock file.
func (s *FileStateStore) ResetLimiterState(ctx context.Context, path string) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, errors.New("persistence file is required")
	}

	removed := true
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("reset rate limit state: %w", err)
		}
		removed = false
	}
	_ = os.Remove(path + ".lock")
	return removed, nil
}
