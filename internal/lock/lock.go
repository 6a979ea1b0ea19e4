// Package lock provides the cross-process advisory lock that guarantees a
// single writer for the alarm database across the whole deployment.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrUnavailable is returned when another process already holds the lock.
var ErrUnavailable = errors.New("advisory lock held by another process")

// Lock is an exclusive file-based advisory lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireExclusive takes the named lock without blocking. It returns
// ErrUnavailable if any other process holds it.
func AcquireExclusive(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrUnavailable
	}
	return &Lock{fl: fl}, nil
}

// AcquireShared takes the named lock for reading, blocking until granted.
func AcquireShared(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("acquire shared lock %s: %w", path, err)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Releasing twice is an error from the underlying
// file lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Path reports the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}
