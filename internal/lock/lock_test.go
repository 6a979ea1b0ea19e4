package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestExclusiveLockConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarm.lock")

	l, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l.Path() != path {
		t.Fatalf("path = %q", l.Path())
	}

	if _, err := AcquireExclusive(path); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second acquire = %v, want ErrUnavailable", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	l2, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l2.Release()
}

func TestExclusiveLockCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "alarm.lock")
	l, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release()
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarm.lock")

	a, err := AcquireShared(path)
	if err != nil {
		t.Fatalf("first shared: %v", err)
	}
	b, err := AcquireShared(path)
	if err != nil {
		t.Fatalf("second shared: %v", err)
	}

	// An exclusive acquire must back off while readers hold the lock.
	if _, err := AcquireExclusive(path); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("exclusive over shared = %v, want ErrUnavailable", err)
	}

	a.Release()
	b.Release()
}
