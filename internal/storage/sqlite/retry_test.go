package sqlite

import (
	"errors"
	"testing"
	"time"
)

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

func TestRetrySucceedsAfterLock(t *testing.T) {
	cfg := DefaultRetryConfig()
	var slept []time.Duration

	calls := 0
	err := cfg.do(func() error {
		calls++
		if calls < 3 {
			return errLocked
		}
		return nil
	}, func(d time.Duration) { slept = append(slept, d) })

	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(slept))
	}
	// Backoff doubles: second delay at least twice the base.
	if slept[0] < cfg.BaseDelay || slept[1] < 2*cfg.BaseDelay {
		t.Fatalf("delays = %v", slept)
	}
}

func TestRetryGivesUp(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := cfg.do(func() error {
		calls++
		return errLocked
	}, func(time.Duration) {})

	if !errors.Is(err, errLocked) {
		t.Fatalf("err = %v, want the locked error", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want initial + 3 retries", calls)
	}
}

func TestRetryPassesThroughOtherErrors(t *testing.T) {
	cfg := DefaultRetryConfig()
	boom := errors.New("constraint failed")

	calls := 0
	err := cfg.do(func() error {
		calls++
		return boom
	}, func(time.Duration) { t.Fatal("should not sleep") })

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
