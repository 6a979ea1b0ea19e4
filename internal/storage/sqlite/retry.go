package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff for transient SQLite failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64
}

// DefaultRetryConfig: 7 retries, 50ms base, 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// Do runs fn, retrying with exponential backoff while it fails with a
// database-is-locked error.
func (cfg RetryConfig) Do(fn func() error) error {
	return cfg.do(fn, time.Sleep)
}

func (cfg RetryConfig) do(fn func() error, sleep func(time.Duration)) error {
	err := fn()
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err == nil || !isDBLocked(err) {
			return err
		}
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleep(delay + jitter)
		err = fn()
	}
	return err
}

func isDBLocked(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
