package sqlite

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards the store against a wedged database file: after
// threshold consecutive failures it rejects calls until resetTimeout has
// elapsed, then lets one probe through.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open with the reset timeout still
// pending.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case breakerOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = breakerHalfOpen
	case breakerClosed, breakerHalfOpen:
	}
	probing := cb.state == breakerHalfOpen
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if probing || cb.failures >= cb.threshold {
			cb.state = breakerOpen
		}
		return err
	}
	cb.state = breakerClosed
	cb.failures = 0
	return nil
}

// State reports the breaker state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
