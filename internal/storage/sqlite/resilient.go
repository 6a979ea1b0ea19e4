package sqlite

import (
	"time"

	"github.com/mistakeknot/calalarmd/internal/core"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore decorates a Store with retry-on-lock and a circuit breaker,
// so a briefly contended or wedged database file degrades instead of failing
// every sweep outright.
type ResilientStore struct {
	inner storage.Store
	cb    *CircuitBreaker
	retry RetryConfig
}

// NewResilient wraps inner with default settings (breaker threshold 5,
// reset 30s).
func NewResilient(inner storage.Store) *ResilientStore {
	return &ResilientStore{
		inner: inner,
		cb:    NewCircuitBreaker(5, 30*time.Second),
		retry: DefaultRetryConfig(),
	}
}

func (r *ResilientStore) guard(fn func() error) error {
	return r.cb.Execute(func() error {
		return r.retry.Do(fn)
	})
}

func (r *ResilientStore) Insert(rec *core.AlarmRecord) (int64, error) {
	var id int64
	err := r.guard(func() error {
		var innerErr error
		id, innerErr = r.inner.Insert(rec)
		return innerErr
	})
	return id, err
}

func (r *ResilientStore) DeleteByID(id int64) error {
	return r.guard(func() error { return r.inner.DeleteByID(id) })
}

func (r *ResilientStore) DeleteByItem(mailboxID, resource string) error {
	return r.guard(func() error { return r.inner.DeleteByItem(mailboxID, resource) })
}

func (r *ResilientStore) DeleteByMailbox(mailboxID string) error {
	return r.guard(func() error { return r.inner.DeleteByMailbox(mailboxID) })
}

func (r *ResilientStore) DeleteByUserPrefix(userID string) error {
	return r.guard(func() error { return r.inner.DeleteByUserPrefix(userID) })
}

func (r *ResilientStore) SelectDueBefore(before time.Time) ([]core.AlarmRecord, error) {
	var out []core.AlarmRecord
	err := r.guard(func() error {
		var innerErr error
		out, innerErr = r.inner.SelectDueBefore(before)
		return innerErr
	})
	return out, err
}

// Close releases the inner reference directly; a failing close must not trip
// the breaker.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}

// BreakerState exposes the breaker state for diagnostics.
func (r *ResilientStore) BreakerState() string {
	return r.cb.State()
}
