// Package storage defines the alarm store contract: the durable queue of
// pending alarm fires, plus an in-memory implementation for tests.
package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/calalarmd/internal/core"
)

var (
	// ErrLockUnavailable means another process holds the alarm database
	// lock; the whole operation must be retried later.
	ErrLockUnavailable = errors.New("alarm store lock unavailable")
	// ErrStoreUnavailable means the backing database could not be opened
	// or created.
	ErrStoreUnavailable = errors.New("alarm store unavailable")
)

// Store is the durable alarm queue. Implementations guarantee that Insert is
// atomic across the alarm row and its recipient rows, and that deletes
// cascade to recipients.
type Store interface {
	// Insert persists one pending fire and returns its assigned id.
	Insert(rec *core.AlarmRecord) (int64, error)
	DeleteByID(id int64) error
	DeleteByItem(mailboxID, resource string) error
	DeleteByMailbox(mailboxID string) error
	// DeleteByUserPrefix removes every alarm for mailboxes owned by the
	// given user.
	DeleteByUserPrefix(userID string) error
	// SelectDueBefore returns every record with NextFire at or before the
	// cutoff, recipients pre-loaded. No ordering is guaranteed.
	SelectDueBefore(before time.Time) ([]core.AlarmRecord, error)
	// Close releases the caller's reference to the store.
	Close() error
}

// Opener hands the sweep engine a store reference for the duration of one
// pass.
type Opener interface {
	Open() (Store, error)
}

// UserMailboxPrefix is the mailbox-name prefix owned by a user, in the
// dotted internal naming convention ("user.<id>.<calendar>").
func UserMailboxPrefix(userID string) string {
	return "user." + userID + "."
}

// InMemory is a non-durable Store for tests.
type InMemory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]core.AlarmRecord

	// FailInsert forces Insert to fail, for exercising best-effort
	// reschedule handling.
	FailInsert error
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[int64]core.AlarmRecord)}
}

func (m *InMemory) Insert(rec *core.AlarmRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsert != nil {
		return 0, m.FailInsert
	}
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	cp.Recipients = append([]string(nil), rec.Recipients...)
	m.rows[cp.ID] = cp
	return cp.ID, nil
}

func (m *InMemory) DeleteByID(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *InMemory) DeleteByItem(mailboxID, resource string) error {
	return m.deleteWhere(func(r core.AlarmRecord) bool {
		return r.MailboxID == mailboxID && r.Resource == resource
	})
}

func (m *InMemory) DeleteByMailbox(mailboxID string) error {
	return m.deleteWhere(func(r core.AlarmRecord) bool { return r.MailboxID == mailboxID })
}

func (m *InMemory) DeleteByUserPrefix(userID string) error {
	prefix := UserMailboxPrefix(userID)
	return m.deleteWhere(func(r core.AlarmRecord) bool { return strings.HasPrefix(r.MailboxID, prefix) })
}

func (m *InMemory) deleteWhere(match func(core.AlarmRecord) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rows {
		if match(r) {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *InMemory) SelectDueBefore(before time.Time) ([]core.AlarmRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AlarmRecord
	for _, r := range m.rows {
		if !r.NextFire.After(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) Close() error { return nil }

// Len reports the number of stored rows.
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// All returns every stored row ordered by id.
func (m *InMemory) All() []core.AlarmRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AlarmRecord
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Open lets a pre-opened InMemory serve as its own Opener in tests.
func (m *InMemory) Open() (Store, error) { return m, nil }
