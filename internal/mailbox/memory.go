package mailbox

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests, with per-mailbox error
// injection to exercise transient failure paths.
type MemStore struct {
	mu        sync.Mutex
	mailboxes map[string]*MemMailbox

	// OpenErr forces Open to fail with the given error for a mailbox id.
	OpenErr map[string]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		mailboxes: make(map[string]*MemMailbox),
		OpenErr:   make(map[string]error),
	}
}

// Add registers a mailbox and returns it for population.
func (s *MemStore) Add(id, userID, displayName string) *MemMailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := &MemMailbox{
		MailboxID: id,
		User:      userID,
		Name:      displayName,
		Items:     make(map[string]Item),
		Records:   make(map[string]Record),
		Bodies:    make(map[string][]byte),
	}
	s.mailboxes[id] = mb
	return mb
}

// Remove drops a mailbox so later opens report ErrNotFound.
func (s *MemStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mailboxes, id)
}

func (s *MemStore) Open(mailboxID string) (Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.OpenErr[mailboxID]; err != nil {
		return nil, err
	}
	mb, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, fmt.Errorf("%w: mailbox %s", ErrNotFound, mailboxID)
	}
	return mb, nil
}

// MemMailbox is the in-memory Mailbox. Error fields inject failures into
// individual lookup steps.
type MemMailbox struct {
	MailboxID string
	User      string
	Name      string
	Items     map[string]Item
	Records   map[string]Record
	Bodies    map[string][]byte

	FindErr error
	MapErr  error
}

// Put registers a calendar item with a stored body.
func (m *MemMailbox) Put(resource, uid string, body []byte) {
	msgID := "msg-" + resource
	m.Items[resource] = Item{Resource: resource, UID: uid, MessageID: msgID}
	m.Records[msgID] = Record{MessageID: msgID}
	m.Bodies[msgID] = body
}

// Expunge flags the record behind a resource as expunged.
func (m *MemMailbox) Expunge(resource string) {
	item, ok := m.Items[resource]
	if !ok {
		return
	}
	rec := m.Records[item.MessageID]
	rec.Expunged = true
	m.Records[item.MessageID] = rec
}

func (m *MemMailbox) ID() string          { return m.MailboxID }
func (m *MemMailbox) UserID() string      { return m.User }
func (m *MemMailbox) DisplayName() string { return m.Name }

func (m *MemMailbox) LookupResource(name string) (*Item, error) {
	if item, ok := m.Items[name]; ok {
		return &item, nil
	}
	return nil, fmt.Errorf("%w: resource %s", ErrNotFound, name)
}

func (m *MemMailbox) FindRecord(messageID string) (*Record, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	if rec, ok := m.Records[messageID]; ok {
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: record %s", ErrNotFound, messageID)
}

func (m *MemMailbox) MapBody(rec *Record) ([]byte, error) {
	if m.MapErr != nil {
		return nil, m.MapErr
	}
	if body, ok := m.Bodies[rec.MessageID]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("%w: body %s", ErrNotFound, rec.MessageID)
}

func (m *MemMailbox) Close() error { return nil }
