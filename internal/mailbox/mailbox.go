// Package mailbox defines the mailbox/message store collaborator consumed by
// the alarm sweep: opening a mailbox read-locked, looking up a calendar item
// by resource name, and mapping its stored record to raw bytes.
//
// Two implementations ship: a filesystem store used by the daemon and an
// in-memory fake used by tests.
package mailbox

import "errors"

// ErrNotFound reports a mailbox, item or record that no longer exists. The
// sweep treats it as a permanent outcome; anything else is transient.
var ErrNotFound = errors.New("mailbox: not found")

// Item is one calendar item in a mailbox's index.
type Item struct {
	Resource  string `yaml:"resource"`
	UID       string `yaml:"uid"`
	MessageID string `yaml:"message_id"`
}

// Record is one stored message. Exactly one of File or BlobKey locates the
// body, depending on the configured backend.
type Record struct {
	MessageID string `yaml:"message_id"`
	Expunged  bool   `yaml:"expunged"`
	File      string `yaml:"file,omitempty"`
	BlobKey   string `yaml:"blob_key,omitempty"`
}

// Mailbox is an open, read-locked mailbox.
type Mailbox interface {
	ID() string
	UserID() string
	// DisplayName is the calendar's display annotation, falling back to the
	// last segment of the mailbox name.
	DisplayName() string
	// LookupResource finds a calendar item by resource name.
	LookupResource(name string) (*Item, error)
	// FindRecord locates the stored message behind an item.
	FindRecord(messageID string) (*Record, error)
	// MapBody returns the raw message bytes for a record.
	MapBody(rec *Record) ([]byte, error)
	Close() error
}

// Store opens mailboxes by id.
type Store interface {
	Open(mailboxID string) (Mailbox, error)
}
