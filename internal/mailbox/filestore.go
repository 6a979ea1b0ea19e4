package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/calalarmd/internal/blob"
	"github.com/mistakeknot/calalarmd/internal/lock"
)

const indexFilename = "mailbox.yaml"

// FileStore keeps one directory per mailbox under a root, each with a yaml
// index describing its items and records. Bodies live next to the index or,
// when a blob store is attached, in object storage.
type FileStore struct {
	root  string
	blobs blob.Store
}

// NewFileStore builds a store over root. blobs may be nil when every record
// carries a file body.
func NewFileStore(root string, blobs blob.Store) *FileStore {
	return &FileStore{root: root, blobs: blobs}
}

type index struct {
	DisplayName string   `yaml:"display_name"`
	UserID      string   `yaml:"user_id"`
	Items       []Item   `yaml:"items"`
	Records     []Record `yaml:"records"`
}

type fileMailbox struct {
	store *FileStore
	id    string
	dir   string
	idx   index
	rl    *lock.Lock
}

// Open opens the mailbox read-locked. A missing directory is ErrNotFound;
// an unreadable index is a transient error.
func (s *FileStore) Open(mailboxID string) (Mailbox, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(mailboxID))
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: mailbox %s", ErrNotFound, mailboxID)
		}
		return nil, fmt.Errorf("stat mailbox %s: %w", mailboxID, err)
	}

	rl, err := lock.AcquireShared(filepath.Join(dir, ".lock"))
	if err != nil {
		return nil, fmt.Errorf("lock mailbox %s: %w", mailboxID, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFilename))
	if err != nil {
		rl.Release()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: mailbox %s has no index", ErrNotFound, mailboxID)
		}
		return nil, fmt.Errorf("read mailbox index %s: %w", mailboxID, err)
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		rl.Release()
		return nil, fmt.Errorf("parse mailbox index %s: %w", mailboxID, err)
	}

	return &fileMailbox{store: s, id: mailboxID, dir: dir, idx: idx, rl: rl}, nil
}

func (m *fileMailbox) ID() string { return m.id }

func (m *fileMailbox) UserID() string {
	if m.idx.UserID != "" {
		return m.idx.UserID
	}
	// Internal dotted naming: user.<id>.<calendar>
	parts := strings.Split(m.id, ".")
	if len(parts) >= 2 && parts[0] == "user" {
		return parts[1]
	}
	return ""
}

func (m *fileMailbox) DisplayName() string {
	if m.idx.DisplayName != "" {
		return m.idx.DisplayName
	}
	if i := strings.LastIndex(m.id, "."); i >= 0 {
		return m.id[i+1:]
	}
	return m.id
}

func (m *fileMailbox) LookupResource(name string) (*Item, error) {
	for i := range m.idx.Items {
		if m.idx.Items[i].Resource == name {
			item := m.idx.Items[i]
			return &item, nil
		}
	}
	return nil, fmt.Errorf("%w: resource %s in %s", ErrNotFound, name, m.id)
}

func (m *fileMailbox) FindRecord(messageID string) (*Record, error) {
	for i := range m.idx.Records {
		if m.idx.Records[i].MessageID == messageID {
			rec := m.idx.Records[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: record %s in %s", ErrNotFound, messageID, m.id)
}

func (m *fileMailbox) MapBody(rec *Record) ([]byte, error) {
	switch {
	case rec.File != "":
		data, err := os.ReadFile(filepath.Join(m.dir, filepath.FromSlash(rec.File)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: body %s", ErrNotFound, rec.File)
			}
			return nil, fmt.Errorf("map body %s: %w", rec.File, err)
		}
		return data, nil
	case rec.BlobKey != "":
		if m.store.blobs == nil {
			return nil, fmt.Errorf("record %s needs an object store, none configured", rec.MessageID)
		}
		data, err := m.store.blobs.Get(context.Background(), rec.BlobKey)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return nil, fmt.Errorf("%w: blob %s", ErrNotFound, rec.BlobKey)
			}
			return nil, fmt.Errorf("map blob %s: %w", rec.BlobKey, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: record %s has no body", ErrNotFound, rec.MessageID)
	}
}

func (m *fileMailbox) Close() error {
	return m.rl.Release()
}
