// Package sqlite implements the durable alarm store on modernc.org/sqlite.
//
// The database has exactly one logical owner per deployment: the first Open
// in a process takes an exclusive cross-process advisory lock and opens the
// file; later opens in the same process share the handle through a reference
// count. The handle is only torn down when the count reaches zero.
package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/calalarmd/internal/lock"
	"github.com/mistakeknot/calalarmd/internal/storage"
)

//go:embed schema.sql
var schema string

const (
	dbFilename   = "caldav_alarm.sqlite3"
	lockFilename = "caldav_alarm.lock"

	schemaVersion = 1
)

// upgradeStep is one ordered schema migration applied when opening a
// database created by an older version.
type upgradeStep struct {
	to    int
	stmts string
}

// upgrades holds every migration above version 1, in order. Append here when
// bumping schemaVersion.
var upgrades = []upgradeStep{}

// DB is the shared alarm store handle.
type DB struct {
	db   dbHandle
	lock *lock.Lock
	dir  string
}

var (
	openMu sync.Mutex
	shared *DB
	refs   int
)

// Dir is a storage.Opener that opens the alarm database under a directory,
// wrapped with retry-on-lock and a circuit breaker.
type Dir struct {
	Path string
}

func (d Dir) Open() (storage.Store, error) {
	db, err := Open(d.Path)
	if err != nil {
		return nil, err
	}
	return NewResilient(db), nil
}

// Open returns the process-wide alarm store handle, creating the database on
// first use. It fails with storage.ErrLockUnavailable when another process
// holds the advisory lock and storage.ErrStoreUnavailable when the file
// cannot be opened or migrated. While the handle is open, further opens must
// name the same directory.
func Open(dir string) (*DB, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if refs > 0 {
		// Every in-process open must name the same data directory; the
		// process holds exactly one store.
		if dir != shared.dir {
			return nil, fmt.Errorf("%w: already open at %s", storage.ErrStoreUnavailable, shared.dir)
		}
		refs++
		return shared, nil
	}

	l, err := lock.AcquireExclusive(filepath.Join(dir, lockFilename))
	if err != nil {
		if errors.Is(err, lock.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %s", storage.ErrLockUnavailable, dir)
		}
		// A lock file that cannot be created is a store problem, not a
		// held lock.
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	db, err := openFile(filepath.Join(dir, dbFilename))
	if err != nil {
		l.Release()
		return nil, err
	}

	shared = &DB{db: newQueryLogger(db), lock: l, dir: dir}
	refs = 1
	return shared, nil
}

func openFile(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir: %v", storage.ErrStoreUnavailable, err)
	}
	// foreign_keys rides in the DSN so every connection the pool opens
	// enforces the recipient cascade.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", storage.ErrStoreUnavailable, err)
	}
	// Single connection: the store has one writer by contract.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewInMemory opens a private in-memory store for tests, with no lock and no
// reference counting.
func NewInMemory() (*DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", storage.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: newQueryLogger(db)}, nil
}

// migrate creates the schema on a fresh database and applies any ordered
// upgrade steps on an old one.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("%w: version table: %v", storage.ErrStoreUnavailable, err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("%w: read version: %v", storage.ErrStoreUnavailable, err)
	}

	if version == 0 {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("%w: apply schema: %v", storage.ErrStoreUnavailable, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("%w: record version: %v", storage.ErrStoreUnavailable, err)
		}
		version = schemaVersion
	}

	for _, up := range upgrades {
		if up.to <= version {
			continue
		}
		if _, err := db.Exec(up.stmts); err != nil {
			return fmt.Errorf("%w: upgrade to v%d: %v", storage.ErrStoreUnavailable, up.to, err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, up.to); err != nil {
			return fmt.Errorf("%w: record v%d: %v", storage.ErrStoreUnavailable, up.to, err)
		}
		version = up.to
	}

	return nil
}

// Close releases one reference; the last reference closes the database and
// drops the advisory lock. Closing a handle other than the shared one is a
// programming error and panics.
func (d *DB) Close() error {
	if d.lock == nil {
		// in-memory test handle
		return d.db.Close()
	}

	openMu.Lock()
	defer openMu.Unlock()

	if d != shared {
		panic("sqlite: Close called with a stale alarm store handle")
	}

	refs--
	if refs > 0 {
		return nil
	}

	err := d.db.Close()
	if rerr := d.lock.Release(); err == nil {
		err = rerr
	}
	shared = nil
	return err
}

var _ storage.Store = (*DB)(nil)
