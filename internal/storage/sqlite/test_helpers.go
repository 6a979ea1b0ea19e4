package sqlite

import "testing"

func NewSQLiteTest(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory()
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
