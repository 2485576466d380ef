// Package storagetest provides a migrated temporary database for tests.
package storagetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"subgate.io/subgate/internal/storage"
)

// NewDB creates a temporary SQLite database with every migration applied.
// The file lives in t.TempDir and is removed when the test ends.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", storage.DSN(path))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}
