package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB opens an in-memory SQLite database with the RBAC schema
// applied. The pool is pinned to a single connection because each
// SQLite :memory: connection is its own database.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// NewTestStore returns a store on an in-memory database with the
// built-in roles seeded.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(NewTestDB(t))
	if err := InitializeBuiltInRoles(context.Background(), store, nil); err != nil {
		t.Fatalf("failed to seed built-in roles: %v", err)
	}
	return store
}
