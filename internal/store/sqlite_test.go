// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file creation, reopen persistence and the additive migrations

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if _, err := store.Create(ctx, sampleProfile(42, "alice"), nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	got, err := store.FindByExternalID(ctx, 42)
	if err != nil {
		t.Fatalf("FindByExternalID failed: %v", err)
	}
	if got.FullName != "Test alice" {
		t.Errorf("FullName = %q, want %q", got.FullName, "Test alice")
	}
}

func TestSQLiteStore_MigratesOldUsersTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id INTEGER NOT NULL UNIQUE,
		handle TEXT, full_name TEXT NOT NULL, phone TEXT NOT NULL,
		place_of_study TEXT NOT NULL, school TEXT NOT NULL, grade TEXT NOT NULL,
		email TEXT NOT NULL, login TEXT UNIQUE, password TEXT,
		is_banned INTEGER NOT NULL DEFAULT 0, is_staff INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("creating legacy table failed: %v", err)
	}
	db.Close()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore on legacy db failed: %v", err)
	}
	defer store.Close()

	created, err := store.Create(context.Background(), sampleProfile(7, "bob"), func(rowID int64) (Credentials, error) {
		return Credentials{Login: "user7", Password: "pw", PasswordHash: "hash"}, nil
	})
	if err != nil {
		t.Fatalf("Create after migration failed: %v", err)
	}
	if created.PasswordHash != "hash" || created.Score != 0 {
		t.Errorf("unexpected migrated profile: %+v", created)
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
