// ABOUTME: Tests for SQLite database connection and schema initialization
// ABOUTME: Verifies database creation, migrated schema, and connection pragmas
package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
)

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if db.conn == nil {
		t.Error("conn should not be nil")
	}

	if db.Path() != ":memory:" {
		t.Errorf("Path() = %v, want :memory:", db.Path())
	}
}

func TestSchemaInitialization(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	tables := append([]string{"migrations", "identities"}, ownedTables...)
	for _, table := range tables {
		var name string
		err := db.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s does not exist: %v", table, err)
		}
	}
}

func TestForeignKeysEnabledAfterOpen(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	var on int
	if err := db.conn.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys error = %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "subdir", "nested", "threadkeeper.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestReopenDoesNotReapplyMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "threadkeeper.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first := countRows(t, db, "SELECT COUNT(1) FROM migrations")
	_ = db.Close()

	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if got := countRows(t, db, "SELECT COUNT(1) FROM migrations"); got != first {
		t.Errorf("migrations rows = %d after reopen, want %d", got, first)
	}
}

func TestDefaultDBPath_UsesXDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-test")
	want := filepath.Join("/tmp/xdg-test", "threadkeeper", "threadkeeper.db")
	if got := DefaultDBPath(); got != want {
		t.Errorf("DefaultDBPath() = %s, want %s", got, want)
	}
}

func TestDefaultDBPath_FallsBackToXDGDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	want := filepath.Join(xdg.DataHome, "threadkeeper", "threadkeeper.db")
	if got := DefaultDBPath(); got != want {
		t.Errorf("DefaultDBPath() = %s, want %s", got, want)
	}
}
