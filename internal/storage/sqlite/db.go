// ABOUTME: SQLite database connection and lifecycle management
// ABOUTME: Uses modernc.org/sqlite for pure-Go SQLite support and migrates before first use
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/harper/threadkeeper/internal/logger"
	_ "modernc.org/sqlite"
)

const busyTimeoutMs = 5000

// DB wraps the single shared SQLite handle
type DB struct {
	conn *sql.DB
	path string
	log  *logger.Logger
	now  func() time.Time
}

// Option configures Open and OpenInMemory
type Option func(*DB)

// WithLogger sets the logger used by the migrator and stores
func WithLogger(l *logger.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// DefaultDataDir returns the default data directory under XDG_DATA_HOME.
func DefaultDataDir() string {
	// xdg.DataHome is resolved once at init; read the env first so it can change at runtime.
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = xdg.DataHome
	}
	return filepath.Join(dataHome, "threadkeeper")
}

// DefaultDBPath returns the default database file path
func DefaultDBPath() string {
	return filepath.Join(DefaultDataDir(), "threadkeeper.db")
}

// Open opens or creates a SQLite database at the given path and applies all migrations.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", path, busyTimeoutMs)
	return open(dsn, path, true, opts...)
}

// OpenInMemory creates a migrated in-memory SQLite database (for testing)
func OpenInMemory(opts ...Option) (*DB, error) {
	return open(":memory:?_pragma=foreign_keys(ON)", ":memory:", true, opts...)
}

// openUnmigrated opens a database without touching its schema (migrator tests).
func openUnmigrated(dsn, path string, opts ...Option) (*DB, error) {
	return open(dsn, path, false, opts...)
}

func open(dsn, path string, migrate bool, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer: one pooled connection serializes statements and keeps
	// :memory: databases alive across calls.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
		log:  logger.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	if migrate {
		if _, err := NewMigrator(db).ApplyAll(context.Background(), Migrations); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}
