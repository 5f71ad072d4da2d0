// ABOUTME: Unified Storage that opens the shared SQLite handle and builds every component
// ABOUTME: Migrations finish inside Open before any component can issue a query
package sqlite

import (
	"fmt"
	"time"

	"github.com/harper/threadkeeper/internal/logger"
)

// Options configures NewStorage
type Options struct {
	Path             string
	CheckpointRetain int
	DefaultTimezone  string
	BypassThrottle   bool
	DedupTTL         time.Duration
	BurstInterval    time.Duration
	Logger           *logger.Logger
	Clock            func() time.Time
}

// Storage owns the database handle and the components built on it
type Storage struct {
	db          *DB
	identities  *IdentityStore
	checkpoints *CheckpointStore
	ledger      *UsageLedger
	guard       *MessageGuard
}

// NewStorage opens (and migrates) the database at opts.Path, or the default path.
func NewStorage(opts Options) (*Storage, error) {
	path := opts.Path
	if path == "" {
		path = DefaultDBPath()
	}
	db, err := Open(path, WithLogger(opts.Logger), WithClock(opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newStorage(db, opts)
}

// NewStorageInMemory creates an in-memory storage (for testing)
func NewStorageInMemory(opts Options) (*Storage, error) {
	db, err := OpenInMemory(WithLogger(opts.Logger), WithClock(opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return newStorage(db, opts)
}

func newStorage(db *DB, opts Options) (*Storage, error) {
	identities := NewIdentityStore(db)
	ledger, err := NewUsageLedger(db, identities, LedgerOptions{
		DefaultTimezone: opts.DefaultTimezone,
		BypassThrottle:  opts.BypassThrottle,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{
		db:          db,
		identities:  identities,
		checkpoints: NewCheckpointStore(db, opts.CheckpointRetain),
		ledger:      ledger,
		guard:       NewMessageGuard(db, opts.DedupTTL, opts.BurstInterval),
	}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the shared database handle
func (s *Storage) DB() *DB { return s.db }

// Identities returns the identity directory
func (s *Storage) Identities() *IdentityStore { return s.identities }

// Checkpoints returns the thread checkpoint store
func (s *Storage) Checkpoints() *CheckpointStore { return s.checkpoints }

// Ledger returns the daily usage ledger
func (s *Storage) Ledger() *UsageLedger { return s.ledger }

// Guard returns the message deduplication and burst guard
func (s *Storage) Guard() *MessageGuard { return s.guard }
