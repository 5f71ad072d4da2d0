// ABOUTME: Shared fixtures for SQLite storage tests
// ABOUTME: Provides a controllable clock and storage constructors with identities
package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harper/threadkeeper/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var epoch = time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

func newTestStorage(t *testing.T, opts Options) *Storage {
	t.Helper()
	store, err := NewStorageInMemory(opts)
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newFileStorage backs the store with a real file for concurrency tests.
func newFileStorage(t *testing.T, opts Options) *Storage {
	t.Helper()
	opts.Path = filepath.Join(t.TempDir(), "threadkeeper.db")
	store, err := NewStorage(opts)
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addIdentity(t *testing.T, store *Storage, identity, tz string) {
	t.Helper()
	if err := store.Identities().Upsert(context.Background(), models.Identity{Identity: identity, Timezone: tz}); err != nil {
		t.Fatalf("Upsert(%s) error = %v", identity, err)
	}
}

func countRows(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	return n
}
