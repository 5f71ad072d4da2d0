// ABOUTME: Tests for the composition root
// ABOUTME: Opens a file-backed store from config and exercises the wired gatekeeper
package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/threadkeeper/internal/config"
	"github.com/harper/threadkeeper/internal/core"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:           filepath.Join(t.TempDir(), "tk.db"),
		CheckpointRetain: 1,
		OpenRetries:      1,
		OpenRetryDelay:   time.Millisecond,
		DefaultTimezone:  "UTC",
		DedupTTL:         time.Hour,
		BurstInterval:    time.Second,
		RedisTTL:         time.Minute,
	}
}

func TestOpen(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	d, err := a.Gatekeeper.Admit(context.Background(), core.Inbound{MessageID: "m1", Identity: "u1"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !d.FirstOfDay {
		t.Errorf("Admit() = %+v, want first of day", d)
	}
}

func TestOpen_UnreachableRedisFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	a, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.cache != nil {
		t.Error("cache should be disabled when redis is unreachable")
	}
	if a.Checkpoints != a.Store.Checkpoints() {
		t.Error("checkpoints should be the SQLite store when the cache is disabled")
	}
}

func TestOpen_BadPathFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(blocker, "tk.db")

	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Error("Open() should fail for an unusable path")
	}
}
