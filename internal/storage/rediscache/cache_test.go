// ABOUTME: Tests for the Redis read-through checkpoint cache
// ABOUTME: Live tests need REDIS_ADDR; the fallthrough test uses an unreachable server
package rediscache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage/sqlite"
)

func newBacking(t *testing.T) *sqlite.Storage {
	t.Helper()
	store, err := sqlite.NewStorageInMemory(sqlite.Options{})
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Identities().Upsert(context.Background(), models.Identity{Identity: "u1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return store
}

func TestStore_FallsThroughWhenRedisIsDown(t *testing.T) {
	backing := newBacking(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := Wrap(rdb, backing.Checkpoints(), time.Minute, nil)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	id, err := cache.PutLatest(ctx, "u1", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}
	cp, err := cache.GetLatest(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if cp == nil || cp.CheckpointID != id {
		t.Errorf("GetLatest() = %+v, want checkpoint %s", cp, id)
	}
}

func liveClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	return rdb
}

func TestStore_ReadThroughAndInvalidate(t *testing.T) {
	rdb := liveClient(t)
	backing := newBacking(t)
	cache := Wrap(rdb, backing.Checkpoints(), time.Minute, nil)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	thread := "u1"
	defer rdb.Del(ctx, cacheKey(thread))
	rdb.Del(ctx, cacheKey(thread))

	first, err := cache.PutLatest(ctx, thread, []byte(`{"n":1}`), nil)
	if err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}
	if _, err := cache.GetLatest(ctx, thread); err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if n, _ := rdb.Exists(ctx, cacheKey(thread)).Result(); n != 1 {
		t.Fatal("GetLatest() should populate the cache")
	}

	// A write through the cache must not leave the old checkpoint visible.
	second, err := cache.PutLatest(ctx, thread, []byte(`{"n":2}`), nil)
	if err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}
	cp, err := cache.GetLatest(ctx, thread)
	if err != nil || cp == nil {
		t.Fatalf("GetLatest() = %v, %v", cp, err)
	}
	if cp.CheckpointID != second || cp.CheckpointID == first {
		t.Errorf("GetLatest() = %s, want %s", cp.CheckpointID, second)
	}

	if err := cache.DeleteThread(ctx, thread); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	cp, err = cache.GetLatest(ctx, thread)
	if err != nil || cp != nil {
		t.Errorf("GetLatest() after delete = %v, %v; want nil", cp, err)
	}
}

func TestStore_StalePopulateIsDropped(t *testing.T) {
	rdb := liveClient(t)
	backing := newBacking(t)
	cache := Wrap(rdb, backing.Checkpoints(), time.Minute, nil)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	thread := "u1"
	defer rdb.Del(ctx, cacheKey(thread), genKey(thread))
	rdb.Del(ctx, cacheKey(thread), genKey(thread))

	if _, err := cache.PutLatest(ctx, thread, []byte(`{"n":1}`), nil); err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}

	// A reader misses, records the generation, and reads the old checkpoint...
	gen, err := cache.generation(ctx, thread)
	if err != nil {
		t.Fatalf("generation() error = %v", err)
	}
	old, err := backing.Checkpoints().GetLatest(ctx, thread)
	if err != nil || old == nil {
		t.Fatalf("backing GetLatest() = %v, %v", old, err)
	}

	// ...a writer commits and invalidates before the reader populates.
	newer, err := cache.PutLatest(ctx, thread, []byte(`{"n":2}`), nil)
	if err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}
	cache.populate(ctx, thread, gen, old)

	if n, _ := rdb.Exists(ctx, cacheKey(thread)).Result(); n != 0 {
		t.Error("populate with a stale generation should not write the cache")
	}
	cp, err := cache.GetLatest(ctx, thread)
	if err != nil || cp == nil {
		t.Fatalf("GetLatest() = %v, %v", cp, err)
	}
	if cp.CheckpointID != newer {
		t.Errorf("GetLatest() = %s, want %s", cp.CheckpointID, newer)
	}
}

func TestStore_DeleteInvalidatesRacingPopulate(t *testing.T) {
	rdb := liveClient(t)
	backing := newBacking(t)
	cache := Wrap(rdb, backing.Checkpoints(), time.Minute, nil)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	thread := "u1"
	defer rdb.Del(ctx, cacheKey(thread), genKey(thread))
	rdb.Del(ctx, cacheKey(thread), genKey(thread))

	if _, err := cache.PutLatest(ctx, thread, []byte(`{}`), nil); err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}
	gen, _ := cache.generation(ctx, thread)
	old, _ := backing.Checkpoints().GetLatest(ctx, thread)

	if err := cache.DeleteThread(ctx, thread); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	cache.populate(ctx, thread, gen, old)

	cp, err := cache.GetLatest(ctx, thread)
	if err != nil || cp != nil {
		t.Errorf("GetLatest() after delete = %v, %v; want nil", cp, err)
	}
}

func TestStore_ServesFromCache(t *testing.T) {
	rdb := liveClient(t)
	backing := newBacking(t)
	cache := Wrap(rdb, backing.Checkpoints(), time.Minute, nil)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()

	thread := "cache-only-" + uuid.NewString()
	defer rdb.Del(ctx, cacheKey(thread))

	seeded := models.Checkpoint{ThreadID: thread, CheckpointID: "seeded", Kind: "json"}
	if err := rdb.Set(ctx, cacheKey(thread), mustJSON(t, seeded), time.Minute).Err(); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	cp, err := cache.GetLatest(ctx, thread)
	if err != nil || cp == nil {
		t.Fatalf("GetLatest() = %v, %v", cp, err)
	}
	if cp.CheckpointID != "seeded" {
		t.Errorf("GetLatest() = %s, want cached entry", cp.CheckpointID)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	return data
}
