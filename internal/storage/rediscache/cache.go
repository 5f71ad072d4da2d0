// ABOUTME: Read-through Redis cache in front of a CheckpointStore
// ABOUTME: GetLatest is served from Redis when warm; every mutation invalidates the thread key
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harper/threadkeeper/internal/logger"
	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage"
)

const (
	keyCheckpoint = "threadkeeper:checkpoint:%s"
	keyGeneration = "threadkeeper:checkpoint:%s:gen"

	// generationTTL outlives any single read-through by a wide margin.
	generationTTL = 24 * time.Hour
)

var errStale = errors.New("cache generation changed")

// Options configures the cache
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Logger   *logger.Logger
}

// Store wraps a backing CheckpointStore. Redis failures are logged and the call
// falls through to the backing store; the cache never fails a request on its own.
type Store struct {
	rdb     redis.UniversalClient
	backing storage.CheckpointStore
	ttl     time.Duration
	log     *logger.Logger
}

var _ storage.CheckpointStore = (*Store)(nil)

// New connects to Redis and returns a cache over backing.
func New(ctx context.Context, backing storage.CheckpointStore, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return Wrap(rdb, backing, opts.TTL, opts.Logger), nil
}

// Wrap builds a cache on an existing client without checking connectivity.
func Wrap(rdb redis.UniversalClient, backing storage.CheckpointStore, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{rdb: rdb, backing: backing, ttl: ttl, log: log}
}

// Close closes the Redis client. The backing store is owned by the caller.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func cacheKey(threadID string) string {
	return fmt.Sprintf(keyCheckpoint, strings.TrimSpace(threadID))
}

func genKey(threadID string) string {
	return fmt.Sprintf(keyGeneration, strings.TrimSpace(threadID))
}

// GetLatest serves the cached checkpoint, or reads through and populates the cache.
// Absent checkpoints are not cached.
func (s *Store) GetLatest(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	if strings.TrimSpace(threadID) == "" {
		return s.backing.GetLatest(ctx, threadID)
	}
	key := cacheKey(threadID)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp models.Checkpoint
		if jerr := json.Unmarshal(raw, &cp); jerr == nil {
			return &cp, nil
		}
		s.log.Warn("discarding undecodable cached checkpoint", "thread_id", threadID)
	case errors.Is(err, redis.Nil):
	default:
		s.log.Warn("redis get failed, reading through", "thread_id", threadID, "error", err)
	}

	// The generation must be read before the backing store so a mutation that
	// lands in between is detected by populate.
	gen, genErr := s.generation(ctx, threadID)

	cp, err := s.backing.GetLatest(ctx, threadID)
	if err != nil || cp == nil {
		return cp, err
	}
	if genErr == nil {
		s.populate(ctx, threadID, gen, cp)
	}
	return cp, nil
}

// generation returns the thread's invalidation counter; a missing key is 0.
func (s *Store) generation(ctx context.Context, threadID string) (int64, error) {
	gen, err := s.rdb.Get(ctx, genKey(threadID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		s.log.Warn("redis generation read failed, not caching", "thread_id", threadID, "error", err)
		return 0, err
	}
	return gen, nil
}

// populate caches cp only if no invalidation happened since gen was read. The
// WATCH on the generation key aborts the SET if one races with it.
func (s *Store) populate(ctx context.Context, threadID string, gen int64, cp *models.Checkpoint) {
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	gk := genKey(threadID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(threadID), data, s.ttl)
			return nil
		})
		return err
	}, gk)
	switch {
	case err == nil:
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		s.log.Debug("skipping stale cache populate", "thread_id", threadID)
	default:
		s.log.Warn("redis set failed", "thread_id", threadID, "error", err)
	}
}

// invalidate bumps the generation and drops the cached entry in one transaction.
func (s *Store) invalidate(ctx context.Context, threadID string) {
	if strings.TrimSpace(threadID) == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	gk := genKey(threadID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gk)
		pipe.Expire(ctx, gk, generationTTL)
		pipe.Del(ctx, cacheKey(threadID))
		return nil
	})
	if err != nil {
		s.log.Warn("redis invalidate failed", "thread_id", threadID, "error", err)
	}
}

// Get is not cached.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	return s.backing.Get(ctx, threadID, checkpointID)
}

// PutLatest writes through and drops the cached entry.
func (s *Store) PutLatest(ctx context.Context, threadID string, payload, metadata []byte) (string, error) {
	id, err := s.backing.PutLatest(ctx, threadID, payload, metadata)
	if err == nil {
		s.invalidate(ctx, threadID)
	}
	return id, err
}

func (s *Store) ListRecent(ctx context.Context, threadID string, limit int, beforeCheckpointID string) ([]models.Checkpoint, error) {
	return s.backing.ListRecent(ctx, threadID, limit, beforeCheckpointID)
}

func (s *Store) PutWrites(ctx context.Context, threadID, taskID string, writes []models.Write) error {
	return s.backing.PutWrites(ctx, threadID, taskID, writes)
}

func (s *Store) ListWrites(ctx context.Context, threadID, checkpointID string) ([]models.PendingWrite, error) {
	return s.backing.ListWrites(ctx, threadID, checkpointID)
}

func (s *Store) PutBlob(ctx context.Context, threadID, blobID string, data []byte) error {
	return s.backing.PutBlob(ctx, threadID, blobID, data)
}

func (s *Store) GetBlob(ctx context.Context, threadID, checkpointID, blobID string) (*models.Blob, error) {
	return s.backing.GetBlob(ctx, threadID, checkpointID, blobID)
}

// DeleteThread deletes from the backing store and drops the cached entry.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	err := s.backing.DeleteThread(ctx, threadID)
	if err == nil {
		s.invalidate(ctx, threadID)
	}
	return err
}

// DeleteLatest deletes from the backing store and drops the cached entry.
func (s *Store) DeleteLatest(ctx context.Context, threadID string) error {
	err := s.backing.DeleteLatest(ctx, threadID)
	if err == nil {
		s.invalidate(ctx, threadID)
	}
	return err
}
