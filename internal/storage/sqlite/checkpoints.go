// ABOUTME: Thread checkpoint store: one current checkpoint per thread plus pending writes and blobs
// ABOUTME: Replace-on-write by default; a larger retention keeps that many newest checkpoints
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// CheckpointStore handles checkpoint persistence. Writes to a single thread are
// last-write-wins by created_at; the store does not serialize concurrent writers per thread.
type CheckpointStore struct {
	db     *DB
	retain int
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a CheckpointStore keeping retain checkpoints per thread
// (values below 1 mean 1, i.e. replace-on-write).
func NewCheckpointStore(db *DB, retain int) *CheckpointStore {
	if retain < 1 {
		retain = 1
	}
	return &CheckpointStore{db: db, retain: retain}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const checkpointColumns = `thread_id, checkpoint_id, COALESCE(parent_checkpoint_id, ''), kind, payload, metadata, created_at`

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var (
		cp        models.Checkpoint
		createdMs int64
	)
	if err := row.Scan(&cp.ThreadID, &cp.CheckpointID, &cp.ParentCheckpointID, &cp.Kind, &cp.Payload, &cp.Metadata, &createdMs); err != nil {
		return nil, err
	}
	cp.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &cp, nil
}

func threadKey(threadID string) (string, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "", storage.Invalid("missing thread_id")
	}
	return threadID, nil
}

// GetLatest returns the thread's current checkpoint, or nil.
func (s *CheckpointStore) GetLatest(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return nil, err
	}
	cp, err := scanCheckpoint(s.db.conn.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1
	`, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get latest checkpoint", err)
	}
	return cp, nil
}

// Get returns one specific checkpoint, or nil.
func (s *CheckpointStore) Get(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return nil, err
	}
	checkpointID = strings.TrimSpace(checkpointID)
	if checkpointID == "" {
		return nil, storage.Invalid("missing checkpoint_id")
	}
	cp, err := scanCheckpoint(s.db.conn.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE thread_id = ? AND checkpoint_id = ?
	`, threadID, checkpointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get checkpoint", err)
	}
	return cp, nil
}

// PutLatest stores a new current checkpoint for the thread and returns its id.
// Turns in payload without a timestamp are stamped, and the conversation start marker
// is carried forward from the previous checkpoint (or stamped if there is none).
// Checkpoints beyond the retention window, with their writes and blobs, are removed.
func (s *CheckpointStore) PutLatest(ctx context.Context, threadID string, payload, metadata []byte) (string, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", storage.Unavailable("begin put checkpoint", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		parentID  string
		parentMs  int64
		priorMeta []byte
		hasParent = true
	)
	err = tx.QueryRowContext(ctx, `
		SELECT checkpoint_id, metadata, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1
	`, threadID).Scan(&parentID, &priorMeta, &parentMs)
	if errors.Is(err, sql.ErrNoRows) {
		hasParent = false
	} else if err != nil {
		return "", storage.Unavailable("read current checkpoint", err)
	}

	now := s.db.now()
	// The new checkpoint must sort after its parent even within the same millisecond.
	if hasParent && now.UnixMilli() <= parentMs {
		now = time.UnixMilli(parentMs + 1)
	}
	payload, err = models.CompletePayload(payload, now)
	if err != nil {
		return "", storage.Invalid(fmt.Sprintf("payload: %v", err))
	}
	if payload == nil {
		payload = []byte{}
	}
	metadata, err = models.StampConversationStart(metadata, priorMeta, now)
	if err != nil {
		return "", fmt.Errorf("%w: %w", storage.ErrInvalidArgument, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate checkpoint id: %w", err)
	}
	checkpointID := id.String()

	var parent any
	if hasParent {
		parent = parentID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, parent_checkpoint_id, kind, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, threadID, checkpointID, parent, models.DefaultCheckpointKind, payload, metadata, now.UnixMilli()); err != nil {
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: %s", storage.ErrUnknownIdentity, threadID)
		}
		return "", storage.Unavailable("insert checkpoint", err)
	}

	if err := pruneCheckpointsTx(ctx, tx, threadID, s.retain); err != nil {
		return "", storage.Unavailable("prune checkpoints", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storage.Unavailable("commit checkpoint", err)
	}
	return checkpointID, nil
}

// pruneCheckpointsTx keeps the newest keep checkpoints and drops writes and blobs
// that no longer belong to a retained checkpoint.
func pruneCheckpointsTx(ctx context.Context, tx *sql.Tx, threadID string, keep int) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = ? AND checkpoint_id IN (
			SELECT checkpoint_id
			FROM checkpoints
			WHERE thread_id = ?
			ORDER BY created_at DESC, checkpoint_id DESC
			LIMIT -1 OFFSET ?
		)
	`, threadID, threadID, keep); err != nil {
		return err
	}
	for _, table := range []string{"checkpoint_writes", "checkpoint_blobs"} {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM `+table+`
			WHERE thread_id = ? AND checkpoint_id NOT IN (
				SELECT checkpoint_id FROM checkpoints WHERE thread_id = ?
			)
		`, threadID, threadID); err != nil {
			return err
		}
	}
	return nil
}

// ListRecent returns up to limit checkpoints newest-first. With beforeCheckpointID set,
// only checkpoints created strictly before that checkpoint are returned; an unknown
// reference yields an empty list.
func (s *CheckpointStore) ListRecent(ctx context.Context, threadID string, limit int, beforeCheckpointID string) ([]models.Checkpoint, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	args := []any{threadID}
	where := ""
	if before := strings.TrimSpace(beforeCheckpointID); before != "" {
		var beforeMs int64
		err := s.db.conn.QueryRowContext(ctx,
			`SELECT created_at FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
			threadID, before).Scan(&beforeMs)
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Checkpoint{}, nil
		}
		if err != nil {
			return nil, storage.Unavailable("resolve before checkpoint", err)
		}
		where = "AND created_at < ?"
		args = append(args, beforeMs)
	}
	args = append(args, limit)

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE thread_id = ? `+where+`
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, storage.Unavailable("list checkpoints", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.Checkpoint, 0, limit)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, storage.Unavailable("scan checkpoint", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list checkpoints", err)
	}
	return out, nil
}

// PutWrites replaces the (thread, current checkpoint, task) batch with writes,
// indexed 0..n-1, so a retried task never leaves a partial or duplicated batch.
func (s *CheckpointStore) PutWrites(ctx context.Context, threadID, taskID string, writes []models.Write) error {
	threadID, err := threadKey(threadID)
	if err != nil {
		return err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return storage.Invalid("missing task_id")
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin put writes", err)
	}
	defer func() { _ = tx.Rollback() }()

	checkpointID, err := currentCheckpointIDTx(ctx, tx, threadID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoint_writes WHERE thread_id = ? AND checkpoint_id = ? AND task_id = ?`,
		threadID, checkpointID, taskID); err != nil {
		return storage.Unavailable("clear write batch", err)
	}

	now := s.db.now().UnixMilli()
	for i, w := range writes {
		channel := strings.TrimSpace(w.Channel)
		if channel == "" {
			return storage.Invalid(fmt.Sprintf("write %d: missing channel", i))
		}
		value := w.Value
		if value == nil {
			value = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_writes (thread_id, checkpoint_id, task_id, idx, channel, kind, value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, threadID, checkpointID, taskID, i, channel, w.Kind, value, now); err != nil {
			return storage.Unavailable("insert write", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("commit writes", err)
	}
	return nil
}

func currentCheckpointIDTx(ctx context.Context, tx *sql.Tx, threadID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT checkpoint_id
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1
	`, threadID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.Invalid("thread " + threadID + " has no checkpoint")
	}
	if err != nil {
		return "", storage.Unavailable("read current checkpoint", err)
	}
	return id, nil
}

// ListWrites returns the pending writes of a checkpoint ordered by task and index.
// An empty checkpointID means the thread's current checkpoint.
func (s *CheckpointStore) ListWrites(ctx context.Context, threadID, checkpointID string) ([]models.PendingWrite, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return nil, err
	}
	checkpointID = strings.TrimSpace(checkpointID)
	if checkpointID == "" {
		latest, err := s.GetLatest(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return []models.PendingWrite{}, nil
		}
		checkpointID = latest.CheckpointID
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT thread_id, checkpoint_id, task_id, idx, channel, kind, value, created_at
		FROM checkpoint_writes
		WHERE thread_id = ? AND checkpoint_id = ?
		ORDER BY task_id ASC, idx ASC
	`, threadID, checkpointID)
	if err != nil {
		return nil, storage.Unavailable("list writes", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.PendingWrite{}
	for rows.Next() {
		var (
			w         models.PendingWrite
			createdMs int64
		)
		if err := rows.Scan(&w.ThreadID, &w.CheckpointID, &w.TaskID, &w.Index, &w.Channel, &w.Kind, &w.Value, &createdMs); err != nil {
			return nil, storage.Unavailable("scan write", err)
		}
		w.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list writes", err)
	}
	return out, nil
}

// PutBlob stores data under blobID against the thread's current checkpoint.
func (s *CheckpointStore) PutBlob(ctx context.Context, threadID, blobID string, data []byte) error {
	threadID, err := threadKey(threadID)
	if err != nil {
		return err
	}
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return storage.Invalid("missing blob_id")
	}
	if data == nil {
		data = []byte{}
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin put blob", err)
	}
	defer func() { _ = tx.Rollback() }()

	checkpointID, err := currentCheckpointIDTx(ctx, tx, threadID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoint_blobs (thread_id, checkpoint_id, blob_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_id, blob_id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at
	`, threadID, checkpointID, blobID, data, s.db.now().UnixMilli()); err != nil {
		return storage.Unavailable("insert blob", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Unavailable("commit blob", err)
	}
	return nil
}

// GetBlob returns a blob, or nil. An empty checkpointID means the current checkpoint.
func (s *CheckpointStore) GetBlob(ctx context.Context, threadID, checkpointID, blobID string) (*models.Blob, error) {
	threadID, err := threadKey(threadID)
	if err != nil {
		return nil, err
	}
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return nil, storage.Invalid("missing blob_id")
	}
	checkpointID = strings.TrimSpace(checkpointID)
	if checkpointID == "" {
		latest, err := s.GetLatest(ctx, threadID)
		if err != nil || latest == nil {
			return nil, err
		}
		checkpointID = latest.CheckpointID
	}

	var (
		b         models.Blob
		createdMs int64
	)
	err = s.db.conn.QueryRowContext(ctx, `
		SELECT thread_id, checkpoint_id, blob_id, data, created_at
		FROM checkpoint_blobs
		WHERE thread_id = ? AND checkpoint_id = ? AND blob_id = ?
	`, threadID, checkpointID, blobID).Scan(&b.ThreadID, &b.CheckpointID, &b.BlobID, &b.Data, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get blob", err)
	}
	b.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &b, nil
}

// DeleteThread removes every checkpoint, write, and blob of the thread. Idempotent.
func (s *CheckpointStore) DeleteThread(ctx context.Context, threadID string) error {
	threadID, err := threadKey(threadID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin delete thread", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"checkpoint_writes", "checkpoint_blobs", "checkpoints"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE thread_id = ?`, threadID); err != nil {
			return storage.Unavailable("delete thread "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Unavailable("commit delete thread", err)
	}
	return nil
}

// DeleteLatest removes only the current checkpoint and its writes and blobs; older
// retained checkpoints stay and the next newest becomes current.
func (s *CheckpointStore) DeleteLatest(ctx context.Context, threadID string) error {
	threadID, err := threadKey(threadID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin delete latest", err)
	}
	defer func() { _ = tx.Rollback() }()

	checkpointID, err := currentCheckpointIDTx(ctx, tx, threadID)
	if errors.Is(err, storage.ErrInvalidArgument) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, table := range []string{"checkpoint_writes", "checkpoint_blobs", "checkpoints"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE thread_id = ? AND checkpoint_id = ?`,
			threadID, checkpointID); err != nil {
			return storage.Unavailable("delete latest "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Unavailable("commit delete latest", err)
	}
	return nil
}
