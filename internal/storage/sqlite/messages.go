// ABOUTME: Message guard: duplicate rejection and burst detection for inbound messages
// ABOUTME: Expired records are purged lazily on each insert; there is no background sweep
package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/harper/threadkeeper/internal/storage"
)

// MessageGuard handles processed-message persistence
type MessageGuard struct {
	db            *DB
	ttl           time.Duration
	burstInterval time.Duration
}

var _ storage.MessageGuard = (*MessageGuard)(nil)

// NewMessageGuard creates a MessageGuard. Records older than ttl are purged on insert;
// two messages closer together than burstInterval are a burst.
func NewMessageGuard(db *DB, ttl, burstInterval time.Duration) *MessageGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MessageGuard{db: db, ttl: ttl, burstInterval: burstInterval}
}

// RecordIfNew records messageID and reports whether it had already been processed.
// If identity has no owning row yet (first contact), the record is stored without
// an identity instead of failing.
func (g *MessageGuard) RecordIfNew(ctx context.Context, messageID, identity string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, storage.Invalid("missing message_id")
	}
	identity = strings.TrimSpace(identity)
	ctx = context.WithoutCancel(ctx)

	now := g.db.now()
	if _, err := g.purgeBefore(ctx, now.Add(-g.ttl)); err != nil {
		g.db.log.Warn("failed to purge expired processed messages", "error", err)
	}

	duplicate, err := g.insert(ctx, messageID, identity, now)
	if err == nil {
		return duplicate, nil
	}
	if identity != "" && isForeignKeyViolation(err) {
		g.db.log.Info("first contact, recording message without identity",
			"message_id", messageID, "identity", identity)
		duplicate, err = g.insert(ctx, messageID, "", now)
		if err == nil {
			return duplicate, nil
		}
	}
	return false, storage.Unavailable("record processed message", err)
}

func (g *MessageGuard) insert(ctx context.Context, messageID, identity string, now time.Time) (bool, error) {
	var owner any
	if identity != "" {
		owner = identity
	}
	_, err := g.db.conn.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, identity, created_at) VALUES (?, ?, ?)`,
		messageID, owner, now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			g.db.log.Debug("duplicate message ignored", "message_id", messageID)
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// IsBurst reports whether the identity's two most recent messages arrived closer
// together than the burst interval. Fewer than two records is never a burst.
func (g *MessageGuard) IsBurst(ctx context.Context, identity string) (bool, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return false, err
	}

	rows, err := g.db.conn.QueryContext(ctx, `
		SELECT created_at
		FROM processed_messages
		WHERE identity = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 2
	`, identity)
	if err != nil {
		return false, storage.Unavailable("read recent messages", err)
	}
	defer func() { _ = rows.Close() }()

	stamps := make([]int64, 0, 2)
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return false, storage.Unavailable("scan recent message", err)
		}
		stamps = append(stamps, ms)
	}
	if err := rows.Err(); err != nil {
		return false, storage.Unavailable("read recent messages", err)
	}
	if len(stamps) < 2 {
		return false, nil
	}
	gap := time.Duration(stamps[0]-stamps[1]) * time.Millisecond
	return gap < g.burstInterval, nil
}

// PurgeExpired deletes records older than the TTL and returns how many were removed.
// Inserts already do this lazily; a periodic caller can use it as a sweep.
func (g *MessageGuard) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := g.purgeBefore(context.WithoutCancel(ctx), g.db.now().Add(-g.ttl))
	if err != nil {
		return 0, storage.Unavailable("purge processed messages", err)
	}
	return n, nil
}

func (g *MessageGuard) purgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := g.db.conn.ExecContext(ctx, `DELETE FROM processed_messages WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
