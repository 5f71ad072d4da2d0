// ABOUTME: Identity directory: the owning rows every per-identity table cascades from
// ABOUTME: Supplies timezone and premium/bypass facts to the usage ledger
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage"
)

// IdentityStore handles identity persistence
type IdentityStore struct {
	db *DB
}

// NewIdentityStore creates a new IdentityStore
func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Upsert creates the identity or updates its timezone and flags.
func (s *IdentityStore) Upsert(ctx context.Context, id models.Identity) error {
	identity := strings.TrimSpace(id.Identity)
	if identity == "" {
		return storage.Invalid("missing identity")
	}
	if tz := strings.TrimSpace(id.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return storage.Invalid(fmt.Sprintf("timezone %q: %v", tz, err))
		}
	}

	now := s.db.now().UnixMilli()
	_, err := s.db.conn.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO identities (identity, timezone, premium, bypass_throttle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			timezone = excluded.timezone,
			premium = excluded.premium,
			bypass_throttle = excluded.bypass_throttle,
			updated_at = excluded.updated_at
	`, identity, strings.TrimSpace(id.Timezone), boolToInt(id.Premium), boolToInt(id.BypassThrottle), now, now)
	if err != nil {
		return storage.Unavailable("upsert identity", err)
	}
	return nil
}

// Ensure creates the identity with tz if it does not exist yet and leaves an
// existing row untouched. It reports whether a row was created. An unloadable tz
// is stored empty so the ledger falls back to its default zone; enrollment runs
// after the message is recorded and must not fail on channel-supplied data.
func (s *IdentityStore) Ensure(ctx context.Context, identity, tz string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, storage.Invalid("missing identity")
	}
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			s.db.log.Warn("invalid enrollment timezone, using default", "identity", identity, "timezone", tz, "error", err)
			tz = ""
		}
	}

	now := s.db.now().UnixMilli()
	res, err := s.db.conn.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO identities (identity, timezone, premium, bypass_throttle, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?)
		ON CONFLICT(identity) DO NOTHING
	`, identity, tz, now, now)
	if err != nil {
		return false, storage.Unavailable("ensure identity", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.db.log.Info("identity enrolled", "identity", identity)
	}
	return n > 0, nil
}

// Get returns the identity, or nil if it does not exist.
func (s *IdentityStore) Get(ctx context.Context, identity string) (*models.Identity, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, storage.Invalid("missing identity")
	}

	var (
		out                  models.Identity
		premium, bypass      int
		createdMs, updatedMs int64
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT identity, timezone, premium, bypass_throttle, created_at, updated_at
		FROM identities
		WHERE identity = ?
	`, identity).Scan(&out.Identity, &out.Timezone, &premium, &bypass, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get identity", err)
	}
	out.Premium = premium != 0
	out.BypassThrottle = bypass != 0
	out.CreatedAt = time.UnixMilli(createdMs).UTC()
	out.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &out, nil
}

// SetPremium flips the premium flag, as emitted by the billing layer.
func (s *IdentityStore) SetPremium(ctx context.Context, identity string, premium bool) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return storage.Invalid("missing identity")
	}
	res, err := s.db.conn.ExecContext(context.WithoutCancel(ctx),
		`UPDATE identities SET premium = ?, updated_at = ? WHERE identity = ?`,
		boolToInt(premium), s.db.now().UnixMilli(), identity)
	if err != nil {
		return storage.Unavailable("set premium", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrUnknownIdentity
	}
	return nil
}

// Delete removes the identity; every owned row cascades with it. Deleting an
// unknown identity is a no-op.
func (s *IdentityStore) Delete(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return storage.Invalid("missing identity")
	}
	if _, err := s.db.conn.ExecContext(context.WithoutCancel(ctx), `DELETE FROM identities WHERE identity = ?`, identity); err != nil {
		return storage.Unavailable("delete identity", err)
	}
	s.db.log.Info("identity deleted", "identity", identity)
	return nil
}

// OwnedRowCounts reports how many rows each identity-owned table holds for identity.
func (s *IdentityStore) OwnedRowCounts(ctx context.Context, identity string) (map[string]int, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, storage.Invalid("missing identity")
	}
	out := make(map[string]int, len(ownedTables))
	for _, table := range ownedTables {
		col := "thread_id"
		if table == "daily_usage" || table == "processed_messages" {
			col = "identity"
		}
		var n int
		q := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE %s = ?`, table, col)
		if err := s.db.conn.QueryRowContext(ctx, q, identity).Scan(&n); err != nil {
			return nil, storage.Unavailable("count "+table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Profile implements storage.IdentityDirectory.
func (s *IdentityStore) Profile(ctx context.Context, identity string) (models.Profile, error) {
	id, err := s.Get(ctx, identity)
	if err != nil {
		return models.Profile{}, err
	}
	if id == nil {
		return models.Profile{}, nil
	}
	return models.Profile{
		Known:          true,
		Timezone:       id.Timezone,
		Premium:        id.Premium,
		BypassThrottle: id.BypassThrottle,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
