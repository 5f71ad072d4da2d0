// ABOUTME: Daily usage ledger: atomic per-identity, per-local-day counters
// ABOUTME: Every increment and claim is a single upsert statement, never read-then-write
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage"
)

// UsageLedger handles daily usage persistence
type UsageLedger struct {
	db         *DB
	directory  storage.IdentityDirectory
	defaultLoc *time.Location
	bypassAll  bool
}

var _ storage.UsageLedger = (*UsageLedger)(nil)

// LedgerOptions configures a UsageLedger
type LedgerOptions struct {
	// DefaultTimezone applies when an identity's own timezone is missing or invalid.
	DefaultTimezone string
	// BypassThrottle exempts every identity from throttle checks.
	BypassThrottle bool
}

// NewUsageLedger creates a UsageLedger that resolves timezones and exemptions through dir.
func NewUsageLedger(db *DB, dir storage.IdentityDirectory, opts LedgerOptions) (*UsageLedger, error) {
	if dir == nil {
		return nil, errors.New("identity directory required")
	}
	tz := strings.TrimSpace(opts.DefaultTimezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load default timezone %q: %w", tz, err)
	}
	return &UsageLedger{
		db:         db,
		directory:  dir,
		defaultLoc: loc,
		bypassAll:  opts.BypassThrottle,
	}, nil
}

// dayFor resolves identity's profile and its local calendar date for t.
func (l *UsageLedger) dayFor(ctx context.Context, identity string, t time.Time) (string, models.Profile, error) {
	profile, err := l.directory.Profile(ctx, identity)
	if err != nil {
		return "", models.Profile{}, err
	}
	return t.In(l.location(identity, profile.Timezone)).Format(models.UsageDateLayout), profile, nil
}

func (l *UsageLedger) location(identity, tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return l.defaultLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		l.db.log.Warn("invalid identity timezone, using default", "identity", identity, "timezone", tz, "error", err)
		return l.defaultLoc
	}
	return loc
}

func (l *UsageLedger) exempt(p models.Profile) bool {
	return l.bypassAll || p.Exempt()
}

func identityKey(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", storage.Invalid("missing identity")
	}
	return identity, nil
}

// Today returns identity's current local date key.
func (l *UsageLedger) Today(ctx context.Context, identity string) (string, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return "", err
	}
	day, _, err := l.dayFor(ctx, identity, l.db.now())
	return day, err
}

// IncrementMessageCount adds one message to today's row, creating it if needed,
// and returns the new count.
func (l *UsageLedger) IncrementMessageCount(ctx context.Context, identity string) (int, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return 0, err
	}
	now := l.db.now()
	day, _, err := l.dayFor(ctx, identity, now)
	if err != nil {
		return 0, err
	}

	var count int
	err = l.db.conn.QueryRowContext(context.WithoutCancel(ctx), `
		INSERT INTO daily_usage (identity, usage_date, message_count, conversation_start_count, last_interaction_at)
		VALUES (?, ?, 1, 0, ?)
		ON CONFLICT(identity, usage_date) DO UPDATE SET
			message_count = daily_usage.message_count + 1,
			last_interaction_at = excluded.last_interaction_at
		RETURNING message_count
	`, identity, day, now.UnixMilli()).Scan(&count)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("%w: %s", storage.ErrUnknownIdentity, identity)
		}
		return 0, storage.Unavailable("increment message count", err)
	}
	return count, nil
}

// ClaimFirstConversationSlot counts a conversation start and reports whether it was
// the first of the identity's day. Exactly one concurrent caller per identity and day
// sees true; the stored count still records every call. Exempt identities always win.
func (l *UsageLedger) ClaimFirstConversationSlot(ctx context.Context, identity string) (bool, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return false, err
	}
	now := l.db.now()
	day, profile, err := l.dayFor(ctx, identity, now)
	if err != nil {
		return false, err
	}

	var starts int
	err = l.db.conn.QueryRowContext(context.WithoutCancel(ctx), `
		INSERT INTO daily_usage (identity, usage_date, message_count, conversation_start_count, last_interaction_at)
		VALUES (?, ?, 0, 1, ?)
		ON CONFLICT(identity, usage_date) DO UPDATE SET
			conversation_start_count = daily_usage.conversation_start_count + 1,
			last_interaction_at = excluded.last_interaction_at
		RETURNING conversation_start_count
	`, identity, day, now.UnixMilli()).Scan(&starts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: %s", storage.ErrUnknownIdentity, identity)
		}
		return false, storage.Unavailable("claim conversation slot", err)
	}

	if l.exempt(profile) {
		return true, nil
	}
	return starts == 1, nil
}

// CanStartConversationToday is an advisory read: true when no conversation has been
// claimed today. Callers that need the guarantee must use ClaimFirstConversationSlot.
func (l *UsageLedger) CanStartConversationToday(ctx context.Context, identity string) (bool, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return false, err
	}
	day, profile, err := l.dayFor(ctx, identity, l.db.now())
	if err != nil {
		return false, err
	}
	if l.exempt(profile) {
		return true, nil
	}

	usage, err := l.UsageOn(ctx, identity, day)
	if err != nil {
		return false, err
	}
	return usage == nil || usage.ConversationStartCount == 0, nil
}

// GetMessageCount returns today's message count, or 0 when there is no row yet.
func (l *UsageLedger) GetMessageCount(ctx context.Context, identity string) (int, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return 0, err
	}
	day, _, err := l.dayFor(ctx, identity, l.db.now())
	if err != nil {
		return 0, err
	}
	usage, err := l.UsageOn(ctx, identity, day)
	if err != nil || usage == nil {
		return 0, err
	}
	return usage.MessageCount, nil
}

// UsageOn returns the row stored under an explicit date key, or nil.
func (l *UsageLedger) UsageOn(ctx context.Context, identity, usageDate string) (*models.DailyUsage, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return nil, err
	}
	if _, err := time.Parse(models.UsageDateLayout, usageDate); err != nil {
		return nil, storage.Invalid(fmt.Sprintf("usage date %q: want YYYY-MM-DD", usageDate))
	}

	u, err := scanUsage(l.db.conn.QueryRowContext(ctx, `
		SELECT identity, usage_date, message_count, conversation_start_count, last_interaction_at
		FROM daily_usage
		WHERE identity = ? AND usage_date = ?
	`, identity, usageDate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get usage", err)
	}
	return u, nil
}

// History returns up to days rows for identity, newest date first.
func (l *UsageLedger) History(ctx context.Context, identity string, days int) ([]models.DailyUsage, error) {
	identity, err := identityKey(identity)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}

	rows, err := l.db.conn.QueryContext(ctx, `
		SELECT identity, usage_date, message_count, conversation_start_count, last_interaction_at
		FROM daily_usage
		WHERE identity = ?
		ORDER BY usage_date DESC
		LIMIT ?
	`, identity, days)
	if err != nil {
		return nil, storage.Unavailable("list usage", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.DailyUsage{}
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, storage.Unavailable("scan usage", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list usage", err)
	}
	return out, nil
}

func scanUsage(row rowScanner) (*models.DailyUsage, error) {
	var (
		u      models.DailyUsage
		lastMs int64
	)
	if err := row.Scan(&u.Identity, &u.UsageDate, &u.MessageCount, &u.ConversationStartCount, &lastMs); err != nil {
		return nil, err
	}
	if lastMs > 0 {
		u.LastInteractionAt = time.UnixMilli(lastMs).UTC()
	}
	return &u, nil
}
