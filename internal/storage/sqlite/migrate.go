// ABOUTME: Fingerprint-tracked schema migrator for the SQLite store
// ABOUTME: Applies each statement exactly once and tolerates effects that already exist
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/harper/threadkeeper/internal/storage"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS migrations (
    fingerprint TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// Migrator applies Migrations against a DB. It must run before any store issues queries.
type Migrator struct {
	db *DB
}

// NewMigrator creates a Migrator for db
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db}
}

// Fingerprint is the content hash that identifies a migration statement.
func Fingerprint(stmt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(stmt)))
	return hex.EncodeToString(sum[:])
}

// ApplyAll runs every migration not yet recorded, strictly in list order, and returns
// how many were newly recorded. Foreign keys are off for the duration so table rebuilds
// (create/copy/drop/rename) work, and are checked once re-enabled.
func (m *Migrator) ApplyAll(ctx context.Context, migrations []Migration) (int, error) {
	conn, err := m.db.conn.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire connection: %w", storage.ErrMigrationFailure, err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return 0, fmt.Errorf("%w: disable foreign keys: %w", storage.ErrMigrationFailure, err)
	}

	applied, runErr := m.applyOn(ctx, conn, migrations)

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil && runErr == nil {
		runErr = fmt.Errorf("%w: enable foreign keys: %w", storage.ErrMigrationFailure, err)
	}
	if runErr != nil {
		return applied, runErr
	}

	if err := checkForeignKeys(ctx, conn); err != nil {
		return applied, err
	}
	return applied, nil
}

func (m *Migrator) applyOn(ctx context.Context, conn *sql.Conn, migrations []Migration) (int, error) {
	if _, err := conn.ExecContext(ctx, migrationsTable); err != nil {
		return 0, fmt.Errorf("%w: create migrations: %w", storage.ErrMigrationFailure, err)
	}

	applied := 0
	for _, mig := range migrations {
		fp := Fingerprint(mig.SQL)

		var exists int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM migrations WHERE fingerprint = ?`, fp).Scan(&exists); err != nil {
			return applied, fmt.Errorf("%w: lookup %q: %w", storage.ErrMigrationFailure, mig.Name, err)
		}
		if exists > 0 {
			continue
		}

		if err := m.applyOne(ctx, conn, mig, fp); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (m *Migrator) applyOne(ctx context.Context, conn *sql.Conn, mig Migration, fp string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin %q: %w", storage.ErrMigrationFailure, mig.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		if !isAlreadyApplied(err) {
			return fmt.Errorf("%w: %q: %w", storage.ErrMigrationFailure, mig.Name, err)
		}
		m.db.log.Info("migration effect already present, recording as applied",
			"migration", mig.Name, "fingerprint", fp[:12], "reason", err.Error())
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (fingerprint, applied_at) VALUES (?, ?) ON CONFLICT(fingerprint) DO NOTHING`,
		fp, m.db.now().UnixMilli()); err != nil {
		return fmt.Errorf("%w: record %q: %w", storage.ErrMigrationFailure, mig.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %q: %w", storage.ErrMigrationFailure, mig.Name, err)
	}
	m.db.log.Debug("migration applied", "migration", mig.Name, "fingerprint", fp[:12])
	return nil
}

func checkForeignKeys(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("%w: foreign_key_check: %w", storage.ErrMigrationFailure, err)
	}
	defer func() { _ = rows.Close() }()

	var violations []string
	for rows.Next() {
		var (
			table  string
			rowid  sql.NullInt64
			parent string
			fkid   int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("%w: foreign_key_check scan: %w", storage.ErrMigrationFailure, err)
		}
		violations = append(violations, fmt.Sprintf("%s(rowid=%d)->%s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: foreign_key_check: %w", storage.ErrMigrationFailure, err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: foreign key violations after migration: %s",
			storage.ErrMigrationFailure, strings.Join(violations, ", "))
	}
	return nil
}

// AppliedFingerprints lists recorded fingerprints in application order.
func (m *Migrator) AppliedFingerprints(ctx context.Context) ([]string, error) {
	rows, err := m.db.conn.QueryContext(ctx, `SELECT fingerprint FROM migrations ORDER BY applied_at ASC, rowid ASC`)
	if err != nil {
		return nil, storage.Unavailable("list migrations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, storage.Unavailable("scan migration", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storage.Unavailable("list migrations", err)
	}
	return out, nil
}
