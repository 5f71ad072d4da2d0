// ABOUTME: Tests for the fingerprint-tracked schema migrator
// ABOUTME: Covers idempotence, already-applied tolerance, fatal errors, and rebuilds
package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harper/threadkeeper/internal/storage"
)

func openRaw(t *testing.T) *DB {
	t.Helper()
	db, err := openUnmigrated(":memory:?_pragma=foreign_keys(ON)", ":memory:")
	if err != nil {
		t.Fatalf("openUnmigrated() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func schemaSnapshot(t *testing.T, db *DB) string {
	t.Helper()
	rows, err := db.conn.Query("SELECT type, name, COALESCE(sql, '') FROM sqlite_master ORDER BY type, name")
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	defer func() { _ = rows.Close() }()

	var b strings.Builder
	for rows.Next() {
		var typ, name, sql string
		if err := rows.Scan(&typ, &name, &sql); err != nil {
			t.Fatalf("scan error = %v", err)
		}
		b.WriteString(typ + " " + name + " " + sql + "\n")
	}
	return b.String()
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("CREATE TABLE x (id INTEGER)")
	b := Fingerprint("  CREATE TABLE x (id INTEGER)\n")
	c := Fingerprint("CREATE TABLE y (id INTEGER)")

	if a != b {
		t.Error("surrounding whitespace should not change the fingerprint")
	}
	if a == c {
		t.Error("different statements should have different fingerprints")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestApplyAll_Idempotent(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db)
	ctx := context.Background()

	applied, err := m.ApplyAll(ctx, Migrations)
	if err != nil {
		t.Fatalf("first ApplyAll() error = %v", err)
	}
	if applied != len(Migrations) {
		t.Errorf("first ApplyAll() applied = %d, want %d", applied, len(Migrations))
	}
	before := schemaSnapshot(t, db)

	applied, err = m.ApplyAll(ctx, Migrations)
	if err != nil {
		t.Fatalf("second ApplyAll() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("second ApplyAll() applied = %d, want 0", applied)
	}

	if after := schemaSnapshot(t, db); after != before {
		t.Errorf("schema changed on re-run:\nbefore:\n%s\nafter:\n%s", before, after)
	}
	if got := countRows(t, db, "SELECT COUNT(1) FROM migrations"); got != len(Migrations) {
		t.Errorf("migrations rows = %d, want %d", got, len(Migrations))
	}

	fps, err := m.AppliedFingerprints(ctx)
	if err != nil {
		t.Fatalf("AppliedFingerprints() error = %v", err)
	}
	for i, mig := range Migrations {
		if fps[i] != Fingerprint(mig.SQL) {
			t.Errorf("fingerprint %d = %s, want %s (%s)", i, fps[i], Fingerprint(mig.SQL), mig.Name)
		}
	}
}

func TestApplyAll_AlreadyPresentColumnIsRecorded(t *testing.T) {
	db := openRaw(t)
	ctx := context.Background()

	// Upgraded out-of-band: the column exists but no migration record does.
	if _, err := db.conn.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, color TEXT)`); err != nil {
		t.Fatalf("setup error = %v", err)
	}
	migs := []Migration{
		{Name: "create widgets", SQL: `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY)`},
		{Name: "add widgets.color", SQL: `ALTER TABLE widgets ADD COLUMN color TEXT`},
	}

	applied, err := NewMigrator(db).ApplyAll(ctx, migs)
	if err != nil {
		t.Fatalf("ApplyAll() error = %v, want duplicate column tolerated", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if got := countRows(t, db, "SELECT COUNT(1) FROM migrations WHERE fingerprint = ?", Fingerprint(migs[1].SQL)); got != 1 {
		t.Errorf("already-present migration recorded %d times, want 1", got)
	}
}

func TestApplyAll_FatalErrorStopsAndIsNotRecorded(t *testing.T) {
	db := openRaw(t)
	migs := []Migration{
		{Name: "ok", SQL: `CREATE TABLE a (id INTEGER)`},
		{Name: "broken", SQL: `ALTER TABLE missing_table ADD COLUMN x TEXT`},
		{Name: "never reached", SQL: `CREATE TABLE b (id INTEGER)`},
	}

	applied, err := NewMigrator(db).ApplyAll(context.Background(), migs)
	if !errors.Is(err, storage.ErrMigrationFailure) {
		t.Fatalf("ApplyAll() error = %v, want ErrMigrationFailure", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if got := countRows(t, db, "SELECT COUNT(1) FROM migrations WHERE fingerprint = ?", Fingerprint(migs[1].SQL)); got != 0 {
		t.Error("failed migration must not be recorded")
	}
	if got := countRows(t, db, "SELECT COUNT(1) FROM sqlite_master WHERE name = 'b'"); got != 0 {
		t.Error("migrations after a failure must not run")
	}

	var on int
	if err := db.conn.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys error = %v", err)
	}
	if on != 1 {
		t.Error("foreign keys should be re-enabled after a failed run")
	}
}

func TestApplyAll_TableRebuildWithForeignKeysRelaxed(t *testing.T) {
	db := openRaw(t)
	ctx := context.Background()

	base := []Migration{
		{Name: "parents", SQL: `CREATE TABLE parents (id TEXT PRIMARY KEY)`},
		{Name: "children", SQL: `CREATE TABLE children (id TEXT PRIMARY KEY, parent_id TEXT REFERENCES parents(id) ON DELETE CASCADE)`},
	}
	if _, err := NewMigrator(db).ApplyAll(ctx, base); err != nil {
		t.Fatalf("ApplyAll(base) error = %v", err)
	}
	if _, err := db.conn.Exec(`INSERT INTO parents (id) VALUES ('p1')`); err != nil {
		t.Fatalf("insert parent error = %v", err)
	}
	if _, err := db.conn.Exec(`INSERT INTO children (id, parent_id) VALUES ('c1', 'p1')`); err != nil {
		t.Fatalf("insert child error = %v", err)
	}

	// Rebuild the parent table; dropping it would cascade if foreign keys were on.
	rebuild := append(base,
		Migration{Name: "parents_new", SQL: `CREATE TABLE parents_new (id TEXT PRIMARY KEY, label TEXT NOT NULL DEFAULT '')`},
		Migration{Name: "copy parents", SQL: `INSERT INTO parents_new (id) SELECT id FROM parents`},
		Migration{Name: "drop parents", SQL: `DROP TABLE parents`},
		Migration{Name: "rename parents", SQL: `ALTER TABLE parents_new RENAME TO parents`},
	)
	applied, err := NewMigrator(db).ApplyAll(ctx, rebuild)
	if err != nil {
		t.Fatalf("ApplyAll(rebuild) error = %v", err)
	}
	if applied != 4 {
		t.Errorf("applied = %d, want 4", applied)
	}
	if got := countRows(t, db, `SELECT COUNT(1) FROM children WHERE parent_id = 'p1'`); got != 1 {
		t.Errorf("children rows = %d, want 1 (rebuild must not cascade)", got)
	}
}

func TestApplyAll_ReportsDanglingForeignKeys(t *testing.T) {
	db := openRaw(t)
	migs := []Migration{
		{Name: "parents", SQL: `CREATE TABLE parents (id TEXT PRIMARY KEY)`},
		{Name: "children", SQL: `CREATE TABLE children (id TEXT PRIMARY KEY, parent_id TEXT REFERENCES parents(id))`},
		{Name: "orphan", SQL: `INSERT INTO children (id, parent_id) VALUES ('c1', 'nobody')`},
	}

	_, err := NewMigrator(db).ApplyAll(context.Background(), migs)
	if !errors.Is(err, storage.ErrMigrationFailure) {
		t.Fatalf("ApplyAll() error = %v, want ErrMigrationFailure for dangling reference", err)
	}
	if !strings.Contains(err.Error(), "children") {
		t.Errorf("error %q should name the violating table", err)
	}
}
