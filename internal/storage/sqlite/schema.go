// ABOUTME: Ordered schema migrations for the threadkeeper SQLite store
// ABOUTME: Append-only: never edit or reorder an entry once it has shipped
package sqlite

// Migration is one schema-change statement. Its fingerprint is derived from SQL alone,
// so Name may be reworded freely.
type Migration struct {
	Name string
	SQL  string
}

// Migrations is applied in order by Open.
var Migrations = []Migration{
	{
		Name: "create identities",
		SQL: `CREATE TABLE IF NOT EXISTS identities (
    identity TEXT PRIMARY KEY,
    timezone TEXT NOT NULL DEFAULT '',
    premium INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
	},
	{
		Name: "create checkpoints",
		SQL: `CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id TEXT NOT NULL REFERENCES identities(identity) ON DELETE CASCADE,
    checkpoint_id TEXT NOT NULL UNIQUE,
    parent_checkpoint_id TEXT,
    kind TEXT NOT NULL DEFAULT 'json',
    payload BLOB NOT NULL,
    metadata BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (thread_id, checkpoint_id)
)`,
	},
	{
		Name: "index checkpoints by thread recency",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created ON checkpoints(thread_id, created_at DESC, checkpoint_id DESC)`,
	},
	{
		Name: "create checkpoint_writes",
		SQL: `CREATE TABLE IF NOT EXISTS checkpoint_writes (
    thread_id TEXT NOT NULL REFERENCES identities(identity) ON DELETE CASCADE,
    checkpoint_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    channel TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    value BLOB,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (thread_id, checkpoint_id, task_id, idx)
)`,
	},
	{
		Name: "create checkpoint_blobs",
		SQL: `CREATE TABLE IF NOT EXISTS checkpoint_blobs (
    thread_id TEXT NOT NULL REFERENCES identities(identity) ON DELETE CASCADE,
    checkpoint_id TEXT NOT NULL,
    blob_id TEXT NOT NULL,
    data BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (thread_id, checkpoint_id, blob_id)
)`,
	},
	{
		Name: "create daily_usage",
		SQL: `CREATE TABLE IF NOT EXISTS daily_usage (
    identity TEXT NOT NULL REFERENCES identities(identity) ON DELETE CASCADE,
    usage_date TEXT NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0 CHECK (message_count >= 0),
    conversation_start_count INTEGER NOT NULL DEFAULT 0 CHECK (conversation_start_count >= 0),
    PRIMARY KEY (identity, usage_date)
)`,
	},
	{
		Name: "create processed_messages",
		SQL: `CREATE TABLE IF NOT EXISTS processed_messages (
    message_id TEXT PRIMARY KEY,
    identity TEXT REFERENCES identities(identity) ON DELETE CASCADE,
    created_at INTEGER NOT NULL
)`,
	},
	{
		Name: "index processed_messages by identity recency",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_processed_messages_identity ON processed_messages(identity, created_at DESC)`,
	},
	{
		Name: "index processed_messages by age",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_processed_messages_created ON processed_messages(created_at)`,
	},
	{
		Name: "add identities.bypass_throttle",
		SQL:  `ALTER TABLE identities ADD COLUMN bypass_throttle INTEGER NOT NULL DEFAULT 0`,
	},
	{
		Name: "add daily_usage.last_interaction_at",
		SQL:  `ALTER TABLE daily_usage ADD COLUMN last_interaction_at INTEGER NOT NULL DEFAULT 0`,
	},
}

// ownedTables lists every table that cascades from identities.
var ownedTables = []string{
	"checkpoints",
	"checkpoint_writes",
	"checkpoint_blobs",
	"daily_usage",
	"processed_messages",
}
