// ABOUTME: Capability interfaces for thread state persistence and usage accounting
// ABOUTME: Backends (SQLite, Redis cache) implement these; callers depend only on them
package storage

import (
	"context"

	"github.com/harper/threadkeeper/internal/models"
)

// CheckpointStore persists the current conversation checkpoint per thread plus its
// pending writes and blobs. Lookups that find nothing return (nil, nil).
type CheckpointStore interface {
	GetLatest(ctx context.Context, threadID string) (*models.Checkpoint, error)
	Get(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error)
	PutLatest(ctx context.Context, threadID string, payload, metadata []byte) (string, error)
	ListRecent(ctx context.Context, threadID string, limit int, beforeCheckpointID string) ([]models.Checkpoint, error)
	PutWrites(ctx context.Context, threadID, taskID string, writes []models.Write) error
	ListWrites(ctx context.Context, threadID, checkpointID string) ([]models.PendingWrite, error)
	PutBlob(ctx context.Context, threadID, blobID string, data []byte) error
	GetBlob(ctx context.Context, threadID, checkpointID, blobID string) (*models.Blob, error)
	DeleteThread(ctx context.Context, threadID string) error
	DeleteLatest(ctx context.Context, threadID string) error
}

// UsageLedger keeps per-identity, per-local-day counters.
type UsageLedger interface {
	IncrementMessageCount(ctx context.Context, identity string) (int, error)
	ClaimFirstConversationSlot(ctx context.Context, identity string) (bool, error)
	CanStartConversationToday(ctx context.Context, identity string) (bool, error)
	GetMessageCount(ctx context.Context, identity string) (int, error)
}

// MessageGuard rejects duplicate inbound messages and detects bursts.
type MessageGuard interface {
	RecordIfNew(ctx context.Context, messageID, identity string) (duplicate bool, err error)
	IsBurst(ctx context.Context, identity string) (bool, error)
}

// IdentityDirectory supplies timezone and throttle-exemption facts about an identity.
type IdentityDirectory interface {
	Profile(ctx context.Context, identity string) (models.Profile, error)
}
