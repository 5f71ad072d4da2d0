// ABOUTME: Checkpoint, pending write, and blob records for per-thread conversation state
// ABOUTME: The checkpoint store owns these rows; callers treat payloads as opaque JSON
package models

import "time"

// DefaultCheckpointKind is the serialization kind recorded for JSON payloads.
const DefaultCheckpointKind = "json"

// Checkpoint is a snapshot of one thread's conversation state.
type Checkpoint struct {
	ThreadID           string    `json:"thread_id" yaml:"thread_id"`
	CheckpointID       string    `json:"checkpoint_id" yaml:"checkpoint_id"`
	ParentCheckpointID string    `json:"parent_checkpoint_id,omitempty" yaml:"parent_checkpoint_id,omitempty"`
	Kind               string    `json:"kind" yaml:"kind"`
	Payload            []byte    `json:"payload" yaml:"-"`
	Metadata           []byte    `json:"metadata" yaml:"-"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
}

// Write is one named side-effect emitted by a unit of work.
type Write struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Value   []byte `json:"value"`
}

// PendingWrite is a stored Write, keyed by (thread, checkpoint, task, index).
type PendingWrite struct {
	ThreadID     string    `json:"thread_id" yaml:"thread_id"`
	CheckpointID string    `json:"checkpoint_id" yaml:"checkpoint_id"`
	TaskID       string    `json:"task_id" yaml:"task_id"`
	Index        int       `json:"idx" yaml:"idx"`
	Channel      string    `json:"channel" yaml:"channel"`
	Kind         string    `json:"kind" yaml:"kind"`
	Value        []byte    `json:"value" yaml:"value"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// Blob is an out-of-line payload referenced by a checkpoint.
type Blob struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	BlobID       string    `json:"blob_id"`
	Data         []byte    `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}
