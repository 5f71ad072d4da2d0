// ABOUTME: Export of one identity's persisted state for inspection and support requests
// ABOUTME: Supports YAML and JSON; checkpoint payloads and write values are emitted as text
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// ExportData is the exportable state of one identity
type ExportData struct {
	Version    string            `yaml:"version" json:"version"`
	ExportedAt string            `yaml:"exported_at" json:"exported_at"`
	Tool       string            `yaml:"tool" json:"tool"`
	Identity   *ExportIdentity   `yaml:"identity,omitempty" json:"identity,omitempty"`
	Checkpoint *ExportCheckpoint `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	Writes     []ExportWrite     `yaml:"writes,omitempty" json:"writes,omitempty"`
	Usage      []ExportUsage     `yaml:"usage,omitempty" json:"usage,omitempty"`
}

// ExportIdentity represents the owning identity for export
type ExportIdentity struct {
	Identity       string `yaml:"identity" json:"identity"`
	Timezone       string `yaml:"timezone" json:"timezone"`
	Premium        bool   `yaml:"premium" json:"premium"`
	BypassThrottle bool   `yaml:"bypass_throttle" json:"bypass_throttle"`
	CreatedAt      string `yaml:"created_at" json:"created_at"`
}

// ExportCheckpoint represents the current checkpoint for export
type ExportCheckpoint struct {
	CheckpointID       string `yaml:"checkpoint_id" json:"checkpoint_id"`
	ParentCheckpointID string `yaml:"parent_checkpoint_id,omitempty" json:"parent_checkpoint_id,omitempty"`
	Kind               string `yaml:"kind" json:"kind"`
	Payload            string `yaml:"payload" json:"payload"`
	Metadata           string `yaml:"metadata" json:"metadata"`
	CreatedAt          string `yaml:"created_at" json:"created_at"`
}

// ExportWrite represents a pending write for export
type ExportWrite struct {
	TaskID  string `yaml:"task_id" json:"task_id"`
	Index   int    `yaml:"idx" json:"idx"`
	Channel string `yaml:"channel" json:"channel"`
	Kind    string `yaml:"kind" json:"kind"`
	Value   string `yaml:"value" json:"value"`
}

// ExportUsage represents a daily usage row for export
type ExportUsage struct {
	UsageDate              string `yaml:"usage_date" json:"usage_date"`
	MessageCount           int    `yaml:"message_count" json:"message_count"`
	ConversationStartCount int    `yaml:"conversation_start_count" json:"conversation_start_count"`
}

// Export collects the identity row, current checkpoint with its writes, and the
// last 30 days of usage. Missing pieces are simply omitted.
func (s *Storage) Export(ctx context.Context, identity string) (*ExportData, error) {
	data := &ExportData{
		Version:    "1.0",
		ExportedAt: s.db.now().UTC().Format(time.RFC3339),
		Tool:       "threadkeeper",
	}

	id, err := s.identities.Get(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if id != nil {
		data.Identity = &ExportIdentity{
			Identity:       id.Identity,
			Timezone:       id.Timezone,
			Premium:        id.Premium,
			BypassThrottle: id.BypassThrottle,
			CreatedAt:      id.CreatedAt.Format(time.RFC3339),
		}
	}

	cp, err := s.checkpoints.GetLatest(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if cp != nil {
		data.Checkpoint = &ExportCheckpoint{
			CheckpointID:       cp.CheckpointID,
			ParentCheckpointID: cp.ParentCheckpointID,
			Kind:               cp.Kind,
			Payload:            string(cp.Payload),
			Metadata:           string(cp.Metadata),
			CreatedAt:          cp.CreatedAt.Format(time.RFC3339Nano),
		}

		writes, err := s.checkpoints.ListWrites(ctx, identity, cp.CheckpointID)
		if err != nil {
			return nil, fmt.Errorf("failed to list writes: %w", err)
		}
		for _, w := range writes {
			data.Writes = append(data.Writes, ExportWrite{
				TaskID:  w.TaskID,
				Index:   w.Index,
				Channel: w.Channel,
				Kind:    w.Kind,
				Value:   string(w.Value),
			})
		}
	}

	usage, err := s.ledger.History(ctx, identity, 30)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	for _, u := range usage {
		data.Usage = append(data.Usage, ExportUsage{
			UsageDate:              u.UsageDate,
			MessageCount:           u.MessageCount,
			ConversationStartCount: u.ConversationStartCount,
		})
	}

	return data, nil
}

// ExportYAML writes Export's result to w as YAML
func (s *Storage) ExportYAML(ctx context.Context, identity string, w io.Writer) error {
	data, err := s.Export(ctx, identity)
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

// ExportJSON writes Export's result to w as indented JSON
func (s *Storage) ExportJSON(ctx context.Context, identity string, w io.Writer) error {
	data, err := s.Export(ctx, identity)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
