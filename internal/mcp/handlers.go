// ABOUTME: MCP tool handler implementations for the threadkeeper admin server
// ABOUTME: Handlers depend on storage interfaces and report failures as tool errors
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harper/threadkeeper/internal/core"
	"github.com/harper/threadkeeper/internal/logger"
	"github.com/harper/threadkeeper/internal/models"
	"github.com/harper/threadkeeper/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

// UsageReporter is the read side of the usage ledger used for reporting.
type UsageReporter interface {
	Today(ctx context.Context, identity string) (string, error)
	UsageOn(ctx context.Context, identity, usageDate string) (*models.DailyUsage, error)
	CanStartConversationToday(ctx context.Context, identity string) (bool, error)
}

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	checkpoints storage.CheckpointStore
	usage       UsageReporter
	gatekeeper  *core.Gatekeeper
	log         *logger.Logger
}

// NewHandlers creates the tool handlers
func NewHandlers(checkpoints storage.CheckpointStore, usage UsageReporter, gatekeeper *core.Gatekeeper, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{
		checkpoints: checkpoints,
		usage:       usage,
		gatekeeper:  gatekeeper,
		log:         log,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// rawOrString embeds valid JSON as-is and anything else as a string.
func rawOrString(b []byte) any {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

// GetThreadState handles the get_thread_state tool
func (h *Handlers) GetThreadState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := request.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id argument is required and must be a string"), nil
	}

	cp, err := h.checkpoints.GetLatest(ctx, threadID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get checkpoint: %v", err)), nil
	}
	if cp == nil {
		return jsonResult(map[string]interface{}{
			"thread_id": threadID,
			"found":     false,
		})
	}

	response := map[string]interface{}{
		"thread_id":            cp.ThreadID,
		"found":                true,
		"checkpoint_id":        cp.CheckpointID,
		"parent_checkpoint_id": cp.ParentCheckpointID,
		"kind":                 cp.Kind,
		"created_at":           cp.CreatedAt.Format(time.RFC3339Nano),
		"payload":              rawOrString(cp.Payload),
		"metadata":             rawOrString(cp.Metadata),
	}

	if request.GetBool("include_writes", false) {
		writes, err := h.checkpoints.ListWrites(ctx, threadID, cp.CheckpointID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list writes: %v", err)), nil
		}
		out := make([]map[string]interface{}, 0, len(writes))
		for _, w := range writes {
			out = append(out, map[string]interface{}{
				"task_id": w.TaskID,
				"idx":     w.Index,
				"channel": w.Channel,
				"kind":    w.Kind,
				"value":   rawOrString(w.Value),
			})
		}
		response["writes"] = out
	}

	return jsonResult(response)
}

// ClearThread handles the clear_thread tool
func (h *Handlers) ClearThread(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := request.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id argument is required and must be a string"), nil
	}
	latestOnly := request.GetBool("latest_only", false)

	if latestOnly {
		err = h.checkpoints.DeleteLatest(ctx, threadID)
	} else {
		err = h.checkpoints.DeleteThread(ctx, threadID)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear thread: %v", err)), nil
	}
	h.log.Info("thread cleared via mcp", "thread_id", threadID, "latest_only", latestOnly)

	return jsonResult(map[string]interface{}{
		"success":     true,
		"thread_id":   threadID,
		"latest_only": latestOnly,
	})
}

// UsageToday handles the usage_today tool
func (h *Handlers) UsageToday(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identity, err := request.RequireString("identity")
	if err != nil {
		return mcp.NewToolResultError("identity argument is required and must be a string"), nil
	}

	day, err := h.usage.Today(ctx, identity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve date: %v", err)), nil
	}
	row, err := h.usage.UsageOn(ctx, identity, day)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read usage: %v", err)), nil
	}
	canStart, err := h.usage.CanStartConversationToday(ctx, identity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read usage: %v", err)), nil
	}

	response := map[string]interface{}{
		"identity":                 identity,
		"usage_date":               day,
		"message_count":            0,
		"conversation_start_count": 0,
		"can_start_conversation":   canStart,
	}
	if row != nil {
		response["message_count"] = row.MessageCount
		response["conversation_start_count"] = row.ConversationStartCount
	}
	return jsonResult(response)
}

// RecordMessage handles the record_message tool
func (h *Handlers) RecordMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, err := request.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError("message_id argument is required and must be a string"), nil
	}
	identity, err := request.RequireString("identity")
	if err != nil {
		return mcp.NewToolResultError("identity argument is required and must be a string"), nil
	}

	decision, err := h.gatekeeper.Admit(ctx, core.Inbound{
		MessageID: messageID,
		Identity:  identity,
		Timezone:  request.GetString("timezone", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to admit message: %v", err)), nil
	}
	return jsonResult(decision)
}
