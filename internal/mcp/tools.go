// ABOUTME: MCP tool definitions and registration for the threadkeeper admin server
// ABOUTME: Exposes thread inspection, thread clearing, usage, and inbound admission
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, handlers *Handlers) {
	// 1. get_thread_state - current checkpoint of a thread
	server.AddTool(mcp.Tool{
		Name:        "get_thread_state",
		Description: "Get the current conversation checkpoint of a thread, optionally with its pending writes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"thread_id": map[string]interface{}{
					"type":        "string",
					"description": "Thread id (the owning identity)",
				},
				"include_writes": map[string]interface{}{
					"type":        "boolean",
					"description": "Include the pending writes of the current checkpoint (default: false)",
					"default":     false,
				},
			},
			Required: []string{"thread_id"},
		},
	}, handlers.GetThreadState)

	// 2. clear_thread - delete a thread's state
	server.AddTool(mcp.Tool{
		Name:        "clear_thread",
		Description: "Delete every checkpoint, write, and blob of a thread, or only the current checkpoint.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"thread_id": map[string]interface{}{
					"type":        "string",
					"description": "Thread id to clear",
				},
				"latest_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Remove only the current checkpoint (default: false)",
					"default":     false,
				},
			},
			Required: []string{"thread_id"},
		},
	}, handlers.ClearThread)

	// 3. usage_today - today's counters for an identity
	server.AddTool(mcp.Tool{
		Name:        "usage_today",
		Description: "Get today's message and conversation-start counts for an identity, in its own timezone.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identity": map[string]interface{}{
					"type":        "string",
					"description": "Identity to report on",
				},
			},
			Required: []string{"identity"},
		},
	}, handlers.UsageToday)

	// 4. record_message - run an inbound message through the gatekeeper
	server.AddTool(mcp.Tool{
		Name:        "record_message",
		Description: "Admit an inbound message: reject duplicates, detect bursts, and update daily counters.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message_id": map[string]interface{}{
					"type":        "string",
					"description": "Channel-assigned message id",
				},
				"identity": map[string]interface{}{
					"type":        "string",
					"description": "Sender identity",
				},
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "IANA timezone used if the identity is enrolled by this message",
				},
			},
			Required: []string{"message_id", "identity"},
		},
	}, handlers.RecordMessage)
}
