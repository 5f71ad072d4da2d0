// ABOUTME: Builds the MCP server and runs it over stdio until the context ends
// ABOUTME: Shared by the standalone server binary and the CLI serve command
package mcp

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ServerName is advertised to MCP clients.
const ServerName = "threadkeeper"

// NewServer creates an MCP server with every tool registered.
func NewServer(version string, handlers *Handlers) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer(ServerName, version)
	RegisterTools(server, handlers)
	return server
}

// ServeStdio runs server on stdio. It returns nil when ctx is cancelled; the
// stdio reader goroutine is abandoned at that point since the process is exiting.
func ServeStdio(ctx context.Context, server *mcpserver.MCPServer) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
