// ABOUTME: CLI command that runs the MCP server over stdio
// ABOUTME: Stops cleanly on SIGINT or SIGTERM
package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Expose thread state and usage as MCP tools over stdin/stdout.

Logs go to stderr so they never mix with the protocol stream. Expired
processed-message records are swept every THREADKEEPER_SWEEP_INTERVAL.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return a.Serve(ctx, versionInfo.Version)
}
