// ABOUTME: Root command and global flags for the threadkeeper CLI
// ABOUTME: Wires every subcommand and validates --format before any command runs
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
	dbPath       string
)

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadkeeper",
		Short: "Per-thread conversation state and daily usage accounting",
		Long: `threadkeeper keeps one current conversation checkpoint per thread, the
pending writes and blobs attached to it, per-identity daily usage counters,
and a short-lived record of processed inbound messages.

Everything lives in a single SQLite file. Schema migrations run automatically
whenever the database is opened.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFormat {
			case "auto", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unknown --format %q (want auto, json, or yaml)", outputFormat)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print results and errors")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format: auto, json, or yaml")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default $THREADKEEPER_DB or the XDG data dir)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		NewMigrateCmd(),
		NewIdentityCmd(),
		NewThreadCmd(),
		NewUsageCmd(),
		NewDedupCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
