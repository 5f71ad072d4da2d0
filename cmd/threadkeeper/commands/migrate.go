// ABOUTME: CLI command to apply schema migrations explicitly
// ABOUTME: Opening the store already migrates; this reports what is recorded
package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harper/threadkeeper/internal/storage/sqlite"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Open the database and apply any schema migrations not yet recorded.

Migrations are tracked by a fingerprint of their SQL text, so running this
repeatedly is safe.

Examples:
  threadkeeper migrate
  threadkeeper migrate --db /var/lib/threadkeeper/tk.db`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	fps, err := sqlite.NewMigrator(a.Store.DB()).AppliedFingerprints(cmdContext(cmd))
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}

	result := map[string]any{
		"database":   a.Store.DB().Path(),
		"applied":    len(fps),
		"known":      len(sqlite.Migrations),
		"up_to_date": len(fps) >= len(sqlite.Migrations),
	}
	return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Schema up to date: %d migrations recorded in %s\n", len(fps), a.Store.DB().Path())
		return err
	})
}
