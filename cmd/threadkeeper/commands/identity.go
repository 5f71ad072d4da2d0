// ABOUTME: CLI commands to manage identities, the owners of all per-identity state
// ABOUTME: Deleting an identity cascades to its checkpoints, usage, and processed messages
package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harper/threadkeeper/internal/models"
)

var (
	identityTZ      string
	identityPremium bool
	identityBypass  bool
)

// NewIdentityCmd creates the identity command group
func NewIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
		Long:  `Create, inspect, and delete identities and their premium flag.`,
	}

	add := &cobra.Command{
		Use:   "add <identity>",
		Short: "Create or update an identity",
		Long: `Create an identity, or update its timezone and flags if it exists.

Examples:
  threadkeeper identity add +15551234567 --tz America/New_York
  threadkeeper identity add tester --bypass-throttle`,
		Args: cobra.ExactArgs(1),
		RunE: runIdentityAdd,
	}
	add.Flags().StringVar(&identityTZ, "tz", "", "IANA timezone (empty uses the default)")
	add.Flags().BoolVar(&identityPremium, "premium", false, "Mark as premium")
	add.Flags().BoolVar(&identityBypass, "bypass-throttle", false, "Exempt from daily throttling")

	show := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show an identity and how many rows it owns",
		Args:  cobra.ExactArgs(1),
		RunE:  runIdentityShow,
	}

	del := &cobra.Command{
		Use:   "delete <identity>",
		Short: "Delete an identity and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE:  runIdentityDelete,
	}

	premium := &cobra.Command{
		Use:   "premium <identity> <true|false>",
		Short: "Set the premium flag",
		Args:  cobra.ExactArgs(2),
		RunE:  runIdentityPremium,
	}

	cmd.AddCommand(add, show, del, premium)
	return cmd
}

func runIdentityAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	err = a.Store.Identities().Upsert(cmdContext(cmd), models.Identity{
		Identity:       args[0],
		Timezone:       identityTZ,
		Premium:        identityPremium,
		BypassThrottle: identityBypass,
	})
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	note(cmd, "✓ Saved identity %s", args[0])
	return nil
}

func runIdentityShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx := cmdContext(cmd)

	id, err := a.Store.Identities().Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting identity: %w", err)
	}
	if id == nil {
		return fmt.Errorf("identity %s not found", args[0])
	}
	counts, err := a.Store.Identities().OwnedRowCounts(ctx, args[0])
	if err != nil {
		return fmt.Errorf("counting rows: %w", err)
	}

	result := struct {
		models.Identity `yaml:",inline"`
		Rows            map[string]int `json:"rows" yaml:"rows"`
	}{*id, counts}
	return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
		tz := id.Timezone
		if tz == "" {
			tz = "(default)"
		}
		fmt.Fprintf(w, "Identity:  %s\n", id.Identity)
		fmt.Fprintf(w, "Timezone:  %s\n", tz)
		fmt.Fprintf(w, "Premium:   %s\n", yesNo(id.Premium))
		fmt.Fprintf(w, "Bypass:    %s\n", yesNo(id.BypassThrottle))
		fmt.Fprintf(w, "Created:   %s\n", formatTime(id.CreatedAt))
		fmt.Fprintf(w, "Rows:      %d checkpoints, %d writes, %d blobs, %d usage days, %d messages\n",
			counts["checkpoints"], counts["checkpoint_writes"], counts["checkpoint_blobs"],
			counts["daily_usage"], counts["processed_messages"])
		return nil
	})
}

func runIdentityDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx := cmdContext(cmd)

	// Drop any cached checkpoint before the cascade removes the rows underneath it.
	if err := a.Checkpoints.DeleteThread(ctx, args[0]); err != nil {
		return fmt.Errorf("clearing thread: %w", err)
	}
	if err := a.Store.Identities().Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	note(cmd, "✓ Deleted identity %s and all owned rows", args[0])
	return nil
}

func runIdentityPremium(cmd *cobra.Command, args []string) error {
	premium, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("premium must be true or false, got %q", args[1])
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Store.Identities().SetPremium(cmdContext(cmd), args[0], premium); err != nil {
		return fmt.Errorf("setting premium: %w", err)
	}
	note(cmd, "✓ Premium for %s set to %s", args[0], yesNo(premium))
	return nil
}
