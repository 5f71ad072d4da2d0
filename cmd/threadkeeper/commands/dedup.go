// ABOUTME: CLI commands for the inbound message guard: admit a message and sweep expired records
// ABOUTME: check runs the full gatekeeper flow so it moves usage counters like a real delivery
package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harper/threadkeeper/internal/core"
)

var dedupTZ string

// NewDedupCmd creates the dedup command group
func NewDedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Admit inbound messages and manage the processed-message record",
	}

	check := &cobra.Command{
		Use:   "check <message-id> <identity>",
		Short: "Admit one inbound message",
		Long: `Record an inbound message and report what the gatekeeper decided.

A message id seen within the dedup window is reported as a duplicate and no
counter moves. Otherwise the identity is enrolled if unknown, the message is
counted, and the first-of-day slot is claimed when the thread has no checkpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: runDedupCheck,
	}
	check.Flags().StringVar(&dedupTZ, "tz", "", "Timezone used if the identity is enrolled by this message")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete processed-message records older than the dedup window",
		Args:  cobra.NoArgs,
		RunE:  runDedupSweep,
	}

	cmd.AddCommand(check, sweep)
	return cmd
}

func runDedupCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := a.Gatekeeper.Admit(cmdContext(cmd), core.Inbound{
		MessageID: args[0],
		Identity:  args[1],
		Timezone:  dedupTZ,
	})
	if err != nil {
		return fmt.Errorf("admitting message: %w", err)
	}

	return render(cmd.OutOrStdout(), d, func(w io.Writer) error {
		if d.Duplicate {
			_, err := fmt.Fprintf(w, "Duplicate: %s was already processed\n", args[0])
			return err
		}
		fmt.Fprintf(w, "Admitted %s for %s\n", args[0], args[1])
		if d.Enrolled {
			fmt.Fprintf(w, "  enrolled:         yes\n")
		}
		fmt.Fprintf(w, "  burst:            %s\n", yesNo(d.Burst))
		fmt.Fprintf(w, "  new conversation: %s\n", yesNo(d.NewConversation))
		fmt.Fprintf(w, "  first of day:     %s\n", yesNo(d.FirstOfDay))
		fmt.Fprintf(w, "  messages today:   %d\n", d.MessageCount)
		return nil
	})
}

func runDedupSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.Store.Guard().PurgeExpired(cmdContext(cmd))
	if err != nil {
		return fmt.Errorf("sweeping: %w", err)
	}
	return render(cmd.OutOrStdout(), map[string]int64{"purged": n}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ Purged %d expired record(s)\n", n)
		return err
	})
}
