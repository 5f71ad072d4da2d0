// ABOUTME: CLI commands to report and exercise the daily usage ledger
// ABOUTME: Dates are shown in each identity's own timezone
package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usageDays int

// NewUsageCmd creates the usage command group
func NewUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report daily usage counters",
	}

	today := &cobra.Command{
		Use:   "today <identity>",
		Short: "Show today's counters",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsageToday,
	}

	history := &cobra.Command{
		Use:   "history <identity>",
		Short: "Show recent days, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsageHistory,
	}
	history.Flags().IntVar(&usageDays, "days", 7, "Number of days")

	claim := &cobra.Command{
		Use:   "claim <identity>",
		Short: "Claim today's first conversation slot",
		Long: `Atomically count a conversation start and report whether it was the
first of the identity's day. Premium and bypassed identities always win.`,
		Args: cobra.ExactArgs(1),
		RunE: runUsageClaim,
	}

	cmd.AddCommand(today, history, claim)
	return cmd
}

type usageToday struct {
	Identity             string `json:"identity" yaml:"identity"`
	UsageDate            string `json:"usage_date" yaml:"usage_date"`
	MessageCount         int    `json:"message_count" yaml:"message_count"`
	ConversationStarts   int    `json:"conversation_start_count" yaml:"conversation_start_count"`
	CanStartConversation bool   `json:"can_start_conversation" yaml:"can_start_conversation"`
}

func runUsageToday(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx := cmdContext(cmd)
	ledger := a.Store.Ledger()

	day, err := ledger.Today(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resolving date: %w", err)
	}
	row, err := ledger.UsageOn(ctx, args[0], day)
	if err != nil {
		return fmt.Errorf("reading usage: %w", err)
	}
	canStart, err := ledger.CanStartConversationToday(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reading usage: %w", err)
	}

	result := usageToday{Identity: args[0], UsageDate: day, CanStartConversation: canStart}
	if row != nil {
		result.MessageCount = row.MessageCount
		result.ConversationStarts = row.ConversationStartCount
	}
	return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
		fmt.Fprintf(w, "%s on %s: %d messages, %d conversation starts (can start: %s)\n",
			result.Identity, result.UsageDate, result.MessageCount, result.ConversationStarts,
			yesNo(result.CanStartConversation))
		return nil
	})
}

func runUsageHistory(cmd *cobra.Command, args []string) error {
	if err := validatePositiveInt(usageDays, "days"); err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rows, err := a.Store.Ledger().History(cmdContext(cmd), args[0], usageDays)
	if err != nil {
		return fmt.Errorf("reading usage: %w", err)
	}
	if len(rows) == 0 {
		note(cmd, "No usage recorded for %s", args[0])
		return nil
	}

	return render(cmd.OutOrStdout(), rows, func(out io.Writer) error {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "DATE\tMESSAGES\tSTARTS\tLAST SEEN\n")
		fmt.Fprintf(w, "----\t--------\t------\t---------\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.UsageDate, r.MessageCount, r.ConversationStartCount, formatTime(r.LastInteractionAt))
		}
		return w.Flush()
	})
}

func runUsageClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	won, err := a.Store.Ledger().ClaimFirstConversationSlot(cmdContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("claiming slot: %w", err)
	}
	result := map[string]any{"identity": args[0], "claimed": won}
	return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
		if won {
			_, err := fmt.Fprintf(w, "✓ First conversation of the day claimed for %s\n", args[0])
			return err
		}
		_, err := fmt.Fprintf(w, "✗ %s already started a conversation today\n", args[0])
		return err
	})
}
