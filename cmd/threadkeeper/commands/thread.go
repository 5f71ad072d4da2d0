// ABOUTME: CLI commands to inspect and clear per-thread checkpoint state
// ABOUTME: Reads go through the optional Redis cache; export reads SQLite directly
package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/threadkeeper/internal/models"
)

var (
	threadWrites bool
	threadLimit  int
	threadBefore string
)

// NewThreadCmd creates the thread command group
func NewThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Inspect and clear thread checkpoints",
		Long:  `Show, list, clear, and export the conversation checkpoints of a thread.`,
	}

	show := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show the current checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runThreadShow,
	}
	show.Flags().BoolVar(&threadWrites, "writes", false, "Include pending writes")

	list := &cobra.Command{
		Use:   "list <thread-id>",
		Short: "List retained checkpoints, newest first",
		Long: `List retained checkpoints newest first.

With the default retention of 1 this shows at most one checkpoint.

Examples:
  threadkeeper thread list +15551234567
  threadkeeper thread list +15551234567 --limit 5 --before <checkpoint-id>`,
		Args: cobra.ExactArgs(1),
		RunE: runThreadList,
	}
	list.Flags().IntVarP(&threadLimit, "limit", "n", 10, "Maximum number of checkpoints")
	list.Flags().StringVar(&threadBefore, "before", "", "Only checkpoints older than this checkpoint id")

	clear := &cobra.Command{
		Use:   "clear <thread-id>",
		Short: "Delete every checkpoint, write, and blob of a thread",
		Args:  cobra.ExactArgs(1),
		RunE:  runThreadClear,
	}

	dropLatest := &cobra.Command{
		Use:   "drop-latest <thread-id>",
		Short: "Delete only the current checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runThreadDropLatest,
	}

	export := &cobra.Command{
		Use:   "export <identity>",
		Short: "Export an identity's thread and usage as YAML (or JSON with --format json)",
		Args:  cobra.ExactArgs(1),
		RunE:  runThreadExport,
	}

	cmd.AddCommand(show, list, clear, dropLatest, export)
	return cmd
}

type checkpointView struct {
	CheckpointID       string                `json:"checkpoint_id" yaml:"checkpoint_id"`
	ParentCheckpointID string                `json:"parent_checkpoint_id,omitempty" yaml:"parent_checkpoint_id,omitempty"`
	Kind               string                `json:"kind" yaml:"kind"`
	CreatedAt          time.Time             `json:"created_at" yaml:"created_at"`
	Payload            string                `json:"payload" yaml:"payload"`
	Metadata           string                `json:"metadata" yaml:"metadata"`
	Writes             []models.PendingWrite `json:"writes,omitempty" yaml:"writes,omitempty"`
}

func newCheckpointView(cp *models.Checkpoint) checkpointView {
	return checkpointView{
		CheckpointID:       cp.CheckpointID,
		ParentCheckpointID: cp.ParentCheckpointID,
		Kind:               cp.Kind,
		CreatedAt:          cp.CreatedAt,
		Payload:            string(cp.Payload),
		Metadata:           string(cp.Metadata),
	}
}

func runThreadShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx := cmdContext(cmd)

	cp, err := a.Checkpoints.GetLatest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("getting checkpoint: %w", err)
	}
	if cp == nil {
		note(cmd, "No checkpoint for %s", args[0])
		return nil
	}

	view := newCheckpointView(cp)
	if threadWrites {
		view.Writes, err = a.Checkpoints.ListWrites(ctx, args[0], cp.CheckpointID)
		if err != nil {
			return fmt.Errorf("listing writes: %w", err)
		}
	}

	return render(cmd.OutOrStdout(), view, func(w io.Writer) error {
		fmt.Fprintf(w, "Checkpoint: %s\n", view.CheckpointID)
		if view.ParentCheckpointID != "" {
			fmt.Fprintf(w, "Parent:     %s\n", view.ParentCheckpointID)
		}
		fmt.Fprintf(w, "Created:    %s (%s)\n", view.CreatedAt.Format(time.RFC3339), formatTime(view.CreatedAt))
		fmt.Fprintf(w, "Metadata:   %s\n", view.Metadata)
		fmt.Fprintf(w, "Payload:    %s\n", truncate(view.Payload, 200))
		for _, pw := range view.Writes {
			fmt.Fprintf(w, "  write %s[%d] %s: %s\n", pw.TaskID, pw.Index, pw.Channel, truncate(string(pw.Value), 60))
		}
		return nil
	})
}

func runThreadList(cmd *cobra.Command, args []string) error {
	if err := validatePositiveInt(threadLimit, "limit"); err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cps, err := a.Checkpoints.ListRecent(cmdContext(cmd), args[0], threadLimit, threadBefore)
	if err != nil {
		return fmt.Errorf("listing checkpoints: %w", err)
	}
	if len(cps) == 0 {
		note(cmd, "No checkpoints found")
		return nil
	}

	views := make([]checkpointView, 0, len(cps))
	for i := range cps {
		views = append(views, newCheckpointView(&cps[i]))
	}
	return render(cmd.OutOrStdout(), views, func(out io.Writer) error {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "CHECKPOINT\tCREATED\tPARENT\n")
		fmt.Fprintf(w, "----------\t-------\t------\n")
		for _, v := range views {
			parent := v.ParentCheckpointID
			if parent == "" {
				parent = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", v.CheckpointID, formatTime(v.CreatedAt), parent)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		note(cmd, "\nTotal: %d checkpoint(s)", len(views))
		return nil
	})
}

func runThreadClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Checkpoints.DeleteThread(cmdContext(cmd), args[0]); err != nil {
		return fmt.Errorf("clearing thread: %w", err)
	}
	note(cmd, "✓ Cleared thread %s", args[0])
	return nil
}

func runThreadDropLatest(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Checkpoints.DeleteLatest(cmdContext(cmd), args[0]); err != nil {
		return fmt.Errorf("dropping checkpoint: %w", err)
	}
	note(cmd, "✓ Dropped current checkpoint of %s", args[0])
	return nil
}

func runThreadExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if outputFormat == "json" {
		return a.Store.ExportJSON(cmdContext(cmd), args[0], cmd.OutOrStdout())
	}
	return a.Store.ExportYAML(cmdContext(cmd), args[0], cmd.OutOrStdout())
}
