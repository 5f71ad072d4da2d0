// ABOUTME: Shared helpers for CLI commands: opening the app and rendering output
// ABOUTME: Structured output goes through one renderer so --format behaves the same everywhere
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harper/threadkeeper/internal/app"
	"github.com/harper/threadkeeper/internal/config"
	"github.com/harper/threadkeeper/internal/logger"
)

// openApp loads .env and configuration, applies --db, and opens the store.
func openApp(cmd *cobra.Command) (*app.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	log, err := logger.New(cfg.LogMode, logger.Options{
		Redact: cfg.LogRedact,
		Salt:   cfg.LogHashKey,
		Level:  logLevel(),
	})
	if err != nil {
		return nil, err
	}

	a, err := app.Open(cmdContext(cmd), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return a, nil
}

func logLevel() string {
	switch {
	case verbose:
		return "debug"
	case quiet:
		return "error"
	default:
		return "warn"
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// render writes v as JSON or YAML when asked, otherwise calls text.
func render(w io.Writer, v any, text func(io.Writer) error) error {
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	default:
		return text(w)
	}
}

// note prints an informational line unless --quiet is set.
func note(cmd *cobra.Command, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatTime formats a time for display
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	} else if diff < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// validatePositiveInt returns error if n is not positive
func validatePositiveInt(n int, name string) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
