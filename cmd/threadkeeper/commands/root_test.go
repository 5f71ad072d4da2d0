// ABOUTME: Tests for the root command: global flags and pre-run validation
// ABOUTME: Covers --db, --format checking, and the verbose/quiet conflict

package commands

import (
	"bytes"
	"strings"
	"testing"
)

func executeRoot(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()

	if cmd.Use != "threadkeeper" || !cmd.SilenceUsage {
		t.Errorf("root = %q (SilenceUsage %v), want threadkeeper with usage silenced", cmd.Use, cmd.SilenceUsage)
	}
	for name, def := range map[string]string{"db": "", "format": "auto", "quiet": "false", "verbose": "false"} {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("--%s not registered", name)
			continue
		}
		if flag.DefValue != def {
			t.Errorf("--%s default = %q, want %q", name, flag.DefValue, def)
		}
	}
}

func TestRootCmd_FormatValidation(t *testing.T) {
	for _, format := range []string{"auto", "json", "yaml"} {
		if _, err := executeRoot("--format", format, "version"); err != nil {
			t.Errorf("--format %s: unexpected error %v", format, err)
		}
	}

	_, err := executeRoot("--format", "xml", "version")
	if err == nil || !strings.Contains(err.Error(), `"xml"`) {
		t.Errorf("--format xml error = %v, want one naming the format", err)
	}
}

func TestRootCmd_VerboseQuietConflict(t *testing.T) {
	if _, err := executeRoot("-v", "-q", "version"); err == nil {
		t.Error("-v with -q should fail")
	}
}

func TestRootCmd_DBFlagSelectsFile(t *testing.T) {
	db := testDB(t)

	out, err := executeRoot("--db", db, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, db) {
		t.Errorf("migrate output should name %s, got %q", db, out)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	have := map[string]bool{}
	for _, sub := range cmd.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range []string{"migrate", "identity", "thread", "usage", "dedup", "serve", "version"} {
		if !have[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
