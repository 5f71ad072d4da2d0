// ABOUTME: Tests for identity redaction in the structured logger
// ABOUTME: Verifies identity keys are hashed and other keys pass through
package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSanitizeKVs_HashesIdentity(t *testing.T) {
	l := Nop()
	l.redact = true
	l.salt = "pepper"

	out := l.sanitizeKVs([]interface{}{"identity", "+15551234567", "count", 3})
	if len(out) != 4 {
		t.Fatalf("sanitizeKVs() len = %d, want 4", len(out))
	}
	hashed, ok := out[1].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") {
		t.Errorf("identity value = %v, want hash: prefix", out[1])
	}
	if strings.Contains(hashed, "5551234567") {
		t.Error("identity value leaked into hash output")
	}
	if out[3] != 3 {
		t.Errorf("count value = %v, want 3", out[3])
	}
}

func TestSanitizeKVs_DisabledPassesThrough(t *testing.T) {
	l := Nop()
	out := l.sanitizeKVs([]interface{}{"identity", "+15551234567"})
	if out[1] != "+15551234567" {
		t.Errorf("identity value = %v, want unchanged", out[1])
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	l := Nop()
	l.redact = true
	out := l.sanitizeKVs([]interface{}{"phone_number", "+1555", "dangling"})
	if len(out) != 3 {
		t.Fatalf("sanitizeKVs() len = %d, want 3", len(out))
	}
	if out[2] != "dangling" {
		t.Errorf("trailing key = %v, want dangling", out[2])
	}
}

func TestHashValue_StableWithSalt(t *testing.T) {
	a := &Logger{salt: "s"}
	b := &Logger{salt: "s"}
	c := &Logger{salt: "other"}
	if a.hashValue("x") != b.hashValue("x") {
		t.Error("same salt should produce same hash")
	}
	if a.hashValue("x") == c.hashValue("x") {
		t.Error("different salt should produce different hash")
	}
	if a.hashValue("") != "" {
		t.Error("empty value should hash to empty string")
	}
}

func TestNew_LevelOverride(t *testing.T) {
	l, err := New("dev", Options{Level: "warn"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if l.SugaredLogger.Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}

	if _, err := New("dev", Options{Level: "loud"}); err == nil {
		t.Error("New() with unknown level should fail")
	}
}
