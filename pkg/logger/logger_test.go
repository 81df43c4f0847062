package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("hidden")
	l.Info("spawned", "task", "a.1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if rec["msg"] != "spawned" || rec["task"] != "a.1" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "DEBUG", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("negotiate", "satisfied", 3)
	if !strings.Contains(buf.String(), "satisfied=3") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestRunID(t *testing.T) {
	ctx := context.Background()
	if got := RunIDFromContext(ctx); got != "" {
		t.Errorf("RunIDFromContext() on empty ctx = %q", got)
	}
	ctx = WithRunID(ctx, "run-1")
	if got := RunIDFromContext(ctx); got != "run-1" {
		t.Errorf("RunIDFromContext() = %q, want run-1", got)
	}

	var buf bytes.Buffer
	base, _ := New(&buf, "info", "text")
	FromContext(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), "run_id=run-1") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("dropped")
	if l.Enabled(context.Background(), 8) {
		t.Error("Nop logger should not be enabled at error level")
	}
}
