package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"task-orchestrator/internal/config"
)

func TestWith_AddsContextFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewWithWriter(&buf, config.LogConfig{Level: "info", Format: "json"}, false)

	ctx := WithRunID(WithTraceID(context.Background(), "t-1"), "r-1")
	ctx = WithJobID(ctx, "j-1")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	for k, want := range map[string]string{"trace_id": "t-1", "run_id": "r-1", "job_id": "j-1", "message": "hello"} {
		if line[k] != want {
			t.Fatalf("expected %s=%q, got %v", k, want, line[k])
		}
	}
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn line to be written")
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := Preview("abcdef", 3); got != "abc..." {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := Preview("ab", 3); got != "ab" {
		t.Fatalf("unexpected preview %q", got)
	}
}
