package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsHeaderAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("run queued",
		String(FieldComponent, "runner"),
		String(FieldRunID, "abc123"),
		Int("jobs", 12),
	)

	line := buf.String()
	if !strings.Contains(line, "[runner]") {
		t.Fatalf("expected component in output, got %q", line)
	}
	if !strings.Contains(line, "run queued") {
		t.Fatalf("expected message in output, got %q", line)
	}
	if !strings.Contains(line, "run_id=abc123") || !strings.Contains(line, "jobs=12") {
		t.Fatalf("expected attrs in output, got %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line suppressed, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestJSONHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl))

	logger.Error("boom", Error(nil))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["msg"] != "boom" {
		t.Fatalf("expected msg key, got %#v", record)
	}
	if record["level"] != "error" {
		t.Fatalf("expected lowercased level, got %#v", record["level"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", record)
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	ctx := WithRunID(context.Background(), "run-9")
	ctx = WithJob(ctx, "tests (linux, 3.13)")
	WithContext(ctx, logger).Info("step done")

	line := buf.String()
	if !strings.Contains(line, "run_id=run-9") {
		t.Fatalf("expected run_id field, got %q", line)
	}
	if !strings.Contains(line, `job="tests (linux, 3.13)"`) {
		t.Fatalf("expected quoted job field, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
