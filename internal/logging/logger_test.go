package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alerthub/internal/config"
)

func TestConsoleLineColoursLevelAndTagsComponent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := newWithConsole(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "line"},
	}, &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closeFn()

	Component(logger, "engine").Warn("backlog above threshold", "depth", 120)
	logger.Debug("hidden")

	line := out.String()
	if !strings.HasPrefix(line, "\x1b[33m") || !strings.HasSuffix(line, ansiReset+"\n") {
		t.Fatalf("expected warn tone around line, got %q", line)
	}
	if !strings.Contains(line, "component=engine") || !strings.Contains(line, "depth=120") {
		t.Fatalf("missing attrs in %q", line)
	}
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug record must be filtered at info level")
	}
}

func TestTeeWritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerthub.log")
	var out bytes.Buffer
	logger, closeFn, err := newWithConsole(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "error", Format: "json"},
		File:    config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: path},
	}, &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("alert added", "id", "a-1")
	logger.Error("journal write failed", "error", "boom")
	closeFn()

	if strings.Contains(out.String(), "alert added") || !strings.Contains(out.String(), "journal write failed") {
		t.Fatalf("console sink level mismatch: %q", out.String())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(body), `"id":"a-1"`) || !strings.Contains(string(body), "journal write failed") {
		t.Fatalf("file sink missing records: %s", body)
	}
}

func TestNewRejectsInvalidSinks(t *testing.T) {
	t.Parallel()

	if _, _, err := New(config.LogConfig{}); err == nil {
		t.Fatalf("expected error without sinks")
	}
	if _, _, err := New(config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "loud", Format: "line"}}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := New(config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "xml"}}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestComponentNilFallsBackToDiscard(t *testing.T) {
	t.Parallel()

	Component(nil, "noop").Error("dropped")
}
