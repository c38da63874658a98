package logging

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"optsync/internal/metrics"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("saved", map[string]string{FieldPath: "/tmp/a.toml"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Context[FieldPath] != "/tmp/a.toml" {
		t.Fatalf("expected path context, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerCategoryMergesContext(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(NewLogBuffer(10), LevelDebug, &out).Category("store")

	logger.Error("flush failed", Err(errors.New("boom")))

	line := out.String()
	if !strings.Contains(line, `optsync.category="store"`) {
		t.Fatalf("expected category in output, got %q", line)
	}
	if !strings.Contains(line, `error="boom"`) {
		t.Fatalf("expected error in output, got %q", line)
	}
	if !strings.Contains(line, `level=error msg="flush failed"`) {
		t.Fatalf("unexpected output %q", line)
	}
}

func TestLoggerSubscribe(t *testing.T) {
	logger := Discard()
	entries, cancel := logger.Subscribe(LevelInfo)
	defer cancel()

	logger.Info("hello", nil)

	select {
	case entry := <-entries:
		if entry.Message != "hello" {
			t.Fatalf("expected hello, got %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "WARN")
	if got := LevelFromEnv(LevelInfo); got != LevelWarning {
		t.Fatalf("expected warning, got %q", got)
	}
	t.Setenv(EnvLevel, "loud")
	if got := LevelFromEnv(LevelDebug); got != LevelDebug {
		t.Fatalf("expected fallback debug, got %q", got)
	}
}

func TestLogBufferFind(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "first"})
	buffer.Add(LogEntry{Message: "second"})
	buffer.Add(LogEntry{Message: "second"})

	if got := len(buffer.Find("first")); got != 0 {
		t.Fatalf("expected first to be evicted, got %d", got)
	}
	if got := len(buffer.Find("second")); got != 2 {
		t.Fatalf("expected 2 matches, got %d", got)
	}
}

func TestLoggerSubscribeFiltersByLevel(t *testing.T) {
	logger := NewLoggerWithOutput(nil, LevelDebug, nil).Category("store")
	entries, cancel := logger.Subscribe(LevelWarning)
	defer cancel()

	logger.Debug("quiet", nil)
	logger.Info("quiet", nil)
	logger.Warn("loud", map[string]string{FieldPath: "/tmp/a.toml"})

	select {
	case entry := <-entries:
		if entry.Message != "loud" {
			t.Fatalf("expected only the warning, got %q", entry.Message)
		}
		if got := entry.String(); got != `level=warning msg="loud" optsync.category="store" path="/tmp/a.toml"` {
			t.Fatalf("unexpected rendering %q", got)
		}
		if entry.Type() != "log.warning" {
			t.Fatalf("unexpected type %q", entry.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}
	select {
	case entry := <-entries:
		t.Fatalf("unexpected extra entry %q", entry.Message)
	default:
	}
}

func TestLogHubCountsDroppedEntries(t *testing.T) {
	hub := NewLogHub(metrics.NewRegistry())
	defer hub.Close()
	_, cancel := hub.Subscribe(LevelDebug)
	defer cancel()

	for i := 0; i < defaultSubscriberBuffer+5; i++ {
		hub.Broadcast(LogEntry{Level: LevelInfo, Message: "spam"})
	}
	if got := hub.Dropped(); got != 5 {
		t.Fatalf("expected 5 dropped entries, got %d", got)
	}
}

func TestLogHubClose(t *testing.T) {
	hub := NewLogHub(metrics.NewRegistry())
	ch, _ := hub.Subscribe(LevelDebug)
	hub.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func FuzzParseLevel(f *testing.F) {
	for _, seed := range []string{"info", "warn", "warning", "error", "debug", "", "???", "INFO"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		_, _ = ParseLevel(raw)
	})
}
