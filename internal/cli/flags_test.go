package cli

import (
	"flag"
	"io"
	"testing"
	"time"

	"optsync/internal/logging"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestHelpFlag(t *testing.T) {
	fs := newFlagSet()
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"-h"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Help {
		t.Fatalf("expected help flag set")
	}
}

func TestVersionFlag(t *testing.T) {
	fs := newFlagSet()
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"--version"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Version {
		t.Fatalf("expected version flag set")
	}
}

func TestStoreFlags(t *testing.T) {
	fs := newFlagSet()
	flags := AddStoreFlags(fs, time.Second)

	if err := fs.Parse([]string{"--file", "opts.yaml", "--debounce", "250ms", "--log-level", "debug"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.File != "opts.yaml" {
		t.Fatalf("expected file opts.yaml, got %q", flags.File)
	}
	if flags.Debounce != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %s", flags.Debounce)
	}
	level, err := flags.LogLevel(logging.LevelWarning)
	if err != nil || level != logging.LevelDebug {
		t.Fatalf("expected debug level, got %q (%v)", level, err)
	}
}

func TestStoreFlagsLogLevelFallback(t *testing.T) {
	t.Setenv(logging.EnvLevel, "")
	fs := newFlagSet()
	flags := AddStoreFlags(fs, time.Second)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.Debounce != time.Second {
		t.Fatalf("expected default debounce, got %s", flags.Debounce)
	}
	level, err := flags.LogLevel(logging.LevelError)
	if err != nil || level != logging.LevelError {
		t.Fatalf("expected fallback level, got %q (%v)", level, err)
	}

	t.Setenv(logging.EnvLevel, "info")
	if level, _ := flags.LogLevel(logging.LevelError); level != logging.LevelInfo {
		t.Fatalf("expected env level, got %q", level)
	}
}

func TestStoreFlagsRejectsBadLevel(t *testing.T) {
	fs := newFlagSet()
	flags := AddStoreFlags(fs, time.Second)
	if err := fs.Parse([]string{"--log-level", "loud"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := flags.LogLevel(logging.LevelInfo); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
