// Package cli holds flag sets shared by optsync binaries.
package cli

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"optsync/internal/logging"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// StoreFlags selects the options file and how a store opened on it behaves.
type StoreFlags struct {
	File         string
	BroadcastDir string
	Debounce     time.Duration
	logLevel     string
}

func AddStoreFlags(fs *flag.FlagSet, defaultDebounce time.Duration) *StoreFlags {
	flags := &StoreFlags{}
	if fs == nil {
		return flags
	}
	fs.StringVar(&flags.File, "file", "", "Options file (format from extension; no extension means TOML)")
	fs.StringVar(&flags.BroadcastDir, "broadcast-dir", "", "Broadcast directory (env: OPTSYNC_BROADCAST_DIR)")
	fs.DurationVar(&flags.Debounce, "debounce", defaultDebounce, "Write delay after the last change")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warning, error (env: OPTSYNC_LOG_LEVEL)")
	return flags
}

// LogLevel returns the flag value, then OPTSYNC_LOG_LEVEL, then fallback.
func (flags *StoreFlags) LogLevel(fallback logging.Level) (logging.Level, error) {
	raw := strings.TrimSpace(flags.logLevel)
	if raw == "" {
		return logging.LevelFromEnv(fallback), nil
	}
	level, ok := logging.ParseLevel(raw)
	if !ok {
		return "", fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}
