package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"optsync/internal/cli"
	"optsync/internal/logging"
	"optsync/internal/store"
)

type Config struct {
	File         string
	BroadcastDir string
	LogLevel     logging.Level
	Debounce     time.Duration
	Format       string
	Metrics      bool
	StreamLogs   bool
	ShowVersion  bool
	Command      string
	Args         []string
}

type usageError struct {
	Message string
}

func (e *usageError) Error() string {
	return e.Message
}

var commandArgs = map[string]int{
	"get":     1,
	"set":     2,
	"unset":   1,
	"dump":    0,
	"watch":   0,
	"version": 0,
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("optsync", flag.ContinueOnError)
	fs.SetOutput(errOut)
	storeFlags := cli.AddStoreFlags(fs, store.DefaultDebounce)
	formatFlag := fs.String("format", "json", "dump output format: toml, yaml, json, proto")
	metricsFlag := fs.Bool("metrics", false, "Print store metrics when the command finishes")
	logFlag := fs.Bool("log", false, "With watch, print store log entries to stdout instead of stderr")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "")
	fs.Usage = func() {
		printHelp(fs.Output(), fs)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}

	level, err := storeFlags.LogLevel(logging.LevelWarning)
	if err != nil {
		return Config{}, &usageError{Message: err.Error()}
	}
	cfg := Config{
		File:         strings.TrimSpace(storeFlags.File),
		BroadcastDir: strings.TrimSpace(storeFlags.BroadcastDir),
		LogLevel:     level,
		Debounce:     storeFlags.Debounce,
		Format:       *formatFlag,
		Metrics:      *metricsFlag,
		StreamLogs:   *logFlag,
		ShowVersion:  helpVersion.Version,
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, &usageError{Message: "command is required"}
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	want, ok := commandArgs[cfg.Command]
	if !ok {
		return Config{}, &usageError{Message: fmt.Sprintf("unknown command %q", cfg.Command)}
	}
	if cfg.Command == "version" {
		cfg.ShowVersion = true
		return cfg, nil
	}
	if len(cfg.Args) != want {
		return Config{}, &usageError{Message: fmt.Sprintf("%s expects %d argument(s), got %d", cfg.Command, want, len(cfg.Args))}
	}
	if cfg.StreamLogs && cfg.Command != "watch" {
		return Config{}, &usageError{Message: "--log only applies to watch"}
	}
	if cfg.File == "" {
		return Config{}, &usageError{Message: "--file is required"}
	}
	return cfg, nil
}

func printHelp(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: optsync [flags] <command> [args]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  get <id>          Print one option")
	fmt.Fprintln(out, "  set <id> <value>  Set an option (JSON values, otherwise a string)")
	fmt.Fprintln(out, "  unset <id>        Remove an option")
	fmt.Fprintln(out, "  dump              Print every option")
	fmt.Fprintln(out, "  watch             Print changes made by other processes until interrupted (-log adds log entries)")
	fmt.Fprintln(out, "  version           Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
}

func isUsageError(err error) (*usageError, bool) {
	var target *usageError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
