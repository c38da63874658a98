package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"optsync/internal/broadcast"
	"optsync/internal/codec"
	"optsync/internal/logging"
	"optsync/internal/metrics"
	"optsync/internal/snapshot"
	"optsync/internal/store"
	"optsync/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		if usage, ok := isUsageError(err); ok {
			fmt.Fprintln(errOut, usage.Message)
		}
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		fmt.Fprintln(out, version.Banner("optsync"))
		return exitCodeSuccess
	}

	var logOutput io.Writer = errOut
	if cfg.StreamLogs {
		logOutput = nil
	}
	logger := logging.NewLoggerWithOutput(nil, cfg.LogLevel, logOutput)
	registry := metrics.NewRegistry()
	channel, err := broadcast.NewFileChannel(broadcast.FileOptions{
		Dir:    cfg.BroadcastDir,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(errOut, "broadcast: %v\n", err)
		return exitCodeStore
	}
	defer channel.Close()

	opened, err := store.Open(ctx, cfg.File,
		store.WithChannel(channel),
		store.WithLogger(logger),
		store.WithMetrics(registry),
		store.WithDebounce(cfg.Debounce),
		store.WithSaveOnClose(false),
		store.WithErrorHandler(func(err error) {
			fmt.Fprintf(errOut, "store: %v\n", err)
		}),
	)
	if err != nil {
		fmt.Fprintf(errOut, "open %s: %v\n", cfg.File, err)
		return exitCodeStore
	}

	code := runCommand(ctx, cfg, opened, logger, out, errOut)
	if err := opened.Close(); err != nil {
		fmt.Fprintf(errOut, "close: %v\n", err)
		if code == exitCodeSuccess {
			code = exitCodeStore
		}
	}
	if cfg.Metrics {
		if err := registry.WritePrometheus(errOut); err != nil {
			fmt.Fprintf(errOut, "metrics: %v\n", err)
		}
	}
	return code
}

func runCommand(ctx context.Context, cfg Config, opened *store.Store, logger *logging.Logger, out io.Writer, errOut io.Writer) int {
	switch cfg.Command {
	case "get":
		value, ok := opened.GetOption(cfg.Args[0])
		if !ok {
			fmt.Fprintf(errOut, "option %q is not set\n", cfg.Args[0])
			return exitCodeNotFound
		}
		fmt.Fprintln(out, formatValue(value))
	case "set":
		if err := opened.SetOption(cfg.Args[0], parseValue(cfg.Args[1])); err != nil {
			fmt.Fprintf(errOut, "set: %v\n", err)
			return exitCodeUsage
		}
		if err := opened.Flush(ctx); err != nil {
			fmt.Fprintf(errOut, "save: %v\n", err)
			return exitCodeStore
		}
	case "unset":
		if err := opened.RemoveOption(cfg.Args[0]); err != nil {
			fmt.Fprintf(errOut, "unset: %v\n", err)
			return exitCodeUsage
		}
		if err := opened.Flush(ctx); err != nil {
			fmt.Fprintf(errOut, "save: %v\n", err)
			return exitCodeStore
		}
	case "dump":
		encoder, err := codec.ByName(cfg.Format)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return exitCodeUsage
		}
		payload, err := encoder.Encode(opened.Snapshot())
		if err != nil {
			fmt.Fprintf(errOut, "encode: %v\n", err)
			return exitCodeStore
		}
		if _, err := out.Write(payload); err != nil {
			return exitCodeStore
		}
	case "watch":
		var entries <-chan logging.LogEntry
		if cfg.StreamLogs {
			stream, cancel := logger.Subscribe(cfg.LogLevel)
			defer cancel()
			entries = stream
		}
		return watch(ctx, opened, entries, out)
	}
	return exitCodeSuccess
}

// watch prints one line per changed option, and one per log entry when
// entries is not nil, until ctx is done.
func watch(ctx context.Context, opened *store.Store, entries <-chan logging.LogEntry, out io.Writer) int {
	var mu sync.Mutex
	printLine := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format+"\n", args...)
	}
	remove := opened.AddListener(&store.ListenerFuncs{
		Changed: func(id string) {
			value, ok := opened.GetOption(id)
			if !ok {
				printLine("%s removed", id)
				return
			}
			printLine("%s = %s", id, formatValue(value))
		},
	})
	defer remove()

	for {
		select {
		case <-ctx.Done():
			return exitCodeSuccess
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			printLine("log %s", entry)
		}
	}
}

// parseValue reads JSON scalars and containers; anything else is a string.
func parseValue(raw string) any {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return raw
	}
	if value == nil {
		return raw
	}
	normalized, err := snapshot.Normalize(value)
	if err != nil {
		return raw
	}
	return normalized
}

func formatValue(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprint(value)
	}
	return strings.TrimSpace(buf.String())
}
