package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	watcher, err := NewWithOptions(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	t.Cleanup(func() {
		_ = watcher.Close()
	})
	return watcher
}

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher := newTestWatcher(t)

	path := filepath.Join(t.TempDir(), "options.toml")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o600); err != nil {
		t.Fatalf("create file: %v", err)
	}

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(path, []byte("a = 2\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
	if !event.Op.Has(fsnotify.Write) {
		t.Fatalf("expected write op, got %s", event.Op)
	}
}

func TestWatcherDirectoryDeliversChildCreate(t *testing.T) {
	watcher := newTestWatcher(t)
	dir := t.TempDir()

	events := make(chan Event, 8)
	handle, err := watcher.Watch(dir, func(event Event) {
		events <- event
	})
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	defer handle.Close()

	child := filepath.Join(dir, "message.msg")
	if err := os.WriteFile(child, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write child: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for child event")
	}
	if event.Path != child {
		t.Fatalf("expected path %q, got %q", child, event.Path)
	}
	if !event.Op.Has(fsnotify.Create) {
		t.Fatalf("expected create op to survive coalescing, got %s", event.Op)
	}
}

func TestWatcherHandleCloseStopsDelivery(t *testing.T) {
	watcher := newTestWatcher(t)
	dir := t.TempDir()

	events := make(chan Event, 8)
	handle, err := watcher.Watch(dir, func(event Event) {
		events <- event
	})
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 1 {
		t.Fatalf("expected 1 active watch, got %d", got)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected 0 active watches, got %d", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "late.msg"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected event after close: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherMaxWatches(t *testing.T) {
	watcher, err := NewWithOptions(Options{MaxWatches: 1})
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	defer watcher.Close()

	first, err := watcher.Watch(t.TempDir(), func(Event) {})
	if err != nil {
		t.Fatalf("first watch: %v", err)
	}
	defer first.Close()

	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); !errors.Is(err, ErrMaxWatchesExceeded) {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}
}

func TestWatchAfterCloseFails(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitForEvent(events <-chan Event) (Event, bool) {
	select {
	case event := <-events:
		return event, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}
