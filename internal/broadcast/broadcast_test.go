package broadcast

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"optsync/internal/fsutil"
	"optsync/internal/metrics"
)

func TestLoopbackSynchronousDeliversBeforeReturn(t *testing.T) {
	channel := NewLoopback(LoopbackOptions{Synchronous: true, Registry: metrics.NewRegistry()})
	defer channel.Close()

	var got []string
	if _, err := channel.Subscribe("a", func(payload string) { got = append(got, "a:"+payload) }); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if _, err := channel.Subscribe("b", func(payload string) { got = append(got, "b:"+payload) }); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if err := channel.Publish(context.Background(), "a", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "a:reload" {
		t.Fatalf("expected only topic a delivery, got %v", got)
	}
}

func TestLoopbackSynchronousCancel(t *testing.T) {
	channel := NewLoopback(LoopbackOptions{Synchronous: true, Registry: metrics.NewRegistry()})
	defer channel.Close()

	calls := 0
	cancel, err := channel.Subscribe("topic", func(string) { calls++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	if err := channel.Publish(context.Background(), "topic", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no delivery after cancel, got %d", calls)
	}
}

func TestLoopbackAsyncDeliversToEverySubscriber(t *testing.T) {
	registry := metrics.NewRegistry()
	channel := NewLoopback(LoopbackOptions{Name: "test-loopback", Registry: registry})
	defer channel.Close()

	first := make(chan string, 1)
	second := make(chan string, 1)
	if _, err := channel.Subscribe("topic", func(payload string) { first <- payload }); err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	if _, err := channel.Subscribe("topic", func(payload string) { second <- payload }); err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	if err := channel.Publish(context.Background(), "topic", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, received := range []chan string{first, second} {
		select {
		case payload := <-received:
			if payload != "reload" {
				t.Fatalf("unexpected payload %q", payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	if count := registry.EventCount("test-loopback", "broadcast", false); count != 1 {
		t.Fatalf("expected 1 published event, got %d", count)
	}
}

func TestLoopbackClosed(t *testing.T) {
	channel := NewLoopback(LoopbackOptions{Registry: metrics.NewRegistry()})
	if err := channel.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := channel.Publish(context.Background(), "topic", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from publish, got %v", err)
	}
	if _, err := channel.Subscribe("topic", func(string) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from subscribe, got %v", err)
	}
}

func TestLoopbackPublishHonorsContext(t *testing.T) {
	channel := NewLoopback(LoopbackOptions{Synchronous: true, Registry: metrics.NewRegistry()})
	defer channel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := channel.Publish(ctx, "topic", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func newTestFileChannel(t *testing.T, dir string) *FileChannel {
	t.Helper()
	channel, err := NewFileChannel(FileOptions{Dir: dir})
	if err != nil {
		t.Skipf("skipping file channel test (watcher unavailable): %v", err)
	}
	t.Cleanup(func() {
		_ = channel.Close()
	})
	return channel
}

func TestFileChannelDeliversAcrossChannels(t *testing.T) {
	dir := t.TempDir()
	sender := newTestFileChannel(t, dir)
	receiver := newTestFileChannel(t, dir)

	received := make(chan string, 4)
	if _, err := receiver.Subscribe("/tmp/options.toml", func(payload string) { received <- payload }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	self := make(chan string, 4)
	if _, err := sender.Subscribe("/tmp/options.toml", func(payload string) { self <- payload }); err != nil {
		t.Fatalf("subscribe sender: %v", err)
	}

	if err := sender.Publish(context.Background(), "/tmp/options.toml", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]chan string{"receiver": received, "sender": self} {
		select {
		case payload := <-ch:
			if payload != "reload" {
				t.Fatalf("%s: unexpected payload %q", name, payload)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("%s: timed out waiting for delivery", name)
		}
	}

	select {
	case payload := <-received:
		t.Fatalf("expected a single delivery, got extra %q", payload)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFileChannelIgnoresOtherTopics(t *testing.T) {
	dir := t.TempDir()
	channel := newTestFileChannel(t, dir)

	received := make(chan string, 1)
	if _, err := channel.Subscribe("one", func(payload string) { received <- payload }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := channel.Publish(context.Background(), "two", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-received:
		t.Fatalf("unexpected delivery %q", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileChannelCancelStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	channel := newTestFileChannel(t, dir)

	received := make(chan string, 1)
	cancel, err := channel.Subscribe("topic", func(payload string) { received <- payload })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()

	if err := channel.Publish(context.Background(), "topic", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-received:
		t.Fatalf("unexpected delivery after cancel %q", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileChannelPrunesExpiredMessages(t *testing.T) {
	dir := t.TempDir()
	channel, err := NewFileChannel(FileOptions{Dir: dir, Retention: time.Minute})
	if err != nil {
		t.Skipf("skipping file channel test (watcher unavailable): %v", err)
	}
	defer channel.Close()

	topicDir := channel.topicDir("topic")
	if err := os.MkdirAll(topicDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(topicDir, "00000000000000000001-stale.msg")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := channel.Publish(context.Background(), "topic", "reload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale message to be pruned, stat err=%v", err)
	}

	entries, err := os.ReadDir(topicDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the fresh message to remain, got %d entries", len(entries))
	}
	name := entries[0].Name()
	if fsutil.IsTempFile(name) || !strings.HasSuffix(name, messageExt) {
		t.Fatalf("unexpected message file %q", name)
	}
}

func TestFileChannelTopicDirIsStable(t *testing.T) {
	dir := t.TempDir()
	first := newTestFileChannel(t, dir)
	second := newTestFileChannel(t, dir)
	if first.topicDir("/a/b.toml") != second.topicDir("/a/b.toml") {
		t.Fatal("expected the same topic dir across channels")
	}
	if first.topicDir("/a/b.toml") == first.topicDir("/a/c.toml") {
		t.Fatal("expected distinct topic dirs for distinct topics")
	}
	if first.Origin() == second.Origin() {
		t.Fatal("expected distinct origins")
	}
}

func TestDefaultDirFromEnv(t *testing.T) {
	t.Setenv(EnvDir, "/var/tmp/custom-broadcast")
	if got := DefaultDir(); got != "/var/tmp/custom-broadcast" {
		t.Fatalf("expected env dir, got %q", got)
	}
}
