package broadcast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"optsync/internal/fsutil"
	"optsync/internal/logging"
	"optsync/internal/watcher"
)

const (
	EnvDir = "OPTSYNC_BROADCAST_DIR"

	DefaultRetention = 30 * time.Second
	defaultDebounce  = 10 * time.Millisecond
	defaultDedupSize = 1024
	messageExt       = ".msg"
)

// FileOptions configures a FileChannel.
type FileOptions struct {
	// Dir is the machine-wide rendezvous directory. Empty means
	// $OPTSYNC_BROADCAST_DIR, falling back to <tmp>/optsync-broadcast.
	Dir       string
	Retention time.Duration
	Debounce  time.Duration
	DedupSize int
	Logger    *logging.Logger
	// Watcher is shared when set and is not closed by the channel.
	Watcher watcher.Watch
}

// FileChannel delivers messages between processes on one machine. Each
// message is a small file dropped into a per-topic directory that every
// subscriber watches.
type FileChannel struct {
	dir       string
	origin    string
	retention time.Duration
	dedupSize int
	logger    *logging.Logger
	watch     watcher.Watch
	owned     *watcher.Watcher

	mu            sync.Mutex
	subscriptions map[*fileSubscription]struct{}
	closed        bool
}

type fileSubscription struct {
	topic   string
	handler Handler
	handle  watcher.Handle
	seen    *lru.Cache[string, struct{}]
	once    sync.Once
}

// DefaultDir returns the rendezvous directory used when FileOptions.Dir is empty.
func DefaultDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvDir)); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "optsync-broadcast")
}

func NewFileChannel(options FileOptions) (*FileChannel, error) {
	dir := options.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create broadcast dir: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	retention := options.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	dedupSize := options.DedupSize
	if dedupSize <= 0 {
		dedupSize = defaultDedupSize
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	channel := &FileChannel{
		dir:           dir,
		origin:        uuid.NewString(),
		retention:     retention,
		dedupSize:     dedupSize,
		logger:        logger.Category("broadcast"),
		watch:         options.Watcher,
		subscriptions: make(map[*fileSubscription]struct{}),
	}
	if channel.watch == nil {
		owned, err := watcher.NewWithOptions(watcher.Options{
			Logger:   logger,
			Debounce: debounce,
			ErrorHandler: func(err error) {
				channel.logger.Error("broadcast watcher stopped", logging.Err(err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("start broadcast watcher: %w", err)
		}
		channel.owned = owned
		channel.watch = owned
	}
	return channel, nil
}

// Dir returns the rendezvous directory.
func (channel *FileChannel) Dir() string {
	return channel.dir
}

// Origin identifies messages sent by this channel.
func (channel *FileChannel) Origin() string {
	return channel.origin
}

func (channel *FileChannel) topicDir(topic string) string {
	sum := sha256.Sum256([]byte(topic))
	return filepath.Join(channel.dir, hex.EncodeToString(sum[:16]))
}

func (channel *FileChannel) Publish(ctx context.Context, topic, payload string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if channel.isClosed() {
		return ErrClosed
	}

	now := time.Now().UTC()
	data, err := json.Marshal(Message{
		Topic:   topic,
		Payload: payload,
		Origin:  channel.origin,
		SentAt:  now,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	dir := channel.topicDir(topic)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("create topic dir: %w", err)
	}
	name := fmt.Sprintf("%020d-%s%s", now.UnixNano(), uuid.NewString(), messageExt)
	if err := fsutil.WriteAtomic(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	channel.logger.Debug("broadcast sent", map[string]string{
		"topic":   topic,
		"message": name,
	})
	channel.prune(dir, now)
	return nil
}

// prune removes messages older than the retention window. Failures are
// ignored since another process may be pruning the same directory.
func (channel *FileChannel) prune(dir string, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := now.Add(-channel.retention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			channel.logger.Debug("broadcast pruned", map[string]string{"message": entry.Name()})
		}
	}
}

func (channel *FileChannel) Subscribe(topic string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if channel.isClosed() {
		return nil, ErrClosed
	}
	dir := channel.topicDir(topic)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create topic dir: %w", err)
	}
	seen, err := lru.New[string, struct{}](channel.dedupSize)
	if err != nil {
		return nil, err
	}
	subscription := &fileSubscription{topic: topic, handler: handler, seen: seen}
	handle, err := channel.watch.Watch(dir, func(event watcher.Event) {
		channel.deliver(subscription, event)
	})
	if err != nil {
		return nil, fmt.Errorf("watch topic dir: %w", err)
	}
	subscription.handle = handle

	channel.mu.Lock()
	if channel.closed {
		channel.mu.Unlock()
		_ = handle.Close()
		return nil, ErrClosed
	}
	channel.subscriptions[subscription] = struct{}{}
	channel.mu.Unlock()

	return func() {
		channel.cancel(subscription)
	}, nil
}

func (channel *FileChannel) deliver(subscription *fileSubscription, event watcher.Event) {
	name := filepath.Base(event.Path)
	if fsutil.IsTempFile(name) || filepath.Ext(name) != messageExt {
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	if subscription.seen.Contains(name) {
		return
	}

	data, err := os.ReadFile(event.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			channel.logger.Warn("broadcast read failed", map[string]string{
				logging.FieldPath:  event.Path,
				logging.FieldError: err.Error(),
			})
		}
		return
	}
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		channel.logger.Warn("broadcast decode failed", map[string]string{
			logging.FieldPath:  event.Path,
			logging.FieldError: err.Error(),
		})
		return
	}
	if message.Topic != subscription.topic {
		return
	}
	if contains, _ := subscription.seen.ContainsOrAdd(name, struct{}{}); contains {
		return
	}

	channel.mu.Lock()
	_, active := channel.subscriptions[subscription]
	channel.mu.Unlock()
	if !active {
		return
	}
	channel.logger.Debug("broadcast received", map[string]string{
		"topic":   message.Topic,
		"message": name,
		"self":    fmt.Sprintf("%t", message.Origin == channel.origin),
	})
	subscription.handler(message.Payload)
}

func (channel *FileChannel) cancel(subscription *fileSubscription) {
	subscription.once.Do(func() {
		channel.mu.Lock()
		delete(channel.subscriptions, subscription)
		channel.mu.Unlock()
		if subscription.handle != nil {
			_ = subscription.handle.Close()
		}
	})
}

func (channel *FileChannel) isClosed() bool {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	return channel.closed
}

// Close cancels every subscription and stops the owned watcher.
func (channel *FileChannel) Close() error {
	channel.mu.Lock()
	if channel.closed {
		channel.mu.Unlock()
		return nil
	}
	channel.closed = true
	subscriptions := make([]*fileSubscription, 0, len(channel.subscriptions))
	for subscription := range channel.subscriptions {
		subscriptions = append(subscriptions, subscription)
	}
	channel.mu.Unlock()

	for _, subscription := range subscriptions {
		channel.cancel(subscription)
	}
	if channel.owned != nil {
		return channel.owned.Close()
	}
	return nil
}
