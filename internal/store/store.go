// Package store implements a key/value option store persisted to a file
// that several processes on one machine open at the same time.
//
// Mutations are coalesced by a debounce timer and written under an
// inter-process file lock. After every write the store broadcasts the file
// path; every store on that path, the writer included, reloads the file and
// tells its listeners which options changed.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"optsync/internal/broadcast"
	"optsync/internal/codec"
	"optsync/internal/filelock"
	"optsync/internal/fsutil"
	"optsync/internal/logging"
	"optsync/internal/metrics"
	"optsync/internal/snapshot"
)

var (
	ErrClosed = errors.New("store is closed")
	// ErrPublish marks a save whose file write succeeded but whose
	// broadcast did not go out.
	ErrPublish = errors.New("broadcast publish failed")
)

// Store is safe for concurrent use. Listener callbacks run without any
// store lock held and may call back into the store.
type Store struct {
	path         string
	codec        codec.Codec
	locker       filelock.Locker
	channel      broadcast.Channel
	ownsChannel  bool
	clock        clock.Clock
	debounce     time.Duration
	logger       *logging.Logger
	stats        *metrics.StoreStats
	errorHandler func(error)
	saveOnClose  bool

	// io serializes the locked read/write bodies of this store.
	io sync.Mutex

	mu             sync.Mutex
	current        snapshot.Snapshot
	pending        pendingSet
	inflight       inflightSet
	timer          *clock.Timer
	generation     uint64
	suppress       int
	listeners      []listenerEntry
	nextListenerID uint64
	unsubscribe    func()
	closed         bool
}

// Open loads the options file at path and joins the broadcast topic for it.
// A missing or undecodable file starts the store empty.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	canonical, err := fsutil.CanonicalPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve options path: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.codec == nil {
		o.codec, err = codec.ForPath(canonical)
		if err != nil {
			return nil, err
		}
	}
	if o.locker == nil {
		o.locker = filelock.New(filelock.Options{Logger: o.logger})
	}
	ownsChannel := false
	if o.channel == nil {
		channel, err := broadcast.NewFileChannel(broadcast.FileOptions{Logger: o.logger})
		if err != nil {
			return nil, err
		}
		o.channel = channel
		ownsChannel = true
	}

	store := &Store{
		path:         canonical,
		codec:        o.codec,
		locker:       o.locker,
		channel:      o.channel,
		ownsChannel:  ownsChannel,
		clock:        o.clock,
		debounce:     o.debounce,
		logger:       o.logger.Category("store").With(map[string]string{logging.FieldPath: canonical}),
		stats:        o.metrics.Store(canonical),
		errorHandler: o.errorHandler,
		saveOnClose:  o.saveOnClose,
		current:      snapshot.New(),
	}

	unsubscribe, err := store.channel.Subscribe(canonical, store.handleBroadcast)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("subscribe: %w", err), store.closeOwned())
	}
	store.unsubscribe = unsubscribe

	if err := store.load(ctx); err != nil {
		unsubscribe()
		return nil, multierr.Append(err, store.closeOwned())
	}
	store.logger.Debug("store opened", map[string]string{
		"codec":   store.codec.Name(),
		"options": fmt.Sprintf("%d", len(store.Snapshot())),
	})
	return store, nil
}

// Path returns the canonical path of the options file.
func (store *Store) Path() string {
	return store.path
}

// GetOption returns the value of id and whether it is set.
func (store *Store) GetOption(id string) (any, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	value, ok := store.current[id]
	if !ok {
		return nil, false
	}
	return snapshot.Snapshot{id: value}.Clone()[id], true
}

// Get returns the value of id, or nil when it is not set.
func (store *Store) Get(id string) any {
	value, _ := store.GetOption(id)
	return value
}

// SetOption records value for id. Setting the current value again is a
// no-op. A nil value removes the option.
func (store *Store) SetOption(id string, value any) error {
	if id == "" {
		return snapshot.ErrInvalidID
	}
	normalized, err := store.normalize(id, value)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.closed {
		return ErrClosed
	}
	previous, exists := store.current[id]
	if normalized == nil {
		if !exists {
			return nil
		}
		delete(store.current, id)
	} else {
		if exists && snapshot.Equal(previous, normalized) {
			return nil
		}
		store.current[id] = normalized
	}
	store.pending.add(id)
	store.armLocked()
	return nil
}

// RemoveOption deletes id if it is set.
func (store *Store) RemoveOption(id string) error {
	return store.SetOption(id, nil)
}

// SetDefault sets id only when it has no value yet.
func (store *Store) SetDefault(id string, value any) error {
	if id == "" {
		return snapshot.ErrInvalidID
	}
	normalized, err := store.normalize(id, value)
	if err != nil {
		return err
	}
	if normalized == nil {
		return nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.closed {
		return ErrClosed
	}
	if _, exists := store.current[id]; exists {
		return nil
	}
	store.current[id] = normalized
	store.pending.add(id)
	store.armLocked()
	return nil
}

// normalize converts value and refuses anything the store's file format
// cannot encode.
func (store *Store) normalize(id string, value any) (any, error) {
	normalized, err := snapshot.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", id, err)
	}
	if normalized == nil {
		return nil, nil
	}
	if _, err := store.codec.Encode(snapshot.Snapshot{id: normalized}); err != nil {
		return nil, fmt.Errorf("option %q: %w: %w", id, snapshot.ErrUnsupportedValue, err)
	}
	return normalized, nil
}

// SetDefaults applies SetDefault to every entry, in id order.
func (store *Store) SetDefaults(defaults map[string]any) error {
	ids := make([]string, 0, len(defaults))
	for id := range defaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var err error
	for _, id := range ids {
		err = multierr.Append(err, store.SetDefault(id, defaults[id]))
	}
	return err
}

// Snapshot returns a deep copy of every option.
func (store *Store) Snapshot() snapshot.Snapshot {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.current.Clone()
}

// Decode fills out, a pointer to a struct or map, from the current options.
// Struct fields map to ids through the `option` tag.
func (store *Store) Decode(out any) error {
	return store.Snapshot().Decode(out)
}

// Pending returns the ids mutated since the last flush, oldest first.
func (store *Store) Pending() []string {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.pending.ids()
}

// PendingEchoes returns how many of this store's own broadcasts have not
// come back yet.
func (store *Store) PendingEchoes() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.suppress
}

// Close writes pending mutations, leaves the broadcast topic and releases
// the channel the store created. Calling Close again is a no-op.
func (store *Store) Close() error {
	store.mu.Lock()
	if store.closed {
		store.mu.Unlock()
		return nil
	}
	store.closed = true
	ids := store.beginFlushLocked()
	unsubscribe := store.unsubscribe
	store.unsubscribe = nil
	store.mu.Unlock()

	var err error
	if store.saveOnClose || len(ids) > 0 {
		if saveErr := store.save(context.Background(), ids); saveErr != nil && !errors.Is(saveErr, ErrPublish) {
			err = multierr.Append(err, saveErr)
			store.stats.RecordFlush(saveErr)
		} else {
			err = multierr.Append(err, saveErr)
			store.stats.RecordFlush(nil)
			store.notify(ids, true)
			store.notify(ids, false)
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	err = multierr.Append(err, store.closeOwned())
	store.logger.Debug("store closed", nil)
	return err
}

func (store *Store) closeOwned() error {
	if !store.ownsChannel || store.channel == nil {
		return nil
	}
	return store.channel.Close()
}

func (store *Store) isClosed() bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.closed
}

func (store *Store) reportError(message string, err error) {
	store.logger.Error(message, logging.Err(err))
	if store.errorHandler != nil {
		store.errorHandler(err)
	}
}
