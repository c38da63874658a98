package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/multierr"

	"optsync/internal/filelock"
	"optsync/internal/fsutil"
	"optsync/internal/logging"
	"optsync/internal/snapshot"
)

const fileMode = 0o644

// armLocked starts the debounce timer over. A fire from an earlier arming
// that is already running sees a stale generation and does nothing.
func (store *Store) armLocked() {
	if store.timer != nil {
		store.timer.Stop()
	}
	store.generation++
	generation := store.generation
	store.timer = store.clock.AfterFunc(store.debounce, func() {
		store.onTimer(generation)
	})
}

func (store *Store) stopLocked() {
	if store.timer != nil {
		store.timer.Stop()
		store.timer = nil
	}
	store.generation++
}

func (store *Store) onTimer(generation uint64) {
	store.mu.Lock()
	if generation != store.generation {
		store.mu.Unlock()
		return
	}
	ids := store.beginFlushLocked()
	store.mu.Unlock()
	if err := store.flushIDs(context.Background(), ids); err != nil {
		store.reportError("flush failed", err)
	}
}

// Flush writes pending mutations now instead of waiting for the timer.
func (store *Store) Flush(ctx context.Context) error {
	if store.isClosed() {
		return ErrClosed
	}
	return store.flush(ctx)
}

func (store *Store) flush(ctx context.Context) error {
	store.mu.Lock()
	ids := store.beginFlushLocked()
	store.mu.Unlock()
	return store.flushIDs(ctx, ids)
}

// beginFlushLocked stops the timer and moves the pending ids in flight,
// where a reload still treats them as local until the write finishes.
func (store *Store) beginFlushLocked() []string {
	store.stopLocked()
	ids := store.pending.take()
	store.inflight.add(ids)
	return ids
}

// flushIDs saves once for ids, then runs the early pass and the main pass.
// On failure nothing is notified and the ids are pending again.
func (store *Store) flushIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := store.save(ctx, ids)
	if err != nil && !errors.Is(err, ErrPublish) {
		store.stats.RecordFlush(err)
		return err
	}
	store.stats.RecordFlush(nil)
	store.logger.Debug("flushed", map[string]string{"options": strconv.Itoa(len(ids))})

	store.notify(ids, true)
	store.notify(ids, false)
	return err
}

// Save writes the whole snapshot and broadcasts the path.
func (store *Store) Save(ctx context.Context) error {
	if store.isClosed() {
		return ErrClosed
	}
	return store.save(ctx, nil)
}

// save writes the snapshot for the in-flight ids and broadcasts the path.
func (store *Store) save(ctx context.Context, ids []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.writeFile(ctx, ids); err != nil {
		return err
	}
	store.stats.Saves.Add(1)

	// Counted before publishing since delivery may happen inside Publish.
	store.mu.Lock()
	store.suppress++
	store.mu.Unlock()

	if err := store.channel.Publish(ctx, store.path, store.path); err != nil {
		store.mu.Lock()
		if store.suppress > 0 {
			store.suppress--
		}
		store.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	store.stats.BroadcastsSent.Add(1)
	return nil
}

// writeFile lands ids before releasing io: on success the file holds their
// values, on failure they are pending again and the timer is rearmed.
func (store *Store) writeFile(ctx context.Context, ids []string) error {
	store.io.Lock()
	defer store.io.Unlock()

	err := store.writeLocked(ctx)

	store.mu.Lock()
	store.inflight.remove(ids)
	if err != nil && len(ids) > 0 {
		store.pending.restore(ids)
		if !store.closed {
			store.armLocked()
		}
	}
	store.mu.Unlock()
	return err
}

func (store *Store) writeLocked(ctx context.Context) (err error) {
	handle, err := store.acquire(ctx)
	if err != nil {
		return fmt.Errorf("save %s: %w", store.path, err)
	}
	defer func() {
		err = multierr.Append(err, handle.Release())
	}()

	payload, err := store.codec.Encode(store.Snapshot())
	if err != nil {
		return fmt.Errorf("encode %s: %w", store.path, err)
	}
	if err := fsutil.WriteAtomic(store.path, payload, fileMode); err != nil {
		return fmt.Errorf("save %s: %w", store.path, err)
	}
	return nil
}

// Load replaces the snapshot with the file contents and notifies listeners
// of the options whose values differ.
func (store *Store) Load(ctx context.Context) error {
	if store.isClosed() {
		return ErrClosed
	}
	return store.load(ctx)
}

func (store *Store) load(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	changed, err := store.readFile(ctx)
	if err != nil {
		store.stats.LoadFailures.Add(1)
		return err
	}
	store.stats.Loads.Add(1)
	store.notify(changed, false)
	return nil
}

// readFile swaps in the decoded file while the lock is held and returns the
// sorted ids that changed. This is not a wholesale replace: ids that are
// pending or in flight keep their local values, which the next or current
// save writes over the file.
func (store *Store) readFile(ctx context.Context) (changed []string, err error) {
	store.io.Lock()
	defer store.io.Unlock()

	handle, err := store.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", store.path, err)
	}
	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			store.logger.Warn("lock release failed", logging.Err(releaseErr))
		}
	}()

	raw, exists, err := fsutil.ReadFileOrEmpty(store.path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", store.path, err)
	}
	next := snapshot.New()
	if exists && len(raw) > 0 {
		decoded, decodeErr := store.codec.Decode(raw)
		if decodeErr != nil {
			store.logger.Warn("options file unreadable, starting empty", logging.Err(decodeErr))
		} else {
			next = decoded
		}
	}

	store.mu.Lock()
	// Unsaved local mutations are newer than the file.
	for _, id := range append(store.pending.ids(), store.inflight.ids()...) {
		if value, ok := store.current[id]; ok {
			next[id] = value
		} else {
			delete(next, id)
		}
	}
	changed = snapshot.Diff(store.current, next)
	store.current = next
	store.mu.Unlock()
	return changed, nil
}

func (store *Store) acquire(ctx context.Context) (filelock.Handle, error) {
	started := store.clock.Now()
	handle, err := store.locker.Acquire(ctx, store.path)
	store.stats.RecordLockWait(store.clock.Since(started))
	return handle, err
}

// handleBroadcast reloads on every message for this file. Messages this
// store sent itself still reload; they are only counted separately.
func (store *Store) handleBroadcast(payload string) {
	if payload != store.path {
		return
	}
	store.mu.Lock()
	if store.closed {
		if store.suppress > 0 {
			store.suppress--
		}
		store.mu.Unlock()
		return
	}
	self := store.suppress > 0
	if self {
		store.suppress--
	}
	store.mu.Unlock()

	store.stats.BroadcastsRecv.Add(1)
	if self {
		store.stats.SelfEchoes.Add(1)
	}
	store.logger.Debug("broadcast received", map[string]string{"self": strconv.FormatBool(self)})

	if err := store.load(context.Background()); err != nil {
		store.reportError("reload failed", err)
	}
}
