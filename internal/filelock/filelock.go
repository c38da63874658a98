// Package filelock provides the machine-wide exclusive lock that guards an
// options file. The lock lives on a sidecar "<path>.lock" file so the
// options file itself can be replaced by rename while the lock is held.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"optsync/internal/logging"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultInitialInterval = 5 * time.Millisecond
	defaultMaxInterval     = 250 * time.Millisecond

	// Suffix is appended to the guarded path to name the lock file.
	Suffix = ".lock"
)

var (
	ErrLockTimeout = errors.New("timed out acquiring file lock")
	ErrReleased    = errors.New("file lock already released")

	errBusy = errors.New("file lock busy")
)

// Locker acquires exclusive access to a path.
type Locker interface {
	Acquire(ctx context.Context, path string) (Handle, error)
}

// Handle is a held lock.
type Handle interface {
	Release() error
}

// Options controls retry behavior while another process holds the lock.
type Options struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *logging.Logger
}

// FileLocker locks with flock(2) on Unix and LockFileEx on Windows.
type FileLocker struct {
	options Options
	logger  *logging.Logger
}

func New(options Options) *FileLocker {
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.InitialInterval <= 0 {
		options.InitialInterval = defaultInitialInterval
	}
	if options.MaxInterval <= 0 {
		options.MaxInterval = defaultMaxInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileLocker{options: options, logger: logger.Category("filelock")}
}

// LockPath returns the sidecar lock file for path.
func LockPath(path string) string {
	return path + Suffix
}

// Acquire blocks until the lock is held, ctx is done, or the timeout elapses.
func (locker *FileLocker) Acquire(ctx context.Context, path string) (Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lockPath := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = locker.options.InitialInterval
	policy.MaxInterval = locker.options.MaxInterval
	policy.MaxElapsedTime = locker.options.Timeout

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		err := tryLock(file)
		if err == nil || errors.Is(err, errBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = file.Close()
		if errors.Is(err, errBusy) {
			locker.logger.Warn("file lock timed out", map[string]string{
				logging.FieldPath: lockPath,
				"attempts":        fmt.Sprint(attempts),
			})
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, lockPath, locker.options.Timeout)
		}
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if attempts > 1 {
		locker.logger.Debug("file lock acquired after contention", map[string]string{
			logging.FieldPath: lockPath,
			"attempts":        fmt.Sprint(attempts),
		})
	}
	return &fileHandle{file: file}, nil
}

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

func (handle *fileHandle) Release() error {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.file == nil {
		return ErrReleased
	}
	file := handle.file
	handle.file = nil
	unlockErr := unlock(file)
	closeErr := file.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock: %w", unlockErr)
	}
	return closeErr
}
