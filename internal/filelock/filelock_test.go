package filelock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "options.toml")
	locker := New(Options{})

	handle, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(LockPath(path)); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := handle.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := handle.Release(); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	locker := New(Options{Timeout: 50 * time.Millisecond, InitialInterval: time.Millisecond})

	held, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	start := time.Now()
	if _, err := locker.Acquire(context.Background(), path); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("expected to wait for the timeout, waited %s", elapsed)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	locker := New(Options{Timeout: time.Minute})

	held, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	locker := New(Options{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})

	held, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.AfterFunc(30*time.Millisecond, func() {
		_ = held.Release()
	})

	second, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	locker := New(Options{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				handle, err := locker.Acquire(context.Background(), path)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				_ = handle.Release()
			}
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("expected lock holders never to overlap")
	}
}
