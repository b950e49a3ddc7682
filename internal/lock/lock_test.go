// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestNewKeyIsStable(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("daily"))
	want := int32(binary.BigEndian.Uint32(sum[:4])) //nolint:gosec // mirrors NewKey

	for i := 0; i < 3; i++ {
		if got := NewKey("daily").ID; got != want {
			t.Fatalf("NewKey(daily).ID = %d, want %d", got, want)
		}
	}
	if NewKey("daily").ID == NewKey("weekly").ID {
		t.Error("expected different names to produce different ids")
	}
}

func TestTryAcquireIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	a := New("daily", backend)
	b := New("daily", backend)

	ok, err := a.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}
	if !a.Held() {
		t.Error("expected handle a to report held")
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("expected second handle to be refused")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	ok, err = b.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("TryAcquire after release: ok=%v err=%v", ok, err)
	}
}

func TestTryAcquireTwiceOnSameHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New("daily", NewMemoryBackend())

	if ok, _ := l.TryAcquire(ctx); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if _, err := l.TryAcquire(ctx); !errors.Is(err, ErrAlreadyHeld) {
		t.Errorf("expected ErrAlreadyHeld, got %v", err)
	}
}

func TestReleaseWhenNotHeldIsNoop(t *testing.T) {
	t.Parallel()

	l := New("daily", NewMemoryBackend())
	if err := l.Release(context.Background()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	holder := New("weekly", backend)
	if ok, _ := holder.TryAcquire(ctx); !ok {
		t.Fatal("holder failed to acquire")
	}

	waiter := New("weekly", backend, WithPollInterval(10*time.Millisecond))
	start := time.Now()
	ok, err := waiter.Acquire(ctx, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("expected Acquire to time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire took %s, expected to give up near the timeout", elapsed)
	}

	if err := waiter.AcquireOrFail(ctx, 20*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
}

func TestAcquireSucceedsOnceReleased(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	holder := New("monthly", backend)
	if ok, _ := holder.TryAcquire(ctx); !ok {
		t.Fatal("holder failed to acquire")
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Release(ctx)
	}()

	waiter := New("monthly", backend, WithPollInterval(5*time.Millisecond))
	ok, err := waiter.Acquire(ctx, 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()
	backend := NewMemoryBackend()
	holder := New("sweep", backend)
	if ok, _ := holder.TryAcquire(context.Background()); !ok {
		t.Fatal("holder failed to acquire")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	waiter := New("sweep", backend, WithPollInterval(5*time.Millisecond))
	ok, err := waiter.Acquire(ctx, 5*time.Second)
	if ok {
		t.Fatal("expected no acquisition")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWithLockNotAcquiredSkipsFn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	holder := New("daily", backend)
	if ok, _ := holder.TryAcquire(ctx); !ok {
		t.Fatal("holder failed to acquire")
	}

	called := false
	_, acquired, err := WithLock(ctx, New("daily", backend), 0, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if acquired || called {
		t.Errorf("expected skip, acquired=%v called=%v", acquired, called)
	}
}

func TestWithLockReturnsResultAndReleases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	got, acquired, err := WithLock(ctx, New("daily", backend), 0, func(context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || !acquired || got != "done" {
		t.Fatalf("WithLock = (%q, %v, %v)", got, acquired, err)
	}

	if ok, _ := New("daily", backend).TryAcquire(ctx); !ok {
		t.Error("expected lock to be released after WithLock")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()
	boom := errors.New("boom")

	_, acquired, err := WithLock(ctx, New("daily", backend), 0, func(context.Context) (int, error) {
		return 0, boom
	})
	if !acquired || !errors.Is(err, boom) {
		t.Fatalf("expected acquired with boom, got acquired=%v err=%v", acquired, err)
	}
	if ok, _ := New("daily", backend).TryAcquire(ctx); !ok {
		t.Error("expected lock to be released after error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _, _ = WithLock(ctx, New("daily", backend), 0, func(context.Context) (int, error) {
			panic("fn exploded")
		})
	}()

	if ok, _ := New("daily", backend).TryAcquire(ctx); !ok {
		t.Error("expected lock to be released after panic")
	}
}

func TestManagerWithLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(NewMemoryBackend())

	ran := false
	acquired, err := mgr.WithLock(ctx, "daily", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !acquired || !ran {
		t.Fatalf("acquired=%v ran=%v err=%v", acquired, ran, err)
	}
	if mgr.Backend() != "memory" {
		t.Errorf("expected memory backend, got %s", mgr.Backend())
	}
}

type interval struct{ start, end time.Time }

// assertMutualExclusion runs two workers through WithLock on the same name
// and checks that their critical sections never overlap.
func assertMutualExclusion(t *testing.T, newBackendLock func() *Lock) {
	t.Helper()

	var (
		mu        sync.Mutex
		intervals []interval
		inside    atomic.Int32
		overlap   atomic.Bool
		wg        sync.WaitGroup
	)

	worker := func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, acquired, err := WithLock(context.Background(), newBackendLock(), 5*time.Second, func(context.Context) (struct{}, error) {
				if inside.Add(1) != 1 {
					overlap.Store(true)
				}
				start := time.Now()
				time.Sleep(5 * time.Millisecond)
				end := time.Now()
				inside.Add(-1)

				mu.Lock()
				intervals = append(intervals, interval{start, end})
				mu.Unlock()
				return struct{}{}, nil
			})
			if err != nil || !acquired {
				t.Errorf("WithLock: acquired=%v err=%v", acquired, err)
				return
			}
		}
	}

	wg.Add(2)
	go worker()
	go worker()
	wg.Wait()

	if overlap.Load() {
		t.Fatal("two holders were inside the critical section at once")
	}
	if len(intervals) != 10 {
		t.Fatalf("expected 10 intervals, got %d", len(intervals))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start.Before(intervals[j].start) })
	for i := 1; i < len(intervals); i++ {
		if intervals[i].start.Before(intervals[i-1].end) {
			t.Errorf("interval %d starts at %s before previous end %s", i, intervals[i].start, intervals[i-1].end)
		}
	}
}

func TestWithLockMutualExclusionMemory(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	assertMutualExclusion(t, func() *Lock {
		return New("jobX", backend, WithPollInterval(2*time.Millisecond))
	})
}

func TestWithLockMutualExclusionRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	backend, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	defer backend.Close()

	assertMutualExclusion(t, func() *Lock {
		return New("jobX", backend, WithPollInterval(2*time.Millisecond))
	})
}
