// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/snapvault/internal/lock"
)

// beforeDaily is one minute before the default daily firing.
var beforeDaily = time.Date(2026, 3, 1, 1, 59, 0, 0, time.UTC)

type harness struct {
	clock   *FakeClock
	results chan JobResult
}

func newHarness() *harness {
	return &harness{clock: NewFakeClock(beforeDaily), results: make(chan JobResult, 16)}
}

func (h *harness) newScheduler(t *testing.T, locker Locker, jobs []Job, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{
		WithClock(h.clock),
		WithLogger(zerolog.Nop()),
		WithResultHandler(func(_ context.Context, r JobResult) { h.results <- r }),
	}, opts...)
	s, err := New(locker, jobs, opts...)
	require.NoError(t, err)
	return s
}

func (h *harness) next(t *testing.T) JobResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a job result")
		return JobResult{}
	}
}

func (h *harness) fire(t *testing.T, timers int, d time.Duration) {
	t.Helper()
	require.True(t, h.clock.WaitForTimers(timers, 5*time.Second), "scheduler loop never armed its timer")
	h.clock.Advance(d)
}

func TestTwoSchedulersShareOneLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()
	backend := lock.NewMemoryBackend()

	var executions atomic.Int32
	release := make(chan struct{})
	var releaseOnce sync.Once
	closeRelease := func() { releaseOnce.Do(func() { close(release) }) }

	daily := Job{
		Name:     "daily",
		Schedule: "0 2 * * *",
		Run: func(ctx context.Context) (Report, error) {
			executions.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
				return Report{}, ctx.Err()
			}
			return Report{Detail: "daily/backup-daily.enc"}, nil
		},
	}

	a := h.newScheduler(t, lock.NewManager(backend), []Job{daily})
	b := h.newScheduler(t, lock.NewManager(backend), []Job{daily})
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer b.Stop()
	defer a.Stop()
	defer closeRelease()

	// Both instances fire the same timestamp.
	h.fire(t, 2, time.Minute)

	skipped := h.next(t)
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Reason, "another instance")

	closeRelease()
	done := h.next(t)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, "daily/backup-daily.enc", done.Detail)

	assert.Equal(t, int32(1), executions.Load(), "exactly one instance may run the backup")
}

func TestFailedRunDoesNotStopScheduler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()

	var calls atomic.Int32
	job := Job{
		Name:     "daily",
		Schedule: "0 2 * * *",
		Run: func(context.Context) (Report, error) {
			if calls.Add(1) == 1 {
				return Report{}, errors.New("pg_dump exited with code 2")
			}
			return Report{Detail: "ok"}, nil
		},
	}

	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job})
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	h.fire(t, 1, time.Minute)
	first := h.next(t)
	assert.Equal(t, StatusFailed, first.Status)
	assert.True(t, first.Failed())
	assert.Contains(t, first.ErrorText, "code 2")

	h.fire(t, 1, 24*time.Hour)
	second := h.next(t)
	assert.Equal(t, StatusSuccess, second.Status)
	assert.True(t, s.IsRunning())
}

func TestPanicIsRecoveredIntoResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()
	backend := lock.NewMemoryBackend()

	job := Job{
		Name:     "weekly",
		Schedule: "* * * * *",
		Run: func(context.Context) (Report, error) {
			panic("boom")
		},
	}
	s := h.newScheduler(t, lock.NewManager(backend), []Job{job})
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	h.fire(t, 1, time.Minute)
	r := h.next(t)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.ErrorText, "panicked")

	// The lock was released despite the panic.
	ok, err := lock.New("weekly", backend).TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverlappingFiringIsSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()

	release := make(chan struct{})
	var releaseOnce sync.Once
	closeRelease := func() { releaseOnce.Do(func() { close(release) }) }

	job := Job{
		Name:     "integrity-sweep",
		Schedule: "* * * * *",
		Run: func(context.Context) (Report, error) {
			<-release
			return Report{}, nil
		},
	}
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job})
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	defer closeRelease()

	h.fire(t, 1, time.Minute)
	require.Eventually(t, func() bool { return s.Status().Jobs[0].Running }, 5*time.Second, 5*time.Millisecond)

	h.fire(t, 1, time.Minute)
	r := h.next(t)
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Contains(t, r.Reason, "still in progress")

	closeRelease()
	assert.Equal(t, StatusSuccess, h.next(t).Status)
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()

	job := Job{
		Name:     "daily",
		Schedule: "0 2 * * *",
		Run: func(ctx context.Context) (Report, error) {
			<-ctx.Done()
			return Report{}, ctx.Err()
		},
	}
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job}, WithRunTimeout(50*time.Millisecond))

	r, err := s.RunNow(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
}

func TestRunsAreDetachedFromStartContext(t *testing.T) {
	t.Parallel()
	h := newHarness()

	started := make(chan struct{})
	job := Job{
		Name:     "daily",
		Schedule: "0 2 * * *",
		Run: func(ctx context.Context) (Report, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return Report{}, ctx.Err()
		},
	}
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	h.fire(t, 1, time.Minute)
	<-started
	cancel()

	r := h.next(t)
	assert.Equal(t, StatusSuccess, r.Status, "cancelling the start context must not abort a run")
	s.Stop()
}

func TestStopWaitsForInFlightRuns(t *testing.T) {
	t.Parallel()
	h := newHarness()

	started := make(chan struct{})
	release := make(chan struct{})
	job := Job{
		Name:     "monthly",
		Schedule: "* * * * *",
		Run: func(context.Context) (Report, error) {
			close(started)
			<-release
			return Report{}, nil
		},
	}
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job})
	require.NoError(t, s.Start(context.Background()))

	h.fire(t, 1, time.Minute)
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.False(t, s.IsRunning())
}

func TestRunNow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()

	job := Job{
		Name:     "weekly",
		Schedule: "0 3 * * 0",
		Run: func(context.Context) (Report, error) {
			return Report{Detail: "weekly/x.enc", Warnings: []string{"replication skipped"}}, nil
		},
	}
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{job})

	r, err := s.RunNow(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, TriggerManual, r.Trigger)
	assert.Equal(t, []string{"replication skipped"}, r.Warnings)
	assert.NotEmpty(t, r.RunID)

	st := s.Status()
	assert.Equal(t, beforeDaily, st.LastRunPerTier["weekly"])
	require.Len(t, st.Jobs, 1)
	require.NotNil(t, st.Jobs[0].LastResult)
	assert.Equal(t, StatusSuccess, st.Jobs[0].LastResult.Status)

	_, err = s.RunNow(ctx, "hourly")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunNowSkipsWhenLockHeldElsewhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness()
	backend := lock.NewMemoryBackend()

	other := lock.New("daily", backend)
	ok, err := other.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Release(ctx) //nolint:errcheck // test cleanup

	var ran atomic.Bool
	job := Job{Name: "daily", Schedule: "0 2 * * *", Run: func(context.Context) (Report, error) {
		ran.Store(true)
		return Report{}, nil
	}}
	s := h.newScheduler(t, lock.NewManager(backend), []Job{job})

	r, err := s.RunNow(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, r.Status)
	assert.False(t, ran.Load())
	assert.Empty(t, s.Status().LastRunPerTier)
}

func TestStatusAfterStart(t *testing.T) {
	t.Parallel()
	h := newHarness()
	noop := func(context.Context) (Report, error) { return Report{}, nil }

	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{
		{Name: "daily", Schedule: "0 2 * * *", Run: noop},
		{Name: "weekly", Schedule: "0 3 * * 0", Run: noop},
		{Name: "monthly", Schedule: "0 4 1 * *", Run: noop},
	})
	assert.False(t, s.Status().IsRunning)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	st := s.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), st.NextScheduledTimes["daily"])
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), st.NextScheduledTimes["weekly"]) // 1 March 2026 is a Sunday
	assert.Equal(t, time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC), st.NextScheduledTimes["monthly"])
	assert.Equal(t, []string{"daily", "weekly", "monthly"}, s.Jobs())
}

func TestNotRunningAfterStartContextCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness()
	noop := func(context.Context) (Report, error) { return Report{}, nil }
	s := h.newScheduler(t, lock.NewManager(lock.NewMemoryBackend()), []Job{
		{Name: "daily", Schedule: "0 2 * * *", Run: noop},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.True(t, h.clock.WaitForTimers(1, 5*time.Second))
	assert.True(t, s.IsRunning())

	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, s.Status().IsRunning)

	// Stop after the loop is gone returns, and the scheduler can start again.
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestNewRejectsBadJobs(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) (Report, error) { return Report{}, nil }
	locker := lock.NewManager(lock.NewMemoryBackend())

	tests := []struct {
		name string
		jobs []Job
		want string
	}{
		{name: "bad cron", jobs: []Job{{Name: "daily", Schedule: "0 25 * * *", Run: noop}}, want: "hour field"},
		{name: "duplicate", jobs: []Job{{Name: "daily", Schedule: "0 2 * * *", Run: noop}, {Name: "daily", Schedule: "0 3 * * *", Run: noop}}, want: "duplicate"},
		{name: "no function", jobs: []Job{{Name: "daily", Schedule: "0 2 * * *"}}, want: "function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(locker, tt.jobs)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil locker")
	}
}
