// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
scheduler.go - Job Scheduler

The scheduler keeps a job table {name, schedule, lastRun, nextRun} and
advances it from a single loop:

 1. Sleep on the clock until the earliest nextRun.
 2. For every job that is due, dispatch a goroutine and compute the next
    firing from the current time. Firings missed while the process was
    suspended coalesce into one.
 3. The goroutine runs the job under the cluster-wide lock named after the
    job. Lock contention produces a skipped result, not an error.

Runs are detached from the context passed to Start: stopping the scheduler
prevents new firings and waits for in-flight runs, which are bounded by the
per-run timeout instead.
*/

//nolint:staticcheck // File documentation, not package doc
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

var (
	// ErrUnknownJob is returned by RunNow for a name not in the job table.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// DefaultRunTimeout bounds a single run.
const DefaultRunTimeout = 2 * time.Hour

// Locker provides cluster-wide mutual exclusion per job name.
// *lock.Manager implements it.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// Job is one entry of the job table.
type Job struct {
	Name     string
	Schedule string
	Run      JobFunc
}

type jobState struct {
	name     string
	schedule *Schedule
	run      JobFunc

	lastRun    time.Time
	nextRun    time.Time
	running    bool
	lastResult *JobResult
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	LastRun    time.Time  `json:"lastRun,omitempty"`
	NextRun    time.Time  `json:"nextRun"`
	Running    bool       `json:"running"`
	LastResult *JobResult `json:"lastResult,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	IsRunning          bool                 `json:"isRunning"`
	LastRunPerTier     map[string]time.Time `json:"lastRunPerTier"`
	NextScheduledTimes map[string]time.Time `json:"nextScheduledTimes"`
	Jobs               []JobStatus          `json:"jobs"`
}

// Scheduler fires jobs on their cron schedules.
type Scheduler struct {
	locker     Locker
	clock      Clock
	location   *time.Location
	runTimeout time.Duration
	logger     zerolog.Logger
	handlers   []ResultHandler

	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	started bool
	baseCtx context.Context
	stopCh  chan struct{}
	doneCh  chan struct{}
	runs    sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source. The default is the system clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation evaluates cron expressions in loc. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithLogger sets the scheduler logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithResultHandler registers h for every finished run.
func WithResultHandler(h ResultHandler) Option {
	return func(s *Scheduler) { s.handlers = append(s.handlers, h) }
}

// New builds a scheduler over jobs. Every cron expression is parsed up front.
func New(locker Locker, jobs []Job, opts ...Option) (*Scheduler, error) {
	if locker == nil {
		return nil, fmt.Errorf("scheduler requires a locker")
	}

	s := &Scheduler{
		locker:     locker,
		clock:      RealClock{},
		location:   time.UTC,
		runTimeout: DefaultRunTimeout,
		logger:     logging.WithComponent("scheduler"),
		jobs:       make(map[string]*jobState, len(jobs)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, fmt.Errorf("job %q needs a name and a function", j.Name)
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		sched, err := ParseCron(j.Schedule)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		s.jobs[j.Name] = &jobState{name: j.Name, schedule: sched, run: j.Run}
		s.order = append(s.order, j.Name)
	}
	return s, nil
}

// Start computes each job's first firing and starts the loop. The loop ends
// when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	now := s.clock.Now().In(s.location)
	for _, name := range s.order {
		j := s.jobs[name]
		j.nextRun = j.schedule.Next(now)
		s.logger.Info().
			Str("job", name).
			Str("schedule", j.schedule.String()).
			Time("next_run", j.nextRun).
			Msg("Job scheduled")
	}

	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop prevents new firings and waits for in-flight runs to finish.
// It also completes a loop that already ended because the Start context
// was cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	if stopCh == nil {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping scheduler")
	close(stopCh)
	<-doneCh
	s.runs.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer s.loopExited(stopCh)

	for {
		next, ok := s.earliest()
		if !ok {
			s.logger.Warn().Msg("No job has a future firing; scheduler idle")
			select {
			case <-stopCh:
			case <-ctx.Done():
			}
			return
		}

		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		s.fireDue(s.clock.Now().In(s.location))
	}
}

// loopExited clears started when the loop ends on its own. Stop still
// owns stopCh and waits for in-flight runs.
func (s *Scheduler) loopExited(stopCh chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == stopCh && s.started {
		s.started = false
		s.logger.Info().Msg("Scheduler loop ended with its context")
	}
}

func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, j := range s.jobs {
		if j.nextRun.IsZero() {
			continue
		}
		if next.IsZero() || j.nextRun.Before(next) {
			next = j.nextRun
		}
	}
	return next, !next.IsZero()
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		j := s.jobs[name]
		if j.nextRun.IsZero() || j.nextRun.After(now) {
			continue
		}
		scheduled := j.nextRun
		j.nextRun = j.schedule.Next(now)
		s.dispatchLocked(j, scheduled)
	}
}

// dispatchLocked starts a run of j on its own goroutine. s.mu must be held.
func (s *Scheduler) dispatchLocked(j *jobState, scheduled time.Time) {
	ctx := logging.ContextWithNewRunID(s.baseCtx)
	if j.running {
		result := JobResult{
			RunID:      logging.RunIDFromContext(ctx),
			Job:        j.name,
			Status:     StatusSkipped,
			Trigger:    TriggerSchedule,
			StartedAt:  scheduled,
			FinishedAt: scheduled,
			Reason:     "previous run still in progress",
		}
		metrics.RecordJobRun(j.name, string(StatusSkipped), 0)
		s.logger.Info().Str("job", j.name).Msg("Skipping firing: previous run still in progress")
		j.lastResult = &result
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.publish(ctx, result)
		}()
		return
	}

	j.running = true
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
		s.finish(ctx, j, s.execute(runCtx, j, TriggerSchedule))
	}()
}

// RunNow runs job immediately through the same lock path and returns its
// result. The run is bounded by ctx and the run timeout.
func (s *Scheduler) RunNow(ctx context.Context, job string) (JobResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[job]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, job)
	}
	ctx = logging.ContextWithNewRunID(ctx)
	if j.running {
		s.mu.Unlock()
		now := s.clock.Now()
		result := JobResult{
			RunID:      logging.RunIDFromContext(ctx),
			Job:        job,
			Status:     StatusSkipped,
			Trigger:    TriggerManual,
			StartedAt:  now,
			FinishedAt: now,
			Reason:     "run already in progress in this process",
		}
		s.publish(ctx, result)
		return result, nil
	}
	j.running = true
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	result := s.execute(runCtx, j, TriggerManual)
	s.finish(ctx, j, result)
	return result, nil
}

// execute runs j under its lock and converts every outcome, panics
// included, into a JobResult.
func (s *Scheduler) execute(ctx context.Context, j *jobState, trigger Trigger) (result JobResult) {
	start := s.clock.Now()
	log := s.logger.With().Str("job", j.name).Str("run_id", logging.RunIDFromContext(ctx)).Logger()
	result = JobResult{
		RunID:     logging.RunIDFromContext(ctx),
		Job:       j.name,
		Trigger:   trigger,
		StartedAt: start,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Err = fmt.Errorf("job panicked: %v", r)
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Job panicked")
		}
		result.FinishedAt = s.clock.Now()
		result.Duration = result.FinishedAt.Sub(start)
		if result.Err != nil {
			result.ErrorText = result.Err.Error()
		}
		metrics.RecordJobRun(j.name, string(result.Status), result.Duration)
	}()

	var report Report
	acquired, err := s.locker.WithLock(logging.ContextWithLogger(ctx, log), j.name, func(ctx context.Context) error {
		var runErr error
		report, runErr = j.run(ctx)
		return runErr
	})
	result.apply(report)

	switch {
	case err != nil && acquired:
		result.Status = StatusFailed
		result.Err = err
		log.Error().Err(err).Msg("Job failed")
	case err != nil:
		result.Status = StatusFailed
		result.Err = fmt.Errorf("acquire lock: %w", err)
		log.Error().Err(err).Msg("Could not acquire job lock")
	case !acquired:
		result.Status = StatusSkipped
		result.Reason = "lock held by another instance"
		log.Info().Msg("Lock held by another instance; skipping")
	default:
		result.Status = StatusSuccess
		event := log.Info()
		if len(report.Warnings) > 0 {
			event = log.Warn().Strs("warnings", report.Warnings)
		}
		event.Str("detail", report.Detail).Dur("duration", s.clock.Now().Sub(start)).Msg("Job completed")
	}
	return result
}

func (s *Scheduler) finish(ctx context.Context, j *jobState, result JobResult) {
	s.mu.Lock()
	j.running = false
	if result.Status != StatusSkipped {
		j.lastRun = result.StartedAt
	}
	r := result
	j.lastResult = &r
	s.mu.Unlock()

	s.publish(ctx, result)
}

func (s *Scheduler) publish(ctx context.Context, result JobResult) {
	for _, h := range s.handlers {
		h(ctx, result)
	}
}

// Status returns a snapshot of the job table.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:          s.started,
		LastRunPerTier:     make(map[string]time.Time, len(s.jobs)),
		NextScheduledTimes: make(map[string]time.Time, len(s.jobs)),
		Jobs:               make([]JobStatus, 0, len(s.jobs)),
	}
	for _, name := range s.order {
		j := s.jobs[name]
		if !j.lastRun.IsZero() {
			st.LastRunPerTier[name] = j.lastRun
		}
		if !j.nextRun.IsZero() {
			st.NextScheduledTimes[name] = j.nextRun
		}
		js := JobStatus{
			Name:     name,
			Schedule: j.schedule.String(),
			LastRun:  j.lastRun,
			NextRun:  j.nextRun,
			Running:  j.running,
		}
		if j.lastResult != nil {
			r := *j.lastResult
			js.LastResult = &r
		}
		st.Jobs = append(st.Jobs, js)
	}
	sort.SliceStable(st.Jobs, func(a, b int) bool { return st.Jobs[a].Name < st.Jobs[b].Name })
	return st
}

// Jobs returns the job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
