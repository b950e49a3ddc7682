// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package lock provides named cross-process mutual exclusion.
//
// A Lock is a handle on one name. Whether two processes exclude each other
// depends only on both using the same Backend: Postgres session-scoped
// advisory locks (the default), Redis SET NX with a fencing token, or an
// in-process map for single-node deployments and tests.
//
//	mgr := lock.NewManager(lock.NewPostgresBackend(db))
//	acquired, err := mgr.WithLock(ctx, "daily", func(ctx context.Context) error {
//	    return engine.Run(ctx)
//	})
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

const (
	// DefaultPollInterval is how often Acquire retries TryAcquire.
	DefaultPollInterval = time.Second

	// releaseTimeout bounds the unlock round trip after fn returns.
	releaseTimeout = 10 * time.Second
)

var (
	// ErrLockTimeout is returned by AcquireOrFail when the lock stayed
	// contended for the whole timeout.
	ErrLockTimeout = errors.New("timed out waiting for lock")

	// ErrAlreadyHeld is returned when a handle that already holds its lock
	// tries to acquire it again. Handles are not reentrant.
	ErrAlreadyHeld = errors.New("lock already held by this handle")
)

// Key identifies a lock on a backend.
type Key struct {
	Name string
	// ID is the advisory-lock integer derived from Name.
	ID int32
}

// NewKey derives the key for name: the first four bytes of SHA-256(name)
// read as a big-endian signed 32-bit integer. Every process computes the
// same ID for the same name.
func NewKey(name string) Key {
	sum := sha256.Sum256([]byte(name))
	return Key{
		Name: name,
		ID:   int32(binary.BigEndian.Uint32(sum[:4])), //nolint:gosec // G115: intentional wraparound into the signed lock space
	}
}

// Lease is proof of holding a lock on a backend.
type Lease interface {
	Release(ctx context.Context) error
}

// Backend is a coordination substrate for locks.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// TryAcquire returns immediately. ok is false when another holder exists.
	TryAcquire(ctx context.Context, key Key) (lease Lease, ok bool, err error)
	Close() error
}

// Option configures a Lock or Manager.
type Option func(*options)

type options struct {
	pollInterval   time.Duration
	acquireTimeout time.Duration
	logger         zerolog.Logger
}

// WithPollInterval sets the Acquire retry interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithAcquireTimeout sets how long Manager.WithLock waits for a contended
// lock. Zero means a single non-blocking attempt.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.acquireTimeout = d
		}
	}
}

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: DefaultPollInterval,
		logger:       logging.WithComponent("lock"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Lock is a handle on one named lock. It is safe for concurrent use, but a
// single handle represents a single holder.
type Lock struct {
	key     Key
	backend Backend
	opts    options

	mu    sync.Mutex
	lease Lease
}

// New returns a handle for name on backend.
func New(name string, backend Backend, opts ...Option) *Lock {
	o := buildOptions(opts)
	return &Lock{
		key:     NewKey(name),
		backend: backend,
		opts:    o,
	}
}

// Name returns the lock name.
func (l *Lock) Name() string { return l.key.Name }

// ID returns the numeric lock id.
func (l *Lock) ID() int32 { return l.key.ID }

// Held reports whether this handle currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lease != nil
}

// TryAcquire makes one non-blocking attempt.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lease != nil {
		return false, ErrAlreadyHeld
	}

	lease, ok, err := l.backend.TryAcquire(ctx, l.key)
	if err != nil {
		metrics.RecordLockAttempt(l.backend.Name(), "error")
		return false, fmt.Errorf("try acquire %s: %w", l.key.Name, err)
	}
	if !ok {
		metrics.RecordLockAttempt(l.backend.Name(), "contended")
		return false, nil
	}

	l.lease = lease
	metrics.RecordLockAttempt(l.backend.Name(), "acquired")
	metrics.TrackLockHeld(l.backend.Name(), true)
	l.opts.logger.Debug().
		Str("lock", l.key.Name).
		Int32("lock_id", l.key.ID).
		Str("backend", l.backend.Name()).
		Msg("Lock acquired")
	return true, nil
}

// Acquire polls TryAcquire every poll interval until it succeeds, timeout
// elapses (false, nil) or ctx is done (false, ctx.Err()). A non-positive
// timeout makes exactly one attempt.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return l.TryAcquire(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(l.opts.pollInterval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			metrics.RecordLockAttempt(l.backend.Name(), "timeout")
			return false, nil
		}

		ok, err := l.TryAcquire(ctx)
		if err != nil || ok {
			return ok, err
		}
	}
}

// AcquireOrFail is Acquire that reports a timeout as ErrLockTimeout.
func (l *Lock) AcquireOrFail(ctx context.Context, timeout time.Duration) error {
	ok, err := l.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.key.Name, timeout)
	}
	return nil
}

// Release unlocks. Releasing a handle that holds nothing logs a warning
// and returns nil.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lease == nil {
		l.opts.logger.Warn().
			Str("lock", l.key.Name).
			Msg("Release called on a lock this handle does not hold")
		return nil
	}

	lease := l.lease
	l.lease = nil
	metrics.TrackLockHeld(l.backend.Name(), false)

	if err := lease.Release(ctx); err != nil {
		return fmt.Errorf("release %s: %w", l.key.Name, err)
	}
	l.opts.logger.Debug().Str("lock", l.key.Name).Msg("Lock released")
	return nil
}

// WithLock runs fn while holding l. acquired is false when the lock could
// not be taken within timeout; fn is then not called. The lock is released
// on every exit path of fn, including a panic, which is re-raised after
// the release.
func WithLock[T any](ctx context.Context, l *Lock, timeout time.Duration, fn func(ctx context.Context) (T, error)) (result T, acquired bool, err error) {
	ok, err := l.Acquire(ctx, timeout)
	if err != nil || !ok {
		return result, false, err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := l.Release(releaseCtx); relErr != nil {
			l.opts.logger.Error().Err(relErr).Str("lock", l.Name()).Msg("Failed to release lock")
			if err == nil {
				err = relErr
			}
		}
	}()

	result, err = fn(ctx)
	return result, true, err
}
