// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"time"
)

// Manager hands out fresh Lock handles on one backend.
type Manager struct {
	backend Backend
	opts    []Option
	timeout time.Duration
}

// NewManager returns a Manager for backend. WithAcquireTimeout sets how long
// WithLock waits; the default is a single non-blocking attempt.
func NewManager(backend Backend, opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{
		backend: backend,
		opts:    opts,
		timeout: o.acquireTimeout,
	}
}

// NewLock returns a new handle for name.
func (m *Manager) NewLock(name string) *Lock {
	return New(name, m.backend, m.opts...)
}

// WithLock runs fn under the named lock. It reports acquired=false without
// calling fn when another holder kept the lock for the whole timeout.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	_, acquired, err := WithLock(ctx, m.NewLock(name), m.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return acquired, err
}

// Backend returns the backend name.
func (m *Manager) Backend() string {
	return m.backend.Name()
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
