// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend excludes holders within one process only.
type MemoryBackend struct {
	mu   sync.Mutex
	held map[int32]string
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{held: make(map[int32]string)}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// TryAcquire implements Backend. Keys collide on ID, as advisory locks do.
func (b *MemoryBackend) TryAcquire(ctx context.Context, key Key) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.held[key.ID]; taken {
		return nil, false, nil
	}
	token := uuid.NewString()
	b.held[key.ID] = token
	return &memoryLease{backend: b, id: key.ID, token: token}, true, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

type memoryLease struct {
	backend *MemoryBackend
	id      int32
	token   string
	once    sync.Once
}

func (l *memoryLease) Release(_ context.Context) error {
	l.once.Do(func() {
		l.backend.mu.Lock()
		defer l.backend.mu.Unlock()
		if l.backend.held[l.id] == l.token {
			delete(l.backend.held, l.id)
		}
	})
	return nil
}
