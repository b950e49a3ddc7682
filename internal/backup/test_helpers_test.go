// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testDumpContent is what the fake dumpers write.
const testDumpContent = "CREATE TABLE playback (id bigint PRIMARY KEY);\n"

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), step: time.Minute}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func testKey(t *testing.T) *Key {
	t.Helper()
	key, err := NewKey(bytes.Repeat([]byte{0x5a}, KeySize))
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return key
}

// contentDumper writes content to the requested path.
func contentDumper(content string) Dumper {
	return DumperFunc(func(_ context.Context, outPath string) error {
		return os.WriteFile(outPath, []byte(content), 0o600)
	})
}

func newTestEngine(t *testing.T, retention Retention, dumper Dumper, opts ...EngineOption) *Engine {
	t.Helper()
	if dumper == nil {
		dumper = contentDumper(testDumpContent)
	}
	opts = append([]EngineOption{
		WithClock(newStepClock().Now),
		WithLogger(zerolog.Nop()),
	}, opts...)

	e, err := NewEngine(Config{Root: t.TempDir(), Retention: retention}, testKey(t), dumper, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func mustCreate(t *testing.T, e *Engine, tier Tier) *Artifact {
	t.Helper()
	a, err := e.CreateBackup(context.Background(), tier)
	if err != nil {
		t.Fatalf("CreateBackup(%s): %v", tier, err)
	}
	return a
}

// writeScript writes an executable shell script standing in for pg_dump.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pg_dump")
	//nolint:gosec // G306: test script must be executable
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// dirEntries lists the names in dir, or nil if it does not exist.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
