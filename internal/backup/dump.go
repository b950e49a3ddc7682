// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// maxStderrBytes bounds how much pg_dump diagnostic output is retained.
const maxStderrBytes = 64 << 10

// Dumper writes a plaintext logical dump of the source database to outPath.
type Dumper interface {
	Dump(ctx context.Context, outPath string) error
}

// DumperFunc adapts a function to Dumper.
type DumperFunc func(ctx context.Context, outPath string) error

// Dump implements Dumper.
func (f DumperFunc) Dump(ctx context.Context, outPath string) error {
	return f(ctx, outPath)
}

// PgDumpConfig configures the pg_dump subprocess.
type PgDumpConfig struct {
	// Binary is the pg_dump executable. Default: pg_dump on PATH.
	Binary string
	// DatabaseURL is a postgres:// connection URL.
	DatabaseURL string
	// ExtraArgs are appended after the connection and output flags.
	ExtraArgs []string
	// Timeout kills the process if it runs longer. Zero relies on ctx alone.
	Timeout time.Duration
}

// PgDumper runs pg_dump as a black box: exit 0 with the dump at outPath, or
// non-zero with diagnostics on stderr.
type PgDumper struct {
	cfg PgDumpConfig
}

// NewPgDumper returns a Dumper that shells out to pg_dump.
func NewPgDumper(cfg PgDumpConfig) *PgDumper {
	if cfg.Binary == "" {
		cfg.Binary = "pg_dump"
	}
	return &PgDumper{cfg: cfg}
}

// Dump implements Dumper.
func (d *PgDumper) Dump(ctx context.Context, outPath string) error {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	dbURL, password := splitPassword(d.cfg.DatabaseURL)

	args := []string{"--file", outPath, "--no-password"}
	if dbURL != "" {
		args = append(args, "--dbname", dbURL)
	}
	args = append(args, d.cfg.ExtraArgs...)

	//nolint:gosec // G204: binary and arguments come from operator configuration
	cmd := exec.CommandContext(ctx, d.cfg.Binary, args...)
	cmd.Env = os.Environ()
	if password != "" {
		// Keeps the password out of the process list.
		cmd.Env = append(cmd.Env, "PGPASSWORD="+password)
	}
	stderr := &tailBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr
	// A killed pg_dump can leave children holding the stderr pipe.
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil {
		if _, statErr := os.Stat(outPath); statErr != nil {
			return &DumpError{ExitCode: 0, Stderr: stderr.String(), Err: fmt.Errorf("dump file missing: %w", statErr)}
		}
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &DumpError{ExitCode: -1, Stderr: stderr.String(), TimedOut: true, Err: ctx.Err()}
	}
	if ctx.Err() != nil {
		return &DumpError{ExitCode: -1, Stderr: stderr.String(), Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &DumpError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String(), Err: err}
	}
	return &DumpError{ExitCode: -1, Stderr: stderr.String(), Err: err}
}

// splitPassword removes the password from a URL-form connection string so
// it can be passed through PGPASSWORD instead of argv. Keyword/value
// connection strings are returned unchanged.
func splitPassword(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.User == nil {
		return raw, ""
	}
	password, ok := u.User.Password()
	if !ok {
		return raw, ""
	}
	u.User = url.User(u.User.Username())
	return u.String(), password
}

// tailBuffer keeps the last max bytes written to it. pg_dump reports the
// fatal error at the end of its output.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.ToValidUTF8(string(b.buf), "")
}
