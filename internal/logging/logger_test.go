// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
	if cfg.File.Path != "" {
		t.Error("expected file logging to be off by default")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapvault.log")

	var buf bytes.Buffer
	Init(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
		File:   FileConfig{Path: path, MaxSizeMB: 1},
	})
	t.Cleanup(func() { Init(Config{Level: "info", Output: os.Stderr}) })

	Info().Str("tier", "daily").Msg("backup completed")

	if !strings.Contains(buf.String(), "backup completed") {
		t.Errorf("expected stream output, got: %s", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"tier":"daily"`) {
		t.Errorf("expected file output to carry fields, got: %s", data)
	}
}

func TestCtxAddsRunID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRunID(ctx, "run-123")
	ctx = ContextWithRequestID(ctx, "req-9")

	Ctx(ctx).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-123"`) {
		t.Errorf("missing run_id: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-9"`) {
		t.Errorf("missing request_id: %s", out)
	}
}

func TestContextWithNewRunIDKeepsExisting(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRunID(context.Background(), "fixed")
	if got := RunIDFromContext(ContextWithNewRunID(ctx)); got != "fixed" {
		t.Errorf("expected existing run id to survive, got %q", got)
	}
	if got := RunIDFromContext(ContextWithNewRunID(context.Background())); got == "" {
		t.Error("expected a generated run id")
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(NewTestLogger(&buf)))
	logger.WithGroup("svc").With("name", "scheduler").Warn("restarting", "attempt", 2)

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"svc.name":"scheduler"`, `"svc.attempt":2`, `"message":"restarting"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"postgres password", "postgres://app:hunter2@db:5432/prod", "postgres://app:REDACTED@db:5432/prod"},
		{"no password", "postgres://app@db/prod", "postgres://app@db/prod"},
		{"query secret", "redis://cache:6379/0?password=x", "redis://cache:6379/0?password=REDACTED"},
		{"empty", "", ""},
		{"not a url", "host=db password=x", "REDACTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RedactURL(tt.in); got != tt.want {
				t.Errorf("RedactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
