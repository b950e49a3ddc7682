// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
engine.go - Backup Engine

The Engine owns the backup directory tree. Only the Engine writes or deletes
artifacts and their sidecars.

Layout:

	{root}/.staging/dump-{tier}-{ts}.sql    transient, removed on every path
	{root}/{tier}/backup-{tier}-{ts}.enc    nonce || tag || ciphertext
	{root}/{tier}/backup-{tier}-{ts}.enc.hash
	{root}/{tier}/backup-{tier}-{ts}.enc.meta

Thread Safety:
Different tiers may be backed up concurrently. Retention passes on the same
tier are serialized.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// AppVersion is set at build time and recorded in .meta sidecars.
var AppVersion = "dev"

// Config holds engine configuration.
type Config struct {
	// Root is the backup directory. Tier directories are created below it.
	Root string
	// Retention is the per-tier quota.
	Retention Retention
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("backup root directory is required")
	}
	for _, t := range AllTiers() {
		if c.Retention.Keep(t) < 1 {
			return fmt.Errorf("retention for %s must be at least 1, got %d", t, c.Retention.Keep(t))
		}
	}
	return nil
}

type writeFunc func(path string, data []byte, perm os.FileMode) error

// Engine creates, verifies, lists and rotates artifacts.
type Engine struct {
	cfg    Config
	key    *Key
	dumper Dumper
	now    func() time.Time
	logger zerolog.Logger

	// writeFile is swapped in tests to simulate a full device.
	writeFile writeFunc

	tierMu map[Tier]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source used to stamp artifacts.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates the backup root and returns an Engine. The engine holds
// no global state. A nil key gives a read-only engine: listing and
// verification work, CreateBackup and DecryptArtifact fail with ErrNoKey.
func NewEngine(cfg Config, key *Key, dumper Dumper, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dumper == nil {
		return nil, fmt.Errorf("dumper is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve backup root: %w", err)
	}
	cfg.Root = root

	e := &Engine{
		cfg:       cfg,
		key:       key,
		dumper:    dumper,
		now:       time.Now,
		logger:    logging.WithComponent("backup"),
		writeFile: writeFileAtomic,
		tierMu:    make(map[Tier]*sync.Mutex, len(AllTiers())),
	}
	for _, t := range AllTiers() {
		e.tierMu[t] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, dir := range []string{root, e.stagingDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	e.sweepStaging()
	return e, nil
}

// Root returns the absolute backup directory.
func (e *Engine) Root() string { return e.cfg.Root }

// Retention returns the configured quotas.
func (e *Engine) Retention() Retention { return e.cfg.Retention }

func (e *Engine) tierDir(t Tier) string {
	return filepath.Join(e.cfg.Root, string(t))
}

func (e *Engine) stagingDir() string {
	return filepath.Join(e.cfg.Root, stagingDirName)
}

// sweepStaging removes plaintext dumps left behind by a crashed process.
func (e *Engine) sweepStaging() {
	entries, err := os.ReadDir(e.stagingDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(e.stagingDir(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stale staging file")
			continue
		}
		e.logger.Warn().Str("file", entry.Name()).Msg("Removed stale plaintext dump from staging")
	}
}

// CreateBackup dumps the database, encrypts the dump, and writes the
// artifact with its .hash and .meta sidecars. The plaintext dump never
// survives this call.
func (e *Engine) CreateBackup(ctx context.Context, tier Tier) (*Artifact, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if e.key == nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, ErrNoKey)
	}

	start := e.now().UTC()
	stamp := start.Format(timestampLayout)
	log := e.runLogger(ctx).With().Str("tier", string(tier)).Logger()

	if err := os.MkdirAll(e.tierDir(tier), dirPerm); err != nil {
		return nil, e.fail(tier, start, metrics.StageOther, fmt.Errorf("create tier directory: %w", err))
	}
	if err := os.MkdirAll(e.stagingDir(), dirPerm); err != nil {
		return nil, e.fail(tier, start, metrics.StageOther, fmt.Errorf("create staging directory: %w", err))
	}

	dumpName := fmt.Sprintf("dump-%s-%s.sql", tier, stamp)
	dumpPath := filepath.Join(e.stagingDir(), dumpName)
	defer func() {
		if err := removeIfExists(dumpPath); err != nil {
			log.Error().Err(err).Str("dump", dumpName).Msg("Failed to remove plaintext dump")
		}
	}()

	log.Info().Str("dump", dumpName).Msg("Starting database dump")
	if err := e.dumper.Dump(ctx, dumpPath); err != nil {
		if !errors.Is(err, ErrDumpFailed) && !errors.Is(err, ErrDumpTimeout) {
			err = &DumpError{ExitCode: -1, Err: err}
		}
		stage := metrics.StageDump
		if errors.Is(err, ErrDumpTimeout) {
			stage = metrics.StageTimeout
		}
		return nil, e.fail(tier, start, stage, fmt.Errorf("create %s backup: %w", tier, err))
	}

	artifact := &Artifact{
		Tier:           tier,
		Filename:       fmt.Sprintf("backup-%s-%s%s", tier, stamp, artifactExt),
		CreatedAt:      start,
		SourceDumpName: dumpName,
		Encryption:     EncryptionScheme,
		AppVersion:     AppVersion,
		dir:            e.tierDir(tier),
	}

	if err := e.encryptDump(dumpPath, artifact); err != nil {
		e.discard(artifact, log)
		stage := metrics.StageEncrypt
		if errors.Is(err, ErrDiskFull) {
			stage = metrics.StageDiskFull
		}
		return nil, e.fail(tier, start, stage, fmt.Errorf("create %s backup: %w", tier, err))
	}

	// The plaintext is not needed past this point.
	if err := removeIfExists(dumpPath); err != nil {
		log.Error().Err(err).Str("dump", dumpName).Msg("Failed to remove plaintext dump")
	}

	digest, size, err := checksumFile(artifact.Path())
	if err != nil {
		e.discard(artifact, log)
		return nil, e.fail(tier, start, metrics.StageChecksum, fmt.Errorf("digest %s: %w", artifact.Filename, err))
	}
	artifact.Digest = digest
	artifact.SizeBytes = size

	if err := writeHashSidecar(artifact, e.writeFile); err != nil {
		err = classifyWriteError("write hash sidecar", err)
		e.discard(artifact, log)
		return nil, e.fail(tier, start, sidecarStage(err), err)
	}
	if err := writeMetaSidecar(artifact, e.writeFile); err != nil {
		err = classifyWriteError("write metadata sidecar", err)
		e.discard(artifact, log)
		return nil, e.fail(tier, start, sidecarStage(err), err)
	}

	duration := e.now().Sub(start)
	metrics.RecordBackupSuccess(string(tier), duration, size, start)
	log.Info().
		Str("artifact", artifact.ID()).
		Int64("size_bytes", size).
		Str("digest", digest).
		Dur("duration", duration).
		Msg("Backup completed")
	return artifact, nil
}

// encryptDump seals the dump file into the artifact path.
func (e *Engine) encryptDump(dumpPath string, a *Artifact) error {
	//nolint:gosec // G304: dumpPath is inside the engine-owned staging dir
	plaintext, err := os.ReadFile(dumpPath)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}
	defer clear(plaintext)

	payload, err := e.key.Encrypt(plaintext)
	if err != nil {
		return err
	}

	if err := e.writeFile(a.Path(), payload, filePerm); err != nil {
		return classifyWriteError("write artifact", err)
	}
	return nil
}

// runLogger returns the engine logger tagged with the run id from ctx.
func (e *Engine) runLogger(ctx context.Context) zerolog.Logger {
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		return e.logger.With().Str("run_id", runID).Logger()
	}
	return e.logger
}

// discard removes whatever part of a failed artifact reached the disk.
func (e *Engine) discard(a *Artifact, log zerolog.Logger) {
	if err := removeArtifactFiles(a); err != nil {
		log.Error().Err(err).Str("artifact", a.ID()).Msg("Failed to remove partial artifact")
	}
}

func (e *Engine) fail(tier Tier, start time.Time, stage string, err error) error {
	metrics.RecordBackupFailure(string(tier), stage, e.now().Sub(start))
	return err
}

func sidecarStage(err error) string {
	if errors.Is(err, ErrDiskFull) {
		return metrics.StageDiskFull
	}
	return metrics.StageSidecar
}
