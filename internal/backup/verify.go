// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/tomtom215/snapvault/internal/metrics"
)

// VerifyBackupIntegrity recomputes the digest of the encrypted payload and
// compares it with the .hash sidecar. A mismatch, a missing sidecar or a
// missing payload yields false with a nil error. Only unexpected I/O
// failures return an error. The key is never needed.
func (e *Engine) VerifyBackupIntegrity(ctx context.Context, a *Artifact) (bool, error) {
	ok, err := e.verify(ctx, a)
	metrics.RecordIntegrityCheck(ok, err)
	return ok, err
}

func (e *Engine) verify(ctx context.Context, a *Artifact) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	log := e.runLogger(ctx).With().Str("artifact", a.ID()).Logger()

	expected, err := readHashSidecar(a.HashPath())
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msg("Integrity check failed: hash sidecar missing")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read hash sidecar of %s: %w", a.ID(), err)
	}

	actual, _, err := checksumFile(a.Path())
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msg("Integrity check failed: payload missing")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("digest %s: %w", a.ID(), err)
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) != 1 {
		log.Warn().Str("expected", expected).Str("actual", actual).Msg("Integrity mismatch")
		return false, nil
	}
	return true, nil
}

// VerifyByID resolves id and verifies the artifact.
func (e *Engine) VerifyByID(ctx context.Context, id string) (bool, error) {
	a, err := e.FindBackup(ctx, id)
	if err != nil {
		return false, err
	}
	return e.VerifyBackupIntegrity(ctx, a)
}

// DecryptArtifact verifies a and writes its plaintext dump to w. It is an
// export for inspection, not a restore into a live database.
func (e *Engine) DecryptArtifact(ctx context.Context, a *Artifact, w io.Writer) error {
	if e.key == nil {
		return fmt.Errorf("%w: %w", ErrEncryptionFailed, ErrNoKey)
	}
	ok, err := e.VerifyBackupIntegrity(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntegrityMismatch, a.ID())
	}

	//nolint:gosec // G304: path is inside the engine-owned backup root
	payload, err := os.ReadFile(a.Path())
	if err != nil {
		return fmt.Errorf("read %s: %w", a.ID(), err)
	}

	plaintext, err := e.key.Decrypt(payload)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", a.ID(), err)
	}
	defer clear(plaintext)

	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("write plaintext of %s: %w", a.ID(), err)
	}
	return nil
}
