// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDumpFailed is returned when pg_dump exits non-zero or cannot start.
	ErrDumpFailed = errors.New("database dump failed")

	// ErrDumpTimeout is returned when pg_dump was killed at the run deadline.
	ErrDumpTimeout = errors.New("database dump timed out")

	// ErrEncryptionFailed indicates a cipher or key problem.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDiskFull is returned when the device ran out of space while the
	// artifact or a sidecar was written. The partial files are removed.
	ErrDiskFull = errors.New("no space left on backup device")

	// ErrDecryptionFailed means the payload did not authenticate under the key.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrIntegrityMismatch marks an artifact whose digest does not match its
	// .hash sidecar. VerifyBackupIntegrity reports this as false, not as an error.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrRetentionPartialFailure is returned when some expired artifacts
	// could not be deleted.
	ErrRetentionPartialFailure = errors.New("retention cleanup partially failed")

	// ErrArtifactNotFound is returned for an unknown artifact id.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidTier is returned for a tier outside daily, weekly, monthly.
	ErrInvalidTier = errors.New("invalid backup tier")

	// ErrNoKey is returned by engines built without a key when asked to
	// encrypt or decrypt. It is wrapped together with ErrEncryptionFailed.
	ErrNoKey = errors.New("no encryption key configured")
)

// DumpError carries the outcome of a failed pg_dump invocation. It matches
// ErrDumpFailed, or ErrDumpTimeout when the process was killed at the deadline.
type DumpError struct {
	// ExitCode is the process exit status, or -1 if it never exited normally.
	ExitCode int
	// Stderr is the tail of the process's standard error.
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *DumpError) Error() string {
	var b strings.Builder
	switch {
	case e.TimedOut:
		b.WriteString("pg_dump killed at deadline")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, "pg_dump exited with code %d", e.ExitCode)
	case e.Err != nil:
		fmt.Fprintf(&b, "pg_dump did not run: %v", e.Err)
	default:
		b.WriteString("pg_dump failed")
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *DumpError) Unwrap() []error {
	sentinel := ErrDumpFailed
	if e.TimedOut {
		sentinel = ErrDumpTimeout
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}
