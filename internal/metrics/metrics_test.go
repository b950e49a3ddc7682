// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBackupSuccess(t *testing.T) {
	before := testutil.ToFloat64(BackupRunsTotal.WithLabelValues("test-success", "success"))

	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	RecordBackupSuccess("test-success", 3*time.Second, 4096, at)

	if got := testutil.ToFloat64(BackupRunsTotal.WithLabelValues("test-success", "success")); got != before+1 {
		t.Errorf("expected runs counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(BackupArtifactBytes.WithLabelValues("test-success")); got != 4096 {
		t.Errorf("expected artifact bytes 4096, got %v", got)
	}
	if got := testutil.ToFloat64(BackupLastSuccess.WithLabelValues("test-success")); got != float64(at.Unix()) {
		t.Errorf("expected last success %v, got %v", at.Unix(), got)
	}
}

func TestRecordBackupFailure(t *testing.T) {
	RecordBackupFailure("test-failure", StageDump, time.Second)
	RecordBackupFailure("test-failure", StageDump, time.Second)

	if got := testutil.ToFloat64(BackupErrors.WithLabelValues("test-failure", StageDump)); got != 2 {
		t.Errorf("expected 2 dump errors, got %v", got)
	}
	if got := testutil.ToFloat64(BackupRunsTotal.WithLabelValues("test-failure", "failure")); got != 2 {
		t.Errorf("expected 2 failed runs, got %v", got)
	}
}

func TestRecordIntegrityCheck(t *testing.T) {
	ok := testutil.ToFloat64(IntegrityChecks.WithLabelValues("ok"))
	mismatch := testutil.ToFloat64(IntegrityChecks.WithLabelValues("mismatch"))
	failed := testutil.ToFloat64(IntegrityChecks.WithLabelValues("error"))

	RecordIntegrityCheck(true, nil)
	RecordIntegrityCheck(false, nil)
	RecordIntegrityCheck(false, errors.New("read failed"))

	if got := testutil.ToFloat64(IntegrityChecks.WithLabelValues("ok")); got != ok+1 {
		t.Errorf("ok: expected %v, got %v", ok+1, got)
	}
	if got := testutil.ToFloat64(IntegrityChecks.WithLabelValues("mismatch")); got != mismatch+1 {
		t.Errorf("mismatch: expected %v, got %v", mismatch+1, got)
	}
	if got := testutil.ToFloat64(IntegrityChecks.WithLabelValues("error")); got != failed+1 {
		t.Errorf("error: expected %v, got %v", failed+1, got)
	}
}

func TestTrackLockHeld(t *testing.T) {
	TrackLockHeld("test-backend", true)
	TrackLockHeld("test-backend", true)
	TrackLockHeld("test-backend", false)

	if got := testutil.ToFloat64(LocksHeld.WithLabelValues("test-backend")); got != 1 {
		t.Errorf("expected 1 held lock, got %v", got)
	}
}

func TestRecordJobRunSkippedHasNoDuration(t *testing.T) {
	RecordJobRun("test-job", "skipped", time.Hour)
	RecordJobRun("test-job", "success", time.Second)

	if got := testutil.CollectAndCount(JobDuration); got != 1 {
		t.Errorf("expected one histogram series, got %d", got)
	}
	if got := testutil.ToFloat64(JobRuns.WithLabelValues("test-job", "skipped")); got != 1 {
		t.Errorf("expected 1 skipped run, got %v", got)
	}
}

func TestRecordReplication(t *testing.T) {
	RecordReplication("test-s3", "upload", 100, nil)
	RecordReplication("test-s3", "upload", 100, errors.New("boom"))

	if got := testutil.ToFloat64(ReplicationBytes.WithLabelValues("test-s3")); got != 100 {
		t.Errorf("expected 100 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(ReplicationOps.WithLabelValues("test-s3", "upload", "failure")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
}
