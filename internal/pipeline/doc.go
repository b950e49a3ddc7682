// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package pipeline wires the backup engine, the distributed lock, remote
replication, the scheduler, run history and job events into one Service.

# Jobs

	daily, weekly, monthly   CreateBackup -> CleanupOldBackups -> UploadBackup
	integrity-sweep          verify the newest backup.verify_count artifacts per tier

Every job runs under the lock named after it, so across all instances that
share a lock backend at most one run of a job is in progress. A run that
finds the lock held is recorded as skipped.

Replication never fails a backup: an upload error or an unreachable bucket
becomes a warning on a successful JobResult. Integrity mismatches found by
the sweep are warnings too, counted in JobResult.Mismatched.

# Manual runs

RunBackup, RunFull and RunIntegritySweep go through Scheduler.RunNow and
therefore take the same lock and produce the same JobResult as a scheduled
firing. The CLI commands daily, weekly, monthly and full are thin wrappers.

# Encryption key

When backup.encryption_key is empty a key is generated and printed once to
stderr and logged at WARN. Artifacts written with a key nobody recorded are
unrecoverable.
*/
package pipeline
