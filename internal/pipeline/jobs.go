// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package pipeline

import (
	"context"
	"fmt"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

// jobs builds the job table: one backup job per tier plus the sweep.
func (s *Service) jobs() []scheduler.Job {
	sched := s.cfg.Schedule
	jobs := []scheduler.Job{
		{Name: string(backup.TierDaily), Schedule: sched.Daily, Run: s.backupJob(backup.TierDaily)},
		{Name: string(backup.TierWeekly), Schedule: sched.Weekly, Run: s.backupJob(backup.TierWeekly)},
		{Name: string(backup.TierMonthly), Schedule: sched.Monthly, Run: s.backupJob(backup.TierMonthly)},
	}
	if sched.IntegritySweep != "" {
		jobs = append(jobs, scheduler.Job{Name: JobIntegritySweep, Schedule: sched.IntegritySweep, Run: s.sweepJob})
	}
	return jobs
}

// backupJob creates an artifact, applies retention and replicates it.
// Replication problems are warnings. A retention failure fails the run, but
// only after the upload has been attempted.
func (s *Service) backupJob(tier backup.Tier) scheduler.JobFunc {
	return func(ctx context.Context) (scheduler.Report, error) {
		rep := scheduler.Report{Tier: string(tier)}

		a, err := s.engine.CreateBackup(ctx, tier)
		if err != nil {
			return rep, err
		}
		rep.Artifact = a.ID()

		cleanup, cleanupErr := s.engine.CleanupOldBackups(ctx, tier)

		cc, err := s.replicator.UploadBackup(ctx, a)
		switch {
		case err != nil:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("replication failed: %v", err))
		case cc != nil:
			rep.RemoteKey = cc.RemoteKey
		case s.cfg.RemoteEnabled():
			rep.Warnings = append(rep.Warnings, "replication skipped: remote storage not ready")
		}

		deleted := 0
		if cleanup != nil {
			deleted = len(cleanup.Deleted)
		}
		rep.Detail = fmt.Sprintf("%s (%d bytes), %d expired removed", a.Filename, a.SizeBytes, deleted)

		if cleanupErr != nil {
			return rep, fmt.Errorf("apply retention: %w", cleanupErr)
		}
		return rep, nil
	}
}

// sweepJob verifies the newest VerifyCount artifacts of each tier.
// Mismatches are warnings on a successful run.
func (s *Service) sweepJob(ctx context.Context) (scheduler.Report, error) {
	var rep scheduler.Report
	log := logging.Ctx(ctx)

	artifacts, err := s.engine.ListBackups(ctx)
	if err != nil {
		return rep, err
	}

	checked := make(map[backup.Tier]int, len(backup.AllTiers()))
	for _, a := range artifacts {
		if checked[a.Tier] >= s.verifyCount {
			continue
		}
		checked[a.Tier]++

		ok, err := s.engine.VerifyBackupIntegrity(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			log.Warn().Err(err).Str("artifact", a.ID()).Msg("Could not verify artifact")
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("verify %s: %v", a.ID(), err))
			continue
		}
		rep.Verified++
		if !ok {
			rep.Mismatched++
			log.Warn().Str("artifact", a.ID()).Msg("Integrity mismatch: artifact does not match its recorded digest")
			rep.Warnings = append(rep.Warnings, "integrity mismatch: "+a.ID())
		}
	}

	rep.Detail = fmt.Sprintf("verified %d artifacts, %d mismatched", rep.Verified, rep.Mismatched)
	return rep, nil
}
