// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"fmt"

	"github.com/tomtom215/snapvault/internal/metrics"
)

// CleanupOldBackups keeps the newest Retention.Keep(tier) artifacts of tier
// by CreatedAt and deletes the rest with their sidecars. Missing sidecars
// are tolerated. Per-artifact failures are logged and collected; when any
// occur the error wraps ErrRetentionPartialFailure and the report lists them.
func (e *Engine) CleanupOldBackups(ctx context.Context, tier Tier) (*CleanupReport, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	mu := e.tierMu[tier]
	mu.Lock()
	defer mu.Unlock()

	log := e.runLogger(ctx).With().Str("tier", string(tier)).Logger()

	artifacts, err := e.ListTier(ctx, tier)
	if err != nil {
		return nil, err
	}

	keep := e.cfg.Retention.Keep(tier)
	report := &CleanupReport{Tier: tier, Kept: min(len(artifacts), keep)}
	if len(artifacts) <= keep {
		return report, nil
	}

	for _, a := range artifacts[keep:] {
		if err := removeArtifactFiles(a); err != nil {
			log.Warn().Err(err).Str("artifact", a.ID()).Msg("Failed to delete expired backup")
			if report.Failed == nil {
				report.Failed = make(map[string]error)
			}
			report.Failed[a.ID()] = err
			continue
		}
		report.Deleted = append(report.Deleted, a.ID())
		report.FreedBytes += a.SizeBytes
	}

	metrics.RecordRetention(string(tier), len(report.Deleted), len(report.Failed))
	if len(report.Deleted) > 0 {
		log.Info().
			Int("deleted_count", len(report.Deleted)).
			Int("kept", report.Kept).
			Float64("freed_mb", float64(report.FreedBytes)/(1024*1024)).
			Msg("Retention policy applied")
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d expired %s backups could not be deleted",
			ErrRetentionPartialFailure, len(report.Failed), len(artifacts)-keep, tier)
	}
	return report, nil
}
