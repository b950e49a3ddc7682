// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import "context"

// Stats summarizes the artifacts on disk per tier.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Tiers: make(map[Tier]TierStats, len(AllTiers()))}

	for _, t := range AllTiers() {
		artifacts, err := e.ListTier(ctx, t)
		if err != nil {
			return nil, err
		}

		ts := TierStats{Count: len(artifacts), Quota: e.cfg.Retention.Keep(t)}
		for _, a := range artifacts {
			ts.TotalBytes += a.SizeBytes
		}
		if len(artifacts) > 0 {
			ts.Newest = artifacts[0].CreatedAt
			ts.Oldest = artifacts[len(artifacts)-1].CreatedAt
		}

		stats.Tiers[t] = ts
		stats.TotalCount += ts.Count
		stats.TotalBytes += ts.TotalBytes
	}
	return stats, nil
}
