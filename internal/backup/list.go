// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListBackups returns every artifact across all tiers, newest first. Tiers
// whose directory does not exist yet contribute nothing.
func (e *Engine) ListBackups(ctx context.Context) ([]*Artifact, error) {
	var all []*Artifact
	for _, t := range AllTiers() {
		artifacts, err := e.ListTier(ctx, t)
		if err != nil {
			return nil, err
		}
		all = append(all, artifacts...)
	}
	sortNewestFirst(all)
	return all, nil
}

// ListTier returns the artifacts of one tier, newest first. Artifacts whose
// .meta sidecar cannot be read are skipped with a warning.
func (e *Engine) ListTier(ctx context.Context, tier Tier) ([]*Artifact, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	dir := e.tierDir(tier)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s directory: %w", tier, err)
	}

	log := e.runLogger(ctx)
	artifacts := make([]*Artifact, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactExt+metaExt) {
			continue
		}

		a, err := readMetaSidecar(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("tier", string(tier)).Str("file", entry.Name()).
				Msg("Skipping artifact with unreadable metadata")
			continue
		}
		if a.Tier != tier {
			log.Warn().Str("tier", string(tier)).Str("file", entry.Name()).Str("meta_tier", string(a.Tier)).
				Msg("Skipping artifact filed under the wrong tier")
			continue
		}
		artifacts = append(artifacts, a)
	}

	sortNewestFirst(artifacts)
	return artifacts, nil
}

// FindBackup resolves an operator id of the form "{tier}/{filename}".
func (e *Engine) FindBackup(ctx context.Context, id string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tier, filename, err := parseArtifactID(id)
	if err != nil {
		return nil, err
	}

	a, err := readMetaSidecar(filepath.Join(e.tierDir(tier), filename+metaExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", id, err)
	}
	return a, nil
}

func parseArtifactID(id string) (Tier, string, error) {
	tierPart, filename, ok := strings.Cut(id, "/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not of the form tier/filename", ErrArtifactNotFound, id)
	}
	tier, err := ParseTier(tierPart)
	if err != nil {
		return "", "", err
	}
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) ||
		strings.HasPrefix(filename, ".") || !strings.HasSuffix(filename, artifactExt) {
		return "", "", fmt.Errorf("%w: invalid artifact name %q", ErrArtifactNotFound, filename)
	}
	return tier, filename, nil
}

// sortNewestFirst orders by CreatedAt descending with the id as tiebreak so
// repeated listings are identical.
func sortNewestFirst(artifacts []*Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		a, b := artifacts[i], artifacts[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID() > b.ID()
	})
}
