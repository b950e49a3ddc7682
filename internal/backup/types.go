// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"fmt"
	"path/filepath"
	"time"
)

// Tier is a retention class with its own schedule and quota.
type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

// AllTiers returns the tiers in schedule order.
func AllTiers() []Tier {
	return []Tier{TierDaily, TierWeekly, TierMonthly}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierDaily, TierWeekly, TierMonthly:
		return true
	default:
		return false
	}
}

// ParseTier converts s into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

const (
	// EncryptionScheme is recorded in every .meta sidecar.
	EncryptionScheme = "AES-256-GCM"

	artifactExt = ".enc"
	hashExt     = ".hash"
	metaExt     = ".meta"

	// timestampLayout sorts lexically in time order and never collides
	// within one tier at nanosecond precision.
	timestampLayout = "20060102T150405.000000000Z"

	stagingDirName = ".staging"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Artifact is one encrypted snapshot as described by its .meta sidecar.
// Artifacts are never modified after creation, only deleted.
type Artifact struct {
	Tier           Tier      `json:"tier"`
	Filename       string    `json:"filename"`
	CreatedAt      time.Time `json:"createdAt"`
	SizeBytes      int64     `json:"sizeBytes"`
	Digest         string    `json:"digest"`
	SourceDumpName string    `json:"sourceDumpName"`
	Encryption     string    `json:"encryption"`
	AppVersion     string    `json:"appVersion,omitempty"`

	dir string
}

// ID is the operator-facing identifier, "{tier}/{filename}".
func (a *Artifact) ID() string {
	return string(a.Tier) + "/" + a.Filename
}

// Path is the absolute path of the encrypted payload.
func (a *Artifact) Path() string {
	return filepath.Join(a.dir, a.Filename)
}

// HashPath is the path of the digest sidecar.
func (a *Artifact) HashPath() string {
	return a.Path() + hashExt
}

// MetaPath is the path of the metadata sidecar.
func (a *Artifact) MetaPath() string {
	return a.Path() + metaExt
}

// Retention is the number of artifacts kept per tier.
type Retention struct {
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps 30 daily, 8 weekly and 12 monthly artifacts.
func DefaultRetention() Retention {
	return Retention{Daily: 30, Weekly: 8, Monthly: 12}
}

// Keep returns the quota for tier.
func (r Retention) Keep(t Tier) int {
	switch t {
	case TierDaily:
		return r.Daily
	case TierWeekly:
		return r.Weekly
	case TierMonthly:
		return r.Monthly
	default:
		return 0
	}
}

// CleanupReport summarizes one retention pass.
type CleanupReport struct {
	Tier       Tier             `json:"tier"`
	Kept       int              `json:"kept"`
	Deleted    []string         `json:"deleted"`
	FreedBytes int64            `json:"freedBytes"`
	Failed     map[string]error `json:"-"`
}

// TierStats describes the artifacts of one tier.
type TierStats struct {
	Count      int       `json:"count"`
	TotalBytes int64     `json:"totalBytes"`
	Newest     time.Time `json:"newest,omitempty"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Quota      int       `json:"quota"`
}

// Stats is a per-tier summary of the backup directory.
type Stats struct {
	Tiers      map[Tier]TierStats `json:"tiers"`
	TotalCount int                `json:"totalCount"`
	TotalBytes int64              `json:"totalBytes"`
}
