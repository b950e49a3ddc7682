// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package scheduler

import (
	"context"
	"time"
)

// RunStatus is the outcome of one job firing.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Report is what a job hands back on completion.
type Report struct {
	// Tier is the backup tier the job worked on, if any.
	Tier string
	// Artifact is the id of the artifact the run produced.
	Artifact string
	// RemoteKey is the object key of the off-site copy, if one was made.
	RemoteKey string
	// Verified and Mismatched count integrity checks.
	Verified   int
	Mismatched int
	// Detail is a short human summary.
	Detail string
	// Warnings are non-fatal problems, e.g. a failed replication.
	Warnings []string
}

// JobFunc is the body of a job. A returned error marks the run failed.
type JobFunc func(ctx context.Context) (Report, error)

// JobResult is the single record every run produces. Status reporting,
// history and events all consume it.
type JobResult struct {
	RunID      string        `json:"runId"`
	Job        string        `json:"job"`
	Tier       string        `json:"tier,omitempty"`
	Status     RunStatus     `json:"status"`
	Trigger    Trigger       `json:"trigger"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Duration   time.Duration `json:"durationNs"`
	Artifact   string        `json:"artifact,omitempty"`
	RemoteKey  string        `json:"remoteKey,omitempty"`
	Verified   int           `json:"verified,omitempty"`
	Mismatched int           `json:"mismatched,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	ErrorText  string        `json:"error,omitempty"`

	// Err is the run error. It does not survive serialization; ErrorText does.
	Err error `json:"-"`
}

// Failed reports whether the run failed.
func (r JobResult) Failed() bool { return r.Status == StatusFailed }

func (r *JobResult) apply(rep Report) {
	if rep.Tier != "" {
		r.Tier = rep.Tier
	}
	r.Artifact = rep.Artifact
	r.RemoteKey = rep.RemoteKey
	r.Verified = rep.Verified
	r.Mismatched = rep.Mismatched
	r.Detail = rep.Detail
	r.Warnings = rep.Warnings
}

// ResultHandler consumes finished runs. Handlers run on the job goroutine and
// must not block for long.
type ResultHandler func(ctx context.Context, result JobResult)
