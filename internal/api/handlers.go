// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/history"
	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/scheduler"
	"github.com/tomtom215/snapvault/internal/validation"
)

// HealthStatus is the /healthz body.
type HealthStatus struct {
	Status           string  `json:"status"`
	Version          string  `json:"version,omitempty"`
	SchedulerRunning bool    `json:"schedulerRunning"`
	Uptime           float64 `json:"uptimeSeconds"`
}

// StatusReport is the /api/v1/status body.
type StatusReport struct {
	Scheduler   scheduler.Status      `json:"scheduler"`
	Remote      pipeline.RemoteStatus `json:"remote"`
	LockBackend string                `json:"lockBackend"`
	Stats       *backup.Stats         `json:"stats,omitempty"`
	StatsError  string                `json:"statsError,omitempty"`

	// LastRuns is the newest recorded result per job, read from history so
	// it survives restarts. Empty when history is disabled.
	LastRuns     map[string]scheduler.JobResult `json:"lastRuns,omitempty"`
	HistoryError string                         `json:"historyError,omitempty"`
}

// NewStatusReport collects a StatusReport from b. Stats and history
// failures are reported inline; the rest of the report is still useful.
func NewStatusReport(ctx context.Context, b Backend) StatusReport {
	report := StatusReport{
		Scheduler:   b.SchedulerStatus(),
		Remote:      b.RemoteStatus(),
		LockBackend: b.LockBackend(),
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		report.StatsError = err.Error()
	} else {
		report.Stats = stats
	}
	last, err := b.LastRuns(ctx)
	switch {
	case errors.Is(err, pipeline.ErrHistoryDisabled):
	case err != nil:
		report.HistoryError = err.Error()
	default:
		report.LastRuns = last
	}
	return report
}

type backupsQuery struct {
	Tier string `json:"tier" validate:"omitempty,tier"`
}

type historyQuery struct {
	Job    string `json:"job" validate:"omitempty,max=64"`
	Status string `json:"status" validate:"omitempty,oneof=success failed skipped"`
	Limit  int    `json:"limit" validate:"min=0,max=1000"`
}

// Health reports liveness. A stopped scheduler is "degraded" with status
// 503 so probes restart a serve process whose scheduler died.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	running := router.backend.SchedulerStatus().IsRunning
	health := HealthStatus{
		Status:           "healthy",
		Version:          router.config.Version,
		SchedulerRunning: running,
		Uptime:           time.Since(router.startTime).Seconds(),
	}
	code := http.StatusOK
	if !running {
		health.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, r, code, &Response{Status: "success", Data: health})
}

// Status returns scheduler, remote, artifact and last-run state.
func (router *Router) Status(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, NewStatusReport(r.Context(), router.backend), 0)
}

// Backups lists local artifacts, optionally filtered by ?tier=.
func (router *Router) Backups(w http.ResponseWriter, r *http.Request) {
	q := backupsQuery{Tier: r.URL.Query().Get("tier")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		respondValidationError(w, r, verr)
		return
	}

	artifacts, err := router.backend.ListBackups(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "LIST_FAILED", "Failed to list backups", err)
		return
	}
	if q.Tier != "" {
		filtered := artifacts[:0]
		for _, a := range artifacts {
			if string(a.Tier) == q.Tier {
				filtered = append(filtered, a)
			}
		}
		artifacts = filtered
	}

	type item struct {
		*backup.Artifact
		ID string `json:"id"`
	}
	items := make([]item, 0, len(artifacts))
	for _, a := range artifacts {
		items = append(items, item{Artifact: a, ID: a.ID()})
	}
	respondData(w, r, items, len(items))
}

// History lists recorded runs filtered by ?job=, ?status= and ?limit=.
func (router *Router) History(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := historyQuery{
		Job:    values.Get("job"),
		Status: values.Get("status"),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = limit
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		respondValidationError(w, r, verr)
		return
	}

	results, err := router.backend.History(r.Context(), history.Query{
		Job:    q.Job,
		Status: scheduler.RunStatus(q.Status),
		Limit:  q.Limit,
	})
	if errors.Is(err, pipeline.ErrHistoryDisabled) {
		respondError(w, r, http.StatusServiceUnavailable, "HISTORY_DISABLED", "Run history is not available", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "HISTORY_FAILED", "Failed to read run history", err)
		return
	}
	respondData(w, r, results, len(results))
}
