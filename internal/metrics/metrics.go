// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup Metrics
	BackupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_backup_runs_total",
			Help: "Total number of backup runs by tier and outcome",
		},
		[]string{"tier", "status"}, // status: success, failure
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_backup_duration_seconds",
			Help:    "Wall time of a backup run from dump start to sidecar write",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"tier"},
	)

	BackupArtifactBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_backup_artifact_bytes",
			Help: "Size of the most recent encrypted artifact per tier",
		},
		[]string{"tier"},
	)

	BackupLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup per tier",
		},
		[]string{"tier"},
	)

	BackupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_backup_errors_total",
			Help: "Backup failures by pipeline stage",
		},
		[]string{"tier", "stage"}, // stage: dump, timeout, encrypt, disk_full, checksum, sidecar, other
	)

	// Retention Metrics
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_retention_deleted_total",
			Help: "Artifacts removed by retention",
		},
		[]string{"tier", "result"}, // result: deleted, failed
	)

	// Integrity Metrics
	IntegrityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_integrity_checks_total",
			Help: "Integrity verifications by result",
		},
		[]string{"result"}, // result: ok, mismatch, error
	)

	// Lock Metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_lock_acquisitions_total",
			Help: "Distributed lock acquisition attempts",
		},
		[]string{"backend", "result"}, // result: acquired, contended, timeout, error
	)

	LocksHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_locks_held",
			Help: "Locks currently held by this process",
		},
		[]string{"backend"},
	)

	// Scheduler Metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_scheduler_job_runs_total",
			Help: "Scheduled job executions by outcome",
		},
		[]string{"job", "status"}, // status: success, failure, skipped
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_scheduler_job_duration_seconds",
			Help:    "Duration of scheduled job executions",
			Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 7200},
		},
		[]string{"job"},
	)

	// Replication Metrics
	ReplicationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_replication_operations_total",
			Help: "Remote object store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	ReplicationBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_replication_bytes_total",
			Help: "Bytes uploaded to remote storage",
		},
		[]string{"provider"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_events_published_total",
			Help: "Lifecycle events published to NATS",
		},
		[]string{"subject", "result"},
	)

	// API Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_api_requests_total",
			Help: "Operational API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// Stage labels for BackupErrors.
const (
	StageDump     = "dump"
	StageTimeout  = "timeout"
	StageEncrypt  = "encrypt"
	StageDiskFull = "disk_full"
	StageChecksum = "checksum"
	StageSidecar  = "sidecar"
	StageOther    = "other"
)

// RecordBackupSuccess records a completed backup.
func RecordBackupSuccess(tier string, duration time.Duration, sizeBytes int64, at time.Time) {
	BackupRunsTotal.WithLabelValues(tier, "success").Inc()
	BackupDuration.WithLabelValues(tier).Observe(duration.Seconds())
	BackupArtifactBytes.WithLabelValues(tier).Set(float64(sizeBytes))
	BackupLastSuccess.WithLabelValues(tier).Set(float64(at.Unix()))
}

// RecordBackupFailure records a failed backup at the given stage.
func RecordBackupFailure(tier, stage string, duration time.Duration) {
	BackupRunsTotal.WithLabelValues(tier, "failure").Inc()
	BackupDuration.WithLabelValues(tier).Observe(duration.Seconds())
	BackupErrors.WithLabelValues(tier, stage).Inc()
}

// RecordRetention records the outcome of one retention pass.
func RecordRetention(tier string, deleted, failed int) {
	if deleted > 0 {
		RetentionDeleted.WithLabelValues(tier, "deleted").Add(float64(deleted))
	}
	if failed > 0 {
		RetentionDeleted.WithLabelValues(tier, "failed").Add(float64(failed))
	}
}

// RecordIntegrityCheck records one verification.
func RecordIntegrityCheck(ok bool, err error) {
	switch {
	case err != nil:
		IntegrityChecks.WithLabelValues("error").Inc()
	case ok:
		IntegrityChecks.WithLabelValues("ok").Inc()
	default:
		IntegrityChecks.WithLabelValues("mismatch").Inc()
	}
}

// RecordLockAttempt records a lock acquisition attempt.
func RecordLockAttempt(backend, result string) {
	LockAcquisitions.WithLabelValues(backend, result).Inc()
}

// TrackLockHeld adjusts the held-locks gauge.
func TrackLockHeld(backend string, held bool) {
	if held {
		LocksHeld.WithLabelValues(backend).Inc()
	} else {
		LocksHeld.WithLabelValues(backend).Dec()
	}
}

// RecordJobRun records one scheduled execution.
func RecordJobRun(job, status string, duration time.Duration) {
	JobRuns.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// RecordReplication records one remote operation.
func RecordReplication(provider, operation string, bytes int64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ReplicationOps.WithLabelValues(provider, operation, result).Inc()
	if err == nil && bytes > 0 {
		ReplicationBytes.WithLabelValues(provider).Add(float64(bytes))
	}
}

// RecordEventPublish records a NATS publish.
func RecordEventPublish(subject string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EventsPublished.WithLabelValues(subject, result).Inc()
}

// RecordAPIRequest records an operational API request.
func RecordAPIRequest(method, route, status string) {
	APIRequests.WithLabelValues(method, route, status).Inc()
}
