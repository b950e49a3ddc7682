// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package api provides the read-only operational HTTP endpoint served by
// `snapvault serve`.
//
// Routes:
//
//	GET /healthz            liveness and scheduler state
//	GET /metrics            Prometheus exposition
//	GET /api/v1/status      scheduler, remote, lock backend and artifact stats
//	GET /api/v1/backups     local artifacts, newest first (?tier=)
//	GET /api/v1/history     recorded job runs (?job=&status=&limit=)
//
// All /api/v1 responses share the Response envelope. The endpoint has no
// mutating routes and no authentication; bind it to a private interface.
package api
