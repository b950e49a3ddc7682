// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package services adapts snapvault components to suture.Service.
//
//   - SchedulerService: Start/Stop of the backup scheduler
//   - HTTPServerService: ListenAndServe/Shutdown of the ops endpoint
//
// Each wrapper blocks in Serve until its context is canceled, then stops
// the component and returns ctx.Err(). Start failures are returned so the
// supervisor restarts the service with backoff.
package services
