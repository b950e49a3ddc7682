// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package testinfra starts real dependencies in Docker for integration tests.
//
// Files in this package carry the integration build tag and are only
// compiled with:
//
//	go test -tags integration ./...
//
// # Postgres
//
// Advisory locks are session state inside the server, so the lock backend is
// exercised against a real Postgres rather than a mock:
//
//	pg, err := testinfra.NewPostgresContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	testinfra.CleanupContainer(t, pg)
//	backend, err := lock.OpenPostgresBackend(ctx, pg.URL)
//
// # MinIO
//
// NewMinioContainer provides an S3-compatible endpoint for the replicator.
//
// Tests are skipped when Docker is unavailable. The first run downloads
// images; later runs use the local cache.
package testinfra
