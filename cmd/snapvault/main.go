// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package main is the snapvault command.
//
// snapvault takes encrypted, tiered pg_dump backups of one PostgreSQL
// database, rotates them per tier, verifies them on a schedule and
// optionally replicates them to versioned S3 or GCS storage.
//
// # One-shot commands
//
//	snapvault daily | weekly | monthly   run one tier now
//	snapvault full                       daily, weekly and monthly in sequence
//	snapvault list                       local artifacts, newest first
//	snapvault verify <id>                check one artifact's digest
//	snapvault decrypt <id> --out FILE    export a plaintext dump
//	snapvault status                     schedules, remote and artifact stats
//	snapvault history                    recorded job runs
//	snapvault remote setup | list        configure or inspect the bucket
//	snapvault keygen                     print a fresh encryption key
//
// # Serve mode
//
// `snapvault serve` runs the scheduler and the optional ops HTTP endpoint
// under a suture supervisor tree until SIGINT or SIGTERM. Several serve
// processes may share one database; the lock backend ensures each firing
// runs once.
//
// # Configuration
//
// Defaults, then a YAML file (--config, CONFIG_PATH, ./snapvault.yaml or
// /etc/snapvault/config.yaml), then environment variables such as
// DATABASE_URL and BACKUP_ENCRYPTION_KEY.
//
// # Exit status
//
// 0 on success, 1 on any failure. A run skipped because another process
// holds the tier lock exits 0. Replication failures are warnings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Wipe key material on every exit path.
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "snapvault: %v\n", err)
		return 1
	}
	return 0
}
