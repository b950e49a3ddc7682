// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package backup produces, verifies, lists and rotates encrypted database
snapshots.

# Pipeline

CreateBackup runs one snapshot through these steps:

 1. pg_dump writes a plaintext dump into {root}/.staging.
 2. The dump is sealed with AES-256-GCM under a fresh 16-byte nonce and written
    to {root}/{tier}/backup-{tier}-{timestamp}.enc.
 3. SHA-256 of the encrypted file goes into the .hash sidecar. Verification
    therefore never needs the key.
 4. A JSON .meta sidecar is written last. An artifact without .meta is
    invisible to listing and rotation.
 5. The plaintext dump is removed on every exit path.

Directories are created 0700 and files 0600.

# Payload Format

	offset 0   16 bytes  nonce
	offset 16  16 bytes  GCM authentication tag
	offset 32  ...       ciphertext

# Key Custody

The 32-byte key is injected into NewEngine and kept in a memguard enclave.
There is no escrow: an artifact is unrecoverable without the exact key that
sealed it. Store the key outside the machine that holds the backups.

# Retention

Each tier keeps its own newest-K artifacts by CreatedAt (30 daily, 8 weekly,
12 monthly by default). A monthly artifact never counts against the daily
quota. Deletion failures are collected and reported together as
ErrRetentionPartialFailure; they do not stop the remaining deletions.
*/
package backup
