// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package remote replicates encrypted artifacts to object storage.

Replication is optional and never fails a backup. Initialize probes the
bucket once; when it is missing or unreachable the Replicator stays not
ready, UploadBackup returns nil, nil and ListRemoteBackups returns an empty
list.

Keys are "{prefix}{tier}/{filename}". Every copy carries tier, created-at,
digest, upload-timestamp and size-bytes as user metadata, and as object tags
on S3. Copies start in an infrequent-access class (STANDARD_IA on S3,
NEARLINE on GCS). ConfigureLifecycle moves them to cold storage after 30
days, to archive after 90, and expires them after ExpireAfterDays. Local
rotation never deletes remote copies.

Backends:

  - S3Store: any S3-compatible endpoint via minio-go
  - GCSStore: Google Cloud Storage

Uploads go through a circuit breaker. After repeated failures it opens and
uploads fail fast with ErrRemoteUnavailable until a probe succeeds.
*/
package remote
