// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package config loads Snapvault configuration from layered sources.

Precedence, lowest to highest:

 1. Built-in defaults (defaultConfig)
 2. A YAML file: CONFIG_PATH, ./snapvault.yaml or /etc/snapvault/config.yaml
 3. Environment variables, through an explicit mapping table

Environment variables:

	DATABASE_URL                    database.url (required)
	BACKUP_DIR                      backup.dir
	BACKUP_ENCRYPTION_KEY           backup.encryption_key (64 hex chars)
	BACKUP_RETENTION_DAILY          backup.retention.daily (30)
	BACKUP_RETENTION_WEEKLY         backup.retention.weekly (8)
	BACKUP_RETENTION_MONTHLY        backup.retention.monthly (12)
	BACKUP_SCHEDULE_DAILY           schedule.daily ("0 2 * * *")
	BACKUP_SCHEDULE_WEEKLY          schedule.weekly ("0 3 * * 0")
	BACKUP_SCHEDULE_MONTHLY         schedule.monthly ("0 4 1 * *")
	LOCK_BACKEND                    lock.backend (postgres, redis, memory)
	REDIS_URL                       lock.redis_url
	REMOTE_PROVIDER                 remote.provider (s3, gcs; empty disables)
	S3_BUCKET, GCS_BUCKET           remote.bucket
	S3_ENDPOINT                     remote.s3.endpoint
	AWS_ACCESS_KEY_ID               remote.s3.access_key_id
	AWS_SECRET_ACCESS_KEY           remote.s3.secret_access_key
	GOOGLE_APPLICATION_CREDENTIALS  remote.gcs.credentials_file
	NATS_URL                        events.nats_url (empty disables)
	LOG_LEVEL, LOG_FORMAT           logging.level, logging.format

Unmapped variables are ignored. The full table lives in envMappings.

The encryption key is the only thing that can read the artifacts. If it is
lost, every backup is unrecoverable; there is no escrow.
*/
package config
