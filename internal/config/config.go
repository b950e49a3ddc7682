// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"time"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Backup   BackupConfig   `koanf:"backup"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Lock     LockConfig     `koanf:"lock"`
	Remote   RemoteConfig   `koanf:"remote"`
	History  HistoryConfig  `koanf:"history"`
	Events   EventsConfig   `koanf:"events"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig describes the database being backed up.
type DatabaseConfig struct {
	// URL is a postgres:// connection URL. The password is handed to pg_dump
	// through PGPASSWORD, never argv.
	URL string `koanf:"url" validate:"required"`

	// PgDumpPath is the pg_dump executable. Default: pg_dump on PATH.
	PgDumpPath string `koanf:"pg_dump_path"`

	// PgDumpArgs are extra arguments appended to every pg_dump invocation.
	PgDumpArgs []string `koanf:"pg_dump_args"`

	// DumpTimeout kills pg_dump if it runs longer. Zero relies on the job timeout.
	DumpTimeout time.Duration `koanf:"dump_timeout" validate:"min=0"`
}

// BackupConfig configures the local artifact store.
type BackupConfig struct {
	Dir string `koanf:"dir" validate:"required"`

	// EncryptionKey is 32 bytes hex-encoded. When empty, commands that write
	// backups generate one and print it once; losing it makes every artifact
	// unreadable. Read-only commands run without a key.
	EncryptionKey string `koanf:"encryption_key" validate:"omitempty,hexkey"`

	Retention RetentionConfig `koanf:"retention"`

	// VerifyCount is how many of the newest artifacts per tier the integrity
	// sweep checks.
	VerifyCount int `koanf:"verify_count" validate:"min=1"`
}

// RetentionConfig is the number of artifacts kept per tier.
type RetentionConfig struct {
	Daily   int `koanf:"daily" validate:"min=1"`
	Weekly  int `koanf:"weekly" validate:"min=1"`
	Monthly int `koanf:"monthly" validate:"min=1"`
}

// ScheduleConfig holds the cron expressions of every job.
type ScheduleConfig struct {
	Daily          string        `koanf:"daily" validate:"required,cron"`
	Weekly         string        `koanf:"weekly" validate:"required,cron"`
	Monthly        string        `koanf:"monthly" validate:"required,cron"`
	IntegritySweep string        `koanf:"integrity_sweep" validate:"omitempty,cron"`
	Timezone       string        `koanf:"timezone"`
	RunTimeout     time.Duration `koanf:"run_timeout" validate:"min=0"`
}

// LockConfig selects the coordination backend.
type LockConfig struct {
	// Backend is postgres (uses database.url), redis or memory.
	Backend        string        `koanf:"backend" validate:"oneof=postgres redis memory"`
	RedisURL       string        `koanf:"redis_url"`
	TTL            time.Duration `koanf:"ttl" validate:"min=0"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout" validate:"min=0"`
	PollInterval   time.Duration `koanf:"poll_interval" validate:"min=0"`
}

// RemoteConfig configures optional off-site replication. An empty provider
// disables it.
type RemoteConfig struct {
	Provider        string        `koanf:"provider" validate:"omitempty,oneof=s3 gcs"`
	Bucket          string        `koanf:"bucket"`
	Prefix          string        `koanf:"prefix"`
	Region          string        `koanf:"region"`
	StorageClass    string        `koanf:"storage_class"`
	ExpireAfterDays int           `koanf:"expire_after_days" validate:"min=0"`
	S3              S3Config      `koanf:"s3"`
	GCS             GCSConfig     `koanf:"gcs"`
	Breaker         BreakerConfig `koanf:"breaker"`
	UploadTimeout   time.Duration `koanf:"upload_timeout" validate:"min=0"`
}

// S3Config holds S3-compatible endpoint settings.
type S3Config struct {
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	UseSSL          bool   `koanf:"use_ssl"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	// CredentialsFile is a service account JSON file. Empty uses application
	// default credentials.
	CredentialsFile string `koanf:"credentials_file"`
}

// BreakerConfig tunes the upload circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `koanf:"max_failures" validate:"min=1"`
	Timeout     time.Duration `koanf:"timeout" validate:"min=0"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// Path is the badger directory. Empty keeps history in memory.
	Path      string        `koanf:"path"`
	Retention time.Duration `koanf:"retention" validate:"min=0"`
}

// EventsConfig configures JobResult events on NATS. An empty URL disables them.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig configures the operational HTTP endpoint used by serve.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string            `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string            `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool              `koanf:"caller"`
	File   LoggingFileConfig `koanf:"file"`
}

// LoggingFileConfig mirrors logs into a rotated file when Path is set.
type LoggingFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=0"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
	Compress   bool   `koanf:"compress"`
}

// LoggingOptions converts the logging section into logging.Config.
func (c *Config) LoggingOptions() logging.Config {
	out := logging.DefaultConfig()
	out.Level = c.Logging.Level
	out.Format = c.Logging.Format
	out.Caller = c.Logging.Caller
	out.File = logging.FileConfig{
		Path:       c.Logging.File.Path,
		MaxSizeMB:  c.Logging.File.MaxSizeMB,
		MaxBackups: c.Logging.File.MaxBackups,
		MaxAgeDays: c.Logging.File.MaxAgeDays,
		Compress:   c.Logging.File.Compress,
	}
	return out
}

// Retention returns the per-tier quota in the engine's terms.
func (c *Config) Retention() backup.Retention {
	return backup.Retention{
		Daily:   c.Backup.Retention.Daily,
		Weekly:  c.Backup.Retention.Weekly,
		Monthly: c.Backup.Retention.Monthly,
	}
}

// Location resolves the schedule timezone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

// RemoteEnabled reports whether a replication provider is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Provider != ""
}

// EventsEnabled reports whether JobResult events should be published.
func (c *Config) EventsEnabled() bool {
	return c.Events.NATSURL != ""
}
