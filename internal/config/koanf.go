// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"snapvault.yaml",
	"snapvault.yml",
	"/etc/snapvault/config.yaml",
	"/etc/snapvault/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:        "",
			PgDumpPath: "pg_dump",
			PgDumpArgs: []string{},
		},
		Backup: BackupConfig{
			Dir:           "/var/lib/snapvault/backups",
			EncryptionKey: "",
			Retention: RetentionConfig{
				Daily:   30,
				Weekly:  8,
				Monthly: 12,
			},
			VerifyCount: 5,
		},
		Schedule: ScheduleConfig{
			Daily:          "0 2 * * *",
			Weekly:         "0 3 * * 0",
			Monthly:        "0 4 1 * *",
			IntegritySweep: "0 */6 * * *",
			Timezone:       "UTC",
			RunTimeout:     2 * time.Hour,
		},
		Lock: LockConfig{
			Backend:        "postgres",
			RedisURL:       "",
			TTL:            30 * time.Second,
			AcquireTimeout: 0, // single non-blocking attempt per firing
			PollInterval:   time.Second,
		},
		Remote: RemoteConfig{
			Provider:        "", // replication disabled
			Prefix:          "snapvault/",
			Region:          "us-east-1",
			ExpireAfterDays: 2555, // ~7 years
			S3: S3Config{
				UseSSL: true,
			},
			Breaker: BreakerConfig{
				MaxFailures: 3,
				Timeout:     5 * time.Minute,
			},
			UploadTimeout: 30 * time.Minute,
		},
		History: HistoryConfig{
			Path:      "/var/lib/snapvault/history",
			Retention: 90 * 24 * time.Hour,
		},
		Events: EventsConfig{
			NATSURL:       "",
			SubjectPrefix: "snapvault.jobs",
		},
		Server: ServerConfig{
			Enabled:         false,
			Host:            "127.0.0.1",
			Port:            9187,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
			File: LoggingFileConfig{
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
	}
}

// Default returns the built-in defaults without reading a file or the
// environment. DATABASE_URL is left empty, so the result does not validate
// until it is set.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	return Load("")
}

// Load is LoadWithKoanf with an explicit config file. An empty path falls
// back to CONFIG_PATH and DefaultConfigPaths; a non-empty path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// DATABASE_URL -> database.url
	// BACKUP_RETENTION_DAILY -> backup.retention.daily
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from space or comma separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as separated slices
var sliceConfigPaths = []string{
	"database.pg_dump_args",
}

// processSliceFields converts separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok {
			continue
		}
		parts := strings.FieldsFunc(strVal, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Database
	"database_url":    "database.url",
	"pg_dump_path":    "database.pg_dump_path",
	"pg_dump_args":    "database.pg_dump_args",
	"pg_dump_timeout": "database.dump_timeout",

	// Backup
	"backup_dir":               "backup.dir",
	"backup_encryption_key":    "backup.encryption_key",
	"backup_retention_daily":   "backup.retention.daily",
	"backup_retention_weekly":  "backup.retention.weekly",
	"backup_retention_monthly": "backup.retention.monthly",
	"backup_verify_count":      "backup.verify_count",

	// Schedule
	"backup_schedule_daily":   "schedule.daily",
	"backup_schedule_weekly":  "schedule.weekly",
	"backup_schedule_monthly": "schedule.monthly",
	"backup_schedule_verify":  "schedule.integrity_sweep",
	"backup_timezone":         "schedule.timezone",
	"backup_run_timeout":      "schedule.run_timeout",

	// Lock
	"lock_backend":         "lock.backend",
	"redis_url":            "lock.redis_url",
	"lock_ttl":             "lock.ttl",
	"lock_acquire_timeout": "lock.acquire_timeout",
	"lock_poll_interval":   "lock.poll_interval",

	// Remote
	"remote_provider":                "remote.provider",
	"remote_prefix":                  "remote.prefix",
	"remote_storage_class":           "remote.storage_class",
	"remote_expire_after_days":       "remote.expire_after_days",
	"remote_upload_timeout":          "remote.upload_timeout",
	"remote_breaker_max_failures":    "remote.breaker.max_failures",
	"remote_breaker_timeout":         "remote.breaker.timeout",
	"s3_bucket":                      "remote.bucket",
	"s3_endpoint":                    "remote.s3.endpoint",
	"s3_use_ssl":                     "remote.s3.use_ssl",
	"aws_region":                     "remote.region",
	"aws_access_key_id":              "remote.s3.access_key_id",
	"aws_secret_access_key":          "remote.s3.secret_access_key",
	"gcs_bucket":                     "remote.bucket",
	"google_application_credentials": "remote.gcs.credentials_file",

	// History
	"history_path":      "history.path",
	"history_retention": "history.retention",

	// Events
	"nats_url":            "events.nats_url",
	"nats_subject_prefix": "events.subject_prefix",

	// Server
	"http_enabled":          "server.enabled",
	"http_host":             "server.host",
	"http_port":             "server.port",
	"rate_limit_requests":   "server.rate_limit_reqs",
	"rate_limit_window":     "server.rate_limit_window",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
	"log_file":   "logging.file.path",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DATABASE_URL -> database.url
//   - BACKUP_SCHEDULE_DAILY -> schedule.daily
//   - AWS_ACCESS_KEY_ID -> remote.s3.access_key_id
//   - GOOGLE_APPLICATION_CREDENTIALS -> remote.gcs.credentials_file
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// Returning an empty key skips the variable so unrelated environment
	// does not leak into config.
	return ""
}
