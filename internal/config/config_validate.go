// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/snapvault/internal/validation"
)

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateSchedule(); err != nil {
		return err
	}

	if err := c.validateLock(); err != nil {
		return err
	}

	if err := c.validateRemote(); err != nil {
		return err
	}

	return c.validateEvents()
}

func (c *Config) validateDatabase() error {
	if err := validatePostgresURL(c.Database.URL); err != nil {
		return fmt.Errorf("DATABASE_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("BACKUP_TIMEZONE %q is not a known timezone: %w", c.Schedule.Timezone, err)
	}
	return nil
}

// validateLock validates the coordination backend (redis needs its own URL)
func (c *Config) validateLock() error {
	if c.Lock.Backend != "redis" {
		return nil
	}
	if c.Lock.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND=redis")
	}
	if err := validateRedisURL(c.Lock.RedisURL); err != nil {
		return fmt.Errorf("REDIS_URL is invalid: %w", err)
	}
	return nil
}

// validateRemote validates replication settings (only if a provider is set)
func (c *Config) validateRemote() error {
	if !c.RemoteEnabled() {
		return nil
	}
	if c.Remote.Bucket == "" {
		return fmt.Errorf("a bucket (S3_BUCKET or GCS_BUCKET) is required when REMOTE_PROVIDER=%s", c.Remote.Provider)
	}
	if c.Remote.Provider == "s3" {
		if c.Remote.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when REMOTE_PROVIDER=s3")
		}
		if err := validateEndpoint(c.Remote.S3.Endpoint); err != nil {
			return fmt.Errorf("S3_ENDPOINT is invalid: %w", err)
		}
		if (c.Remote.S3.AccessKeyID == "") != (c.Remote.S3.SecretAccessKey == "") {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
		}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.EventsEnabled() {
		return nil
	}
	if err := validateNATSURL(c.Events.NATSURL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if c.Events.SubjectPrefix == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX must not be empty when NATS_URL is set")
	}
	return nil
}
