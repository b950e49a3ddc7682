// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validatePostgresURL validates a libpq connection URL.
// Supports: postgres:// and postgresql:// with a host and database name.
func validatePostgresURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		// url.Error echoes the input, which may carry a password.
		return fmt.Errorf("failed to parse URL")
	}

	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return fmt.Errorf("scheme must be postgres or postgresql, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., postgres://user:pass@db:5432/app)")
	}

	if strings.Trim(parsedURL.Path, "/") == "" {
		return fmt.Errorf("database name is required in the URL path")
	}

	return nil
}

// validateRedisURL validates that the Redis URL is properly formatted.
// Supports: redis:// and rediss:// (TLS).
func validateRedisURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL")
	}

	if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
		return fmt.Errorf("scheme must be redis or rediss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., redis://localhost:6379/0)")
	}

	return nil
}

// validateNATSURL validates that the NATS URL is properly formatted
// Supports: nats://, tls://, and ws:// schemes with IP addresses/hostnames and optional ports
func validateNATSURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[parsedURL.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222, 192.168.1.100:4222, nats.example.com)")
	}

	return nil
}

// validateEndpoint validates an S3 endpoint. minio-go wants host[:port]
// without a scheme; use_ssl picks the protocol.
func validateEndpoint(endpoint string) error {
	if strings.Contains(endpoint, "://") {
		return fmt.Errorf("endpoint must be host[:port] without a scheme, got: %s", endpoint)
	}
	if strings.ContainsAny(endpoint, "/?#") {
		return fmt.Errorf("endpoint must not contain a path or query, got: %s", endpoint)
	}
	return nil
}
