// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMinioImage is the S3-compatible server used for replication tests.
	DefaultMinioImage = "minio/minio:latest"

	minioPort = "9000/tcp"

	// MinioAccessKey and MinioSecretKey are the root credentials of the container.
	MinioAccessKey = "snapvault"
	MinioSecretKey = "snapvault-secret"
)

// MinioContainer is a running MinIO server.
type MinioContainer struct {
	testcontainers.Container
	// Endpoint is host:port without scheme.
	Endpoint string
}

// NewMinioContainer starts MinIO in single-node mode.
func NewMinioContainer(ctx context.Context) (*MinioContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultMinioImage,
		ExposedPorts: []string{minioPort},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     MinioAccessKey,
			"MINIO_ROOT_PASSWORD": MinioSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort(minioPort).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio container: %w", err)
	}

	hostPort, err := container.PortEndpoint(ctx, minioPort, "")
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("resolve minio endpoint: %w", err)
	}

	return &MinioContainer{Container: container, Endpoint: hostPort}, nil
}
