// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the provider-specific half of replication. The Replicator
// owns key layout, metadata and failure policy; a store only moves bytes.
type ObjectStore interface {
	// Provider is a short name for logs and metrics, e.g. "s3" or "gcs".
	Provider() string

	// Bucket is the bucket the store writes into.
	Bucket() string

	// BucketExists probes the bucket with the configured credentials.
	BucketExists(ctx context.Context) (bool, error)

	// Put uploads size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*CloudCopy, error)

	// List returns every object under prefix.
	List(ctx context.Context, prefix string) ([]RemoteObject, error)

	// EnableVersioning turns on object versioning for the bucket.
	EnableVersioning(ctx context.Context) error

	// SetLifecycle replaces the bucket lifecycle rules for prefix.
	SetLifecycle(ctx context.Context, prefix string, policy LifecyclePolicy) error

	// DefaultStorageClass is the infrequent-access class new copies land in.
	DefaultStorageClass() string

	Close() error
}

// PutOptions describes one upload.
type PutOptions struct {
	ContentType  string
	StorageClass string
	// Metadata is stored as user metadata on every provider.
	Metadata map[string]string
	// Tags are object tags where the provider has them (S3). Providers
	// without tags ignore them; the same values are in Metadata.
	Tags map[string]string
}

// LifecyclePolicy ages copies into colder storage and eventually expires
// them. Storage class names are provider specific.
type LifecyclePolicy struct {
	ColdAfterDays    int
	ColdClass        string
	ArchiveAfterDays int
	ArchiveClass     string
	// ExpireAfterDays applies to current objects and to noncurrent versions.
	ExpireAfterDays int
}

// CloudCopy is the record of one successful upload. Copies are never mutated
// and never removed by local rotation.
type CloudCopy struct {
	RemoteKey    string    `json:"remoteKey"`
	Bucket       string    `json:"bucket"`
	Provider     string    `json:"provider"`
	ETag         string    `json:"etag,omitempty"`
	VersionID    string    `json:"versionId,omitempty"`
	StorageClass string    `json:"storageClass,omitempty"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// RemoteObject is one entry of a bucket listing.
type RemoteObject struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"sizeBytes"`
	LastModified time.Time         `json:"lastModified"`
	ETag         string            `json:"etag,omitempty"`
	VersionID    string            `json:"versionId,omitempty"`
	StorageClass string            `json:"storageClass,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
