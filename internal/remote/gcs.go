// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS storage classes.
const (
	GCSClassInfrequent = "NEARLINE"
	GCSClassCold       = "COLDLINE"
	GCSClassArchive    = "ARCHIVE"
)

// GCSConfig configures a Google Cloud Storage store.
type GCSConfig struct {
	Bucket string
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// GCSStore is an ObjectStore on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a storage client.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", ErrNotConfigured)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// Provider implements ObjectStore.
func (g *GCSStore) Provider() string { return "gcs" }

// Bucket implements ObjectStore.
func (g *GCSStore) Bucket() string { return g.bucket }

// DefaultStorageClass implements ObjectStore.
func (g *GCSStore) DefaultStorageClass() string { return GCSClassInfrequent }

// BucketExists implements ObjectStore.
func (g *GCSStore) BucketExists(ctx context.Context) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put implements ObjectStore. GCS has no object tags; opts.Tags is ignored.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*CloudCopy, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.StorageClass = opts.StorageClass
	w.Metadata = opts.Metadata

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context aborts the resumable upload.
		cancel()
		_ = w.Close()
		return nil, fmt.Errorf("failed to copy to GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}

	attrs := w.Attrs()
	out := &CloudCopy{
		RemoteKey:    key,
		Bucket:       g.bucket,
		Provider:     g.Provider(),
		StorageClass: opts.StorageClass,
		SizeBytes:    size,
	}
	if attrs != nil {
		out.ETag = attrs.Etag
		out.VersionID = strconv.FormatInt(attrs.Generation, 10)
		out.StorageClass = attrs.StorageClass
		out.SizeBytes = attrs.Size
	}
	return out, nil
}

// List implements ObjectStore.
func (g *GCSStore) List(ctx context.Context, prefix string) ([]RemoteObject, error) {
	var out []RemoteObject
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, RemoteObject{
			Key:          attrs.Name,
			SizeBytes:    attrs.Size,
			LastModified: attrs.Updated,
			ETag:         attrs.Etag,
			VersionID:    strconv.FormatInt(attrs.Generation, 10),
			StorageClass: attrs.StorageClass,
			Metadata:     attrs.Metadata,
		})
	}
	return out, nil
}

// EnableVersioning implements ObjectStore.
func (g *GCSStore) EnableVersioning(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Update(ctx, storage.BucketAttrsToUpdate{
		VersioningEnabled: true,
	})
	return err
}

// SetLifecycle implements ObjectStore.
func (g *GCSStore) SetLifecycle(ctx context.Context, prefix string, policy LifecyclePolicy) error {
	match := []string{prefix}
	if prefix == "" {
		match = nil
	}
	rules := []storage.LifecycleRule{
		{
			Action: storage.LifecycleAction{Type: storage.SetStorageClassAction, StorageClass: policy.ColdClass},
			Condition: storage.LifecycleCondition{
				AgeInDays:     int64(policy.ColdAfterDays),
				MatchesPrefix: match,
			},
		},
		{
			Action: storage.LifecycleAction{Type: storage.SetStorageClassAction, StorageClass: policy.ArchiveClass},
			Condition: storage.LifecycleCondition{
				AgeInDays:     int64(policy.ArchiveAfterDays),
				MatchesPrefix: match,
			},
		},
		{
			Action: storage.LifecycleAction{Type: storage.DeleteAction},
			Condition: storage.LifecycleCondition{
				AgeInDays:     int64(policy.ExpireAfterDays),
				MatchesPrefix: match,
			},
		},
		{
			Action: storage.LifecycleAction{Type: storage.DeleteAction},
			Condition: storage.LifecycleCondition{
				DaysSinceNoncurrentTime: int64(policy.ExpireAfterDays),
				MatchesPrefix:           match,
			},
		},
	}
	_, err := g.client.Bucket(g.bucket).Update(ctx, storage.BucketAttrsToUpdate{
		Lifecycle: &storage.Lifecycle{Rules: rules},
	})
	return err
}

// Close implements ObjectStore.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
