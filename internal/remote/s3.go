// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// S3 storage classes.
const (
	S3ClassInfrequent = "STANDARD_IA"
	S3ClassCold       = "GLACIER_IR"
	S3ClassArchive    = "DEEP_ARCHIVE"
)

// S3Config configures an S3-compatible store.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// S3Store is an ObjectStore on any S3-compatible endpoint (AWS, MinIO, R2).
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates a client. No request is made until the first call.
// Without static keys the IAM/environment chain is used.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 endpoint and bucket are required", ErrNotConfigured)
	}

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Provider implements ObjectStore.
func (s *S3Store) Provider() string { return "s3" }

// Bucket implements ObjectStore.
func (s *S3Store) Bucket() string { return s.bucket }

// DefaultStorageClass implements ObjectStore.
func (s *S3Store) DefaultStorageClass() string { return S3ClassInfrequent }

// BucketExists implements ObjectStore.
func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	return s.client.BucketExists(ctx, s.bucket)
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*CloudCopy, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		StorageClass: opts.StorageClass,
		UserMetadata: opts.Metadata,
		UserTags:     opts.Tags,
	})
	if err != nil {
		return nil, err
	}
	return &CloudCopy{
		RemoteKey:    info.Key,
		Bucket:       info.Bucket,
		Provider:     s.Provider(),
		ETag:         strings.Trim(info.ETag, `"`),
		VersionID:    info.VersionID,
		StorageClass: opts.StorageClass,
		SizeBytes:    info.Size,
	}, nil
}

// List implements ObjectStore.
func (s *S3Store) List(ctx context.Context, prefix string) ([]RemoteObject, error) {
	var out []RemoteObject
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, RemoteObject{
			Key:          obj.Key,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
			ETag:         strings.Trim(obj.ETag, `"`),
			VersionID:    obj.VersionID,
			StorageClass: obj.StorageClass,
			Metadata:     normalizeS3Metadata(obj.UserMetadata),
		})
	}
	return out, nil
}

// EnableVersioning implements ObjectStore.
func (s *S3Store) EnableVersioning(ctx context.Context) error {
	return s.client.EnableVersioning(ctx, s.bucket)
}

// SetLifecycle implements ObjectStore. A rule carries a single transition,
// so the archive step is a second rule on the same prefix.
func (s *S3Store) SetLifecycle(ctx context.Context, prefix string, policy LifecyclePolicy) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:         "snapvault-cold",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: prefix},
			Transition: lifecycle.Transition{
				Days:         lifecycle.ExpirationDays(policy.ColdAfterDays),
				StorageClass: policy.ColdClass,
			},
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(policy.ExpireAfterDays),
			},
			NoncurrentVersionExpiration: lifecycle.NoncurrentVersionExpiration{
				NoncurrentDays: lifecycle.ExpirationDays(policy.ExpireAfterDays),
			},
		},
		{
			ID:         "snapvault-archive",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: prefix},
			Transition: lifecycle.Transition{
				Days:         lifecycle.ExpirationDays(policy.ArchiveAfterDays),
				StorageClass: policy.ArchiveClass,
			},
		},
	}
	return s.client.SetBucketLifecycle(ctx, s.bucket, cfg)
}

// Close implements ObjectStore.
func (s *S3Store) Close() error { return nil }

// normalizeS3Metadata strips the X-Amz-Meta- prefix and lowercases keys so
// listings look the same on every provider.
func normalizeS3Metadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = v
	}
	return out
}
