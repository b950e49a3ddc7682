// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

var (
	// ErrRemoteUnavailable is returned while the upload circuit is open.
	ErrRemoteUnavailable = errors.New("remote storage unavailable")

	// ErrNotConfigured is returned by bucket administration calls when no
	// provider is configured or the bucket could not be reached.
	ErrNotConfigured = errors.New("remote storage not configured")
)

// Lifecycle horizons. Expiry is configurable; transitions are fixed.
const (
	ColdAfterDays          = 30
	ArchiveAfterDays       = 90
	DefaultExpireAfterDays = 2555

	contentType = "application/octet-stream"
)

// Config configures replication.
type Config struct {
	// Provider is s3 or gcs. Empty disables replication.
	Provider string
	// Prefix is prepended to every key, e.g. "snapvault/".
	Prefix string
	// StorageClass overrides the provider's infrequent-access default.
	StorageClass    string
	ExpireAfterDays int
	UploadTimeout   time.Duration

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	S3  S3Config
	GCS GCSConfig
}

// Replicator copies artifacts off-site. It never fails a backup: when the
// store is missing or unreachable it reports ready=false and uploads are
// skipped.
type Replicator struct {
	cfg     Config
	store   ObjectStore
	breaker *uploadBreaker
	ready   atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithClock overrides the time source for upload-timestamp metadata.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) {
		r.now = now
	}
}

// WithLogger sets the replicator logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Replicator) {
		r.logger = logger
	}
}

// New builds the store for cfg.Provider. It does not fail: a store that
// cannot be constructed is logged with guidance and replication stays off.
func New(ctx context.Context, cfg Config, opts ...Option) *Replicator {
	if cfg.Provider == "" {
		return newReplicator(cfg, nil, opts...)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		r := newReplicator(cfg, nil, opts...)
		r.logger.Warn().Err(err).Str("provider", cfg.Provider).
			Msg("Remote replication disabled: check bucket, endpoint and credentials settings")
		return r
	}
	return newReplicator(cfg, store, opts...)
}

// NewWithStore wraps an existing store.
func NewWithStore(cfg Config, store ObjectStore, opts ...Option) *Replicator {
	return newReplicator(cfg, store, opts...)
}

func newReplicator(cfg Config, store ObjectStore, opts ...Option) *Replicator {
	if cfg.ExpireAfterDays <= 0 {
		cfg.ExpireAfterDays = DefaultExpireAfterDays
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Minute
	}
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}

	r := &Replicator{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: logging.WithComponent("remote"),
	}
	for _, opt := range opts {
		opt(r)
	}
	name := "remote-upload"
	if store != nil {
		name = "remote-upload-" + store.Provider()
	}
	r.breaker = newUploadBreaker(name, cfg.BreakerMaxFailures, cfg.BreakerTimeout)
	return r
}

func openStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Store(cfg.S3)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}
}

// Initialize probes the bucket. It returns the resulting readiness and
// never fails the caller; problems are logged with what to fix.
func (r *Replicator) Initialize(ctx context.Context) bool {
	if r.store == nil {
		r.ready.Store(false)
		if r.cfg.Provider == "" {
			r.logger.Info().Msg("Remote replication not configured; backups stay local only")
		}
		return false
	}

	exists, err := r.store.BucketExists(ctx)
	metrics.RecordReplication(r.store.Provider(), "probe", 0, err)
	switch {
	case err != nil:
		r.logger.Warn().Err(err).
			Str("provider", r.store.Provider()).
			Str("bucket", r.store.Bucket()).
			Msg("Remote bucket unreachable; check credentials and endpoint. Uploads are disabled until restart")
		r.ready.Store(false)
	case !exists:
		r.logger.Warn().
			Str("provider", r.store.Provider()).
			Str("bucket", r.store.Bucket()).
			Msg("Remote bucket does not exist; create it, then run 'snapvault remote setup'")
		r.ready.Store(false)
	default:
		r.logger.Info().
			Str("provider", r.store.Provider()).
			Str("bucket", r.store.Bucket()).
			Str("prefix", r.cfg.Prefix).
			Msg("Remote replication ready")
		r.ready.Store(true)
	}
	return r.ready.Load()
}

// Ready reports whether the last Initialize reached the bucket.
func (r *Replicator) Ready() bool {
	return r.ready.Load()
}

// Provider returns the configured provider, or "" when replication is off.
func (r *Replicator) Provider() string {
	if r.store == nil {
		return ""
	}
	return r.store.Provider()
}

// BreakerState returns closed, half-open or open.
func (r *Replicator) BreakerState() string {
	return r.breaker.state()
}

// RemoteKey returns the object key for a.
func (r *Replicator) RemoteKey(a *backup.Artifact) string {
	return r.cfg.Prefix + string(a.Tier) + "/" + a.Filename
}

// UploadBackup copies a to the bucket. It returns nil, nil when replication
// is not ready. The copy carries tier, timestamps, size and digest as
// metadata (and tags on S3) so tampering with the object is detectable.
func (r *Replicator) UploadBackup(ctx context.Context, a *backup.Artifact) (*CloudCopy, error) {
	if !r.Ready() || a == nil {
		return nil, nil
	}

	key := r.RemoteKey(a)
	storageClass := r.cfg.StorageClass
	if storageClass == "" {
		storageClass = r.store.DefaultStorageClass()
	}
	uploadedAt := r.now().UTC()
	meta := map[string]string{
		"tier":             string(a.Tier),
		"created-at":       a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"digest":           a.Digest,
		"upload-timestamp": uploadedAt.Format(time.RFC3339Nano),
		"size-bytes":       strconv.FormatInt(a.SizeBytes, 10),
	}

	start := time.Now()
	out, err := r.breaker.execute(func() (*CloudCopy, error) {
		return r.put(ctx, a, key, PutOptions{
			ContentType:  contentType,
			StorageClass: storageClass,
			Metadata:     meta,
			Tags:         meta,
		})
	})
	metrics.RecordReplication(r.store.Provider(), "upload", a.SizeBytes, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("artifact", a.ID()).
			Str("remote_key", key).
			Str("breaker", r.breaker.state()).
			Msg("Remote upload failed")
		return nil, err
	}

	out.UploadedAt = uploadedAt
	if out.RemoteKey == "" {
		out.RemoteKey = key
	}
	logging.Ctx(ctx).Info().
		Str("artifact", a.ID()).
		Str("remote_key", out.RemoteKey).
		Str("storage_class", out.StorageClass).
		Str("version_id", out.VersionID).
		Dur("duration", time.Since(start)).
		Msg("Artifact replicated")
	return out, nil
}

func (r *Replicator) put(ctx context.Context, a *backup.Artifact, key string, opts PutOptions) (*CloudCopy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
	defer cancel()

	f, err := os.Open(a.Path())
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	out, err := r.store.Put(ctx, key, f, info.Size(), opts)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	return out, nil
}

// EnableVersioning turns on bucket versioning. It is safe to repeat.
func (r *Replicator) EnableVersioning(ctx context.Context) error {
	if r.store == nil {
		return ErrNotConfigured
	}
	err := r.store.EnableVersioning(ctx)
	metrics.RecordReplication(r.store.Provider(), "versioning", 0, err)
	if err != nil {
		return fmt.Errorf("enable versioning on %s: %w", r.store.Bucket(), err)
	}
	r.logger.Info().Str("bucket", r.store.Bucket()).Msg("Bucket versioning enabled")
	return nil
}

// LifecyclePolicy returns the policy ConfigureLifecycle applies.
func (r *Replicator) LifecyclePolicy() LifecyclePolicy {
	p := LifecyclePolicy{
		ColdAfterDays:    ColdAfterDays,
		ArchiveAfterDays: ArchiveAfterDays,
		ExpireAfterDays:  r.cfg.ExpireAfterDays,
		ColdClass:        S3ClassCold,
		ArchiveClass:     S3ClassArchive,
	}
	if r.store != nil && r.store.Provider() == "gcs" {
		p.ColdClass = GCSClassCold
		p.ArchiveClass = GCSClassArchive
	}
	return p
}

// ConfigureLifecycle replaces the bucket lifecycle for the prefix: cold
// storage at 30 days, archive at 90, expiry (and noncurrent version expiry)
// after ExpireAfterDays. It is safe to repeat.
func (r *Replicator) ConfigureLifecycle(ctx context.Context) error {
	if r.store == nil {
		return ErrNotConfigured
	}
	policy := r.LifecyclePolicy()
	err := r.store.SetLifecycle(ctx, r.cfg.Prefix, policy)
	metrics.RecordReplication(r.store.Provider(), "lifecycle", 0, err)
	if err != nil {
		return fmt.Errorf("configure lifecycle on %s: %w", r.store.Bucket(), err)
	}
	r.logger.Info().
		Str("bucket", r.store.Bucket()).
		Int("cold_after_days", policy.ColdAfterDays).
		Int("archive_after_days", policy.ArchiveAfterDays).
		Int("expire_after_days", policy.ExpireAfterDays).
		Msg("Bucket lifecycle configured")
	return nil
}

// ListRemoteBackups lists copies under the prefix, newest first. It returns
// an empty list when replication is not ready.
func (r *Replicator) ListRemoteBackups(ctx context.Context) ([]RemoteObject, error) {
	if !r.Ready() {
		return []RemoteObject{}, nil
	}
	objs, err := r.store.List(ctx, r.cfg.Prefix)
	metrics.RecordReplication(r.store.Provider(), "list", 0, err)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.store.Bucket(), err)
	}
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].LastModified.Equal(objs[j].LastModified) {
			return objs[i].LastModified.After(objs[j].LastModified)
		}
		return objs[i].Key > objs[j].Key
	})
	if objs == nil {
		objs = []RemoteObject{}
	}
	return objs, nil
}

// Close releases the store client.
func (r *Replicator) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
