// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/events"
	"github.com/tomtom215/snapvault/internal/history"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/remote"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

// JobIntegritySweep is the name of the periodic verification job. The
// backup jobs are named after their tier.
const JobIntegritySweep = "integrity-sweep"

// ErrHistoryDisabled is returned by History when no history store is open.
var ErrHistoryDisabled = errors.New("run history is not available")

// Service is the operator surface of the pipeline. The CLI and the ops API
// both drive it.
type Service struct {
	cfg        *config.Config
	engine     *backup.Engine
	locks      *lock.Manager
	replicator *remote.Replicator
	scheduler  *scheduler.Scheduler
	history    *history.Store
	events     *events.Publisher
	logger     zerolog.Logger

	verifyCount int
	stopOnce    sync.Once
	stopErr     error
}

type options struct {
	dumper      backup.Dumper
	lockBackend lock.Backend
	store       remote.ObjectStore
	history     *history.Store
	clock       scheduler.Clock
	keyNotice   io.Writer
	readOnly    bool
	logger      *zerolog.Logger
}

// Option configures New.
type Option func(*options)

// WithDumper replaces pg_dump.
func WithDumper(d backup.Dumper) Option {
	return func(o *options) { o.dumper = d }
}

// WithLockBackend replaces the backend selected by lock.backend.
func WithLockBackend(b lock.Backend) Option {
	return func(o *options) { o.lockBackend = b }
}

// WithObjectStore replaces the store selected by remote.provider.
func WithObjectStore(s remote.ObjectStore) Option {
	return func(o *options) { o.store = s }
}

// WithHistory uses an already open history store. The Service closes it.
func WithHistory(h *history.Store) Option {
	return func(o *options) { o.history = h }
}

// WithClock drives the scheduler and artifact timestamps from c.
func WithClock(c scheduler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithKeyNotice sets where a generated encryption key is printed. Default: stderr.
func WithKeyNotice(w io.Writer) Option {
	return func(o *options) { o.keyNotice = w }
}

// WithReadOnly marks a Service that will not write backups. Without a
// configured key it runs keyless instead of generating one: listing,
// verification and history work, backups and decryption fail with
// backup.ErrNoKey.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithLogger sets the base logger for every component.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// New assembles the engine, lock manager, replicator, scheduler, history and
// event publisher from cfg. Remote replication, history and events degrade
// to disabled with a warning; the engine and lock backend are required.
//
//nolint:gocyclo // sequential component setup
func New(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	o := options{keyNotice: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	base := logging.Logger()
	if o.logger != nil {
		base = *o.logger
	}
	component := func(name string) zerolog.Logger {
		return base.With().Str("component", name).Logger()
	}

	s := &Service{
		cfg:         cfg,
		logger:      component("pipeline"),
		verifyCount: cfg.Backup.VerifyCount,
	}
	defer func() {
		if err != nil {
			_ = s.Stop() //nolint:errcheck // already failing
		}
	}()

	var key *backup.Key
	if cfg.Backup.EncryptionKey != "" || !o.readOnly {
		key, err = loadKey(cfg.Backup.EncryptionKey, o.keyNotice, s.logger)
		if err != nil {
			return nil, err
		}
	}

	dumper := o.dumper
	if dumper == nil {
		dumper = backup.NewPgDumper(backup.PgDumpConfig{
			Binary:      cfg.Database.PgDumpPath,
			DatabaseURL: cfg.Database.URL,
			ExtraArgs:   cfg.Database.PgDumpArgs,
			Timeout:     cfg.Database.DumpTimeout,
		})
	}

	engineOpts := []backup.EngineOption{backup.WithLogger(component("backup"))}
	if o.clock != nil {
		engineOpts = append(engineOpts, backup.WithClock(o.clock.Now))
	}
	s.engine, err = backup.NewEngine(backup.Config{
		Root:      cfg.Backup.Dir,
		Retention: cfg.Retention(),
	}, key, dumper, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("init backup engine: %w", err)
	}

	backend := o.lockBackend
	if backend == nil {
		backend, err = openLockBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	s.locks = lock.NewManager(backend,
		lock.WithPollInterval(cfg.Lock.PollInterval),
		lock.WithAcquireTimeout(cfg.Lock.AcquireTimeout),
		lock.WithLogger(component("lock")),
	)

	remoteCfg := remoteConfig(cfg)
	if o.store != nil {
		s.replicator = remote.NewWithStore(remoteCfg, o.store, remote.WithLogger(component("remote")))
	} else {
		s.replicator = remote.New(ctx, remoteCfg, remote.WithLogger(component("remote")))
	}
	s.replicator.Initialize(ctx)

	s.history = o.history
	if s.history == nil {
		s.history, err = history.Open(cfg.History.Path, cfg.History.Retention)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", cfg.History.Path).
				Msg("Run history unavailable; is another snapvault process using it?")
			s.history, err = nil, nil
		}
	}

	if cfg.EventsEnabled() {
		s.events, err = events.NewPublisher(events.Config{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("url", logging.RedactURL(cfg.Events.NATSURL)).
				Msg("Job events disabled")
			s.events, err = nil, nil
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}
	schedOpts := []scheduler.Option{
		scheduler.WithLocation(loc),
		scheduler.WithRunTimeout(cfg.Schedule.RunTimeout),
		scheduler.WithLogger(component("scheduler")),
	}
	if o.clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(o.clock))
	}
	if s.history != nil {
		schedOpts = append(schedOpts, scheduler.WithResultHandler(s.history.Handler()))
	}
	if s.events != nil {
		schedOpts = append(schedOpts, scheduler.WithResultHandler(s.events.Handler()))
	}
	s.scheduler, err = scheduler.New(s.locks, s.jobs(), schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	s.logger.Info().
		Str("backup_dir", s.engine.Root()).
		Str("lock_backend", s.locks.Backend()).
		Str("remote_provider", s.replicator.Provider()).
		Bool("remote_ready", s.replicator.Ready()).
		Bool("history", s.history != nil).
		Bool("events", s.events != nil).
		Msg("Pipeline initialized")
	return s, nil
}

// loadKey parses the configured key or generates one and surfaces it once.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func loadKey(hexKey string, notice io.Writer, log zerolog.Logger) (*backup.Key, error) {
	if hexKey != "" {
		return backup.ParseKey(hexKey)
	}

	key, encoded, err := backup.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warn().
		Str("encryption_key", encoded).
		Msg("No encryption key configured; generated one. Set BACKUP_ENCRYPTION_KEY to this value or artifacts written now cannot be decrypted after restart")
	if notice != nil {
		fmt.Fprintf(notice, "\nGenerated backup encryption key. Store it somewhere safe; it is shown only once\n"+
			"and artifacts cannot be decrypted without it:\n\n  BACKUP_ENCRYPTION_KEY=%s\n\n", encoded)
	}
	return key, nil
}

func openLockBackend(ctx context.Context, cfg *config.Config) (lock.Backend, error) {
	switch cfg.Lock.Backend {
	case "memory":
		return lock.NewMemoryBackend(), nil
	case "redis":
		b, err := lock.NewRedisBackend(ctx, cfg.Lock.RedisURL, cfg.Lock.TTL)
		if err != nil {
			return nil, fmt.Errorf("init redis lock backend: %w", err)
		}
		return b, nil
	case "postgres", "":
		b, err := lock.OpenPostgresBackend(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres lock backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

func remoteConfig(cfg *config.Config) remote.Config {
	r := cfg.Remote
	return remote.Config{
		Provider:           r.Provider,
		Prefix:             r.Prefix,
		StorageClass:       r.StorageClass,
		ExpireAfterDays:    r.ExpireAfterDays,
		UploadTimeout:      r.UploadTimeout,
		BreakerMaxFailures: r.Breaker.MaxFailures,
		BreakerTimeout:     r.Breaker.Timeout,
		S3: remote.S3Config{
			Endpoint:        r.S3.Endpoint,
			Bucket:          r.Bucket,
			Region:          r.Region,
			AccessKeyID:     r.S3.AccessKeyID,
			SecretAccessKey: r.S3.SecretAccessKey,
			UseSSL:          r.S3.UseSSL,
		},
		GCS: remote.GCSConfig{
			Bucket:          r.Bucket,
			CredentialsFile: r.GCS.CredentialsFile,
		},
	}
}

// Scheduler returns the job scheduler, for supervision in serve mode.
func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Start starts the scheduler loop.
func (s *Service) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// Stop stops new firings, waits for in-flight runs and closes every
// component. It is safe to call more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		var errs []error
		if s.events != nil {
			errs = append(errs, s.events.Close())
		}
		if s.history != nil {
			errs = append(errs, s.history.Close())
		}
		if s.replicator != nil {
			errs = append(errs, s.replicator.Close())
		}
		if s.locks != nil {
			errs = append(errs, s.locks.Close())
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

// RunBackup runs the tier's backup job now, through the same lock as the
// scheduled run. A failed run returns its error alongside the result; a run
// skipped because another instance holds the lock does not.
func (s *Service) RunBackup(ctx context.Context, tier backup.Tier) (scheduler.JobResult, error) {
	if !tier.Valid() {
		return scheduler.JobResult{}, fmt.Errorf("%w: %q", backup.ErrInvalidTier, tier)
	}
	return s.run(ctx, string(tier))
}

// RunFull runs daily, weekly and monthly in sequence. Every tier runs even
// when an earlier one fails.
func (s *Service) RunFull(ctx context.Context) ([]scheduler.JobResult, error) {
	results := make([]scheduler.JobResult, 0, len(backup.AllTiers()))
	var errs []error
	for _, tier := range backup.AllTiers() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.RunBackup(ctx, tier)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier, err))
		}
	}
	return results, errors.Join(errs...)
}

// RunIntegritySweep runs the verification job now.
func (s *Service) RunIntegritySweep(ctx context.Context) (scheduler.JobResult, error) {
	return s.run(ctx, JobIntegritySweep)
}

func (s *Service) run(ctx context.Context, job string) (scheduler.JobResult, error) {
	res, err := s.scheduler.RunNow(ctx, job)
	if err != nil {
		return res, err
	}
	if res.Failed() {
		if res.Err != nil {
			return res, res.Err
		}
		return res, errors.New(res.ErrorText)
	}
	return res, nil
}

// ListBackups returns every local artifact, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]*backup.Artifact, error) {
	return s.engine.ListBackups(ctx)
}

// VerifyBackup checks one artifact by id ("{tier}/{filename}"). A digest
// mismatch returns false with a nil error.
func (s *Service) VerifyBackup(ctx context.Context, id string) (bool, error) {
	return s.engine.VerifyByID(ctx, id)
}

// Decrypt writes the plaintext dump of artifact id to w.
func (s *Service) Decrypt(ctx context.Context, id string, w io.Writer) (*backup.Artifact, error) {
	a, err := s.engine.FindBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.engine.DecryptArtifact(ctx, a, w); err != nil {
		return a, err
	}
	return a, nil
}

// Stats summarizes the backup directory.
func (s *Service) Stats(ctx context.Context) (*backup.Stats, error) {
	return s.engine.Stats(ctx)
}

// SchedulerStatus returns the job table snapshot.
func (s *Service) SchedulerStatus() scheduler.Status {
	return s.scheduler.Status()
}

// History returns recorded runs, newest first.
func (s *Service) History(ctx context.Context, q history.Query) ([]scheduler.JobResult, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, q)
}

// LastRuns returns the newest recorded result of each job.
func (s *Service) LastRuns(ctx context.Context) (map[string]scheduler.JobResult, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Latest(ctx)
}

// RemoteStatus describes the replication target.
type RemoteStatus struct {
	Provider string `json:"provider,omitempty"`
	Ready    bool   `json:"ready"`
	Breaker  string `json:"breaker"`
}

// RemoteStatus returns the replicator state.
func (s *Service) RemoteStatus() RemoteStatus {
	return RemoteStatus{
		Provider: s.replicator.Provider(),
		Ready:    s.replicator.Ready(),
		Breaker:  s.replicator.BreakerState(),
	}
}

// SetupRemote enables versioning and applies the lifecycle policy. Both
// steps are idempotent.
func (s *Service) SetupRemote(ctx context.Context) (remote.LifecyclePolicy, error) {
	if !s.cfg.RemoteEnabled() {
		return remote.LifecyclePolicy{}, remote.ErrNotConfigured
	}
	if err := s.replicator.EnableVersioning(ctx); err != nil {
		return remote.LifecyclePolicy{}, err
	}
	if err := s.replicator.ConfigureLifecycle(ctx); err != nil {
		return remote.LifecyclePolicy{}, err
	}
	return s.replicator.LifecyclePolicy(), nil
}

// ListRemoteBackups lists the off-site copies. It is empty when replication
// is off or unreachable.
func (s *Service) ListRemoteBackups(ctx context.Context) ([]remote.RemoteObject, error) {
	return s.replicator.ListRemoteBackups(ctx)
}

// LockBackend returns the coordination backend name.
func (s *Service) LockBackend() string {
	return s.locks.Backend()
}

// RunTimeout is the per-run bound applied by the scheduler.
func (s *Service) RunTimeout() time.Duration {
	if s.cfg.Schedule.RunTimeout > 0 {
		return s.cfg.Schedule.RunTimeout
	}
	return scheduler.DefaultRunTimeout
}
