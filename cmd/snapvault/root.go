// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/pipeline"
)

const (
	// skipConfigAnnotation marks commands that run without a loaded config.
	skipConfigAnnotation = "snapvault/skip-config"

	// writesBackupsAnnotation marks commands that encrypt new artifacts.
	// Only these generate a key when none is configured.
	writesBackupsAnnotation = "snapvault/writes-backups"
)

// app carries the global flags and the loaded config between cobra hooks.
type app struct {
	configPath string
	logLevel   string
	jsonOutput bool

	cfg *config.Config

	// extra pipeline options; tests inject clocks and fakes here.
	serviceOpts []pipeline.Option
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "snapvault",
		Short: "Encrypted, tiered PostgreSQL backups",
		Long: `snapvault takes encrypted pg_dump backups in daily, weekly and monthly
tiers, keeps a fixed number per tier, verifies them against their SHA-256
digests and can replicate them to versioned S3 or GCS buckets.`,
		Version:           backup.AppVersion,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file (default: CONFIG_PATH or standard locations)")
	flags.StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newTierCmd(a, backup.TierDaily),
		newTierCmd(a, backup.TierWeekly),
		newTierCmd(a, backup.TierMonthly),
		newFullCmd(a),
		newListCmd(a),
		newVerifyCmd(a),
		newDecryptCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newRemoteCmd(a),
		newServeCmd(a),
		newKeygenCmd(a),
	)
	return root
}

// loadConfig runs before every command.
func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logging.Init(cfg.LoggingOptions())
	a.cfg = cfg

	logging.Debug().
		Str("backup_dir", cfg.Backup.Dir).
		Str("lock_backend", cfg.Lock.Backend).
		Str("remote_provider", cfg.Remote.Provider).
		Str("database", logging.RedactURL(cfg.Database.URL)).
		Msg("Configuration loaded")
	return nil
}

// withService builds the pipeline, runs fn and stops the pipeline. A stop
// error is returned only when fn succeeded.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *pipeline.Service) error) (err error) {
	ctx := cmd.Context()
	opts := []pipeline.Option{pipeline.WithKeyNotice(cmd.ErrOrStderr())}
	if cmd.Annotations[writesBackupsAnnotation] != "true" {
		opts = append(opts, pipeline.WithReadOnly())
	}
	opts = append(opts, a.serviceOpts...)

	svc, err := pipeline.New(ctx, a.cfg, opts...)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer func() {
		if stopErr := svc.Stop(); stopErr != nil {
			logging.Warn().Err(stopErr).Msg("Pipeline shutdown reported errors")
			if err == nil {
				err = stopErr
			}
		}
	}()

	return fn(ctx, svc)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
