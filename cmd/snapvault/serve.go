// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/api"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/supervisor"
	"github.com/tomtom215/snapvault/internal/supervisor/services"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled backups until interrupted",
		Long: `Run the backup scheduler, and the ops HTTP endpoint when server.enabled
is set, under a supervisor tree. SIGINT or SIGTERM stops new firings and
waits up to schedule.run_timeout for in-flight backups.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{writesBackupsAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				return a.serve(ctx, svc)
			})
		},
	}
}

func (a *app) serve(ctx context.Context, svc *pipeline.Service) error {
	logging.Info().
		Str("version", backup.AppVersion).
		Str("backup_dir", a.cfg.Backup.Dir).
		Str("lock_backend", svc.LockBackend()).
		Bool("remote", a.cfg.RemoteEnabled()).
		Msg("Starting snapvault with supervisor tree")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: svc.RunTimeout(),
	})
	if err != nil {
		return err
	}

	tree.AddJobService(services.NewSchedulerService(svc.Scheduler()))

	if a.cfg.Server.Enabled {
		router := api.NewRouter(svc, api.Config{
			RateLimitRequests: a.cfg.Server.RateLimitReqs,
			RateLimitWindow:   a.cfg.Server.RateLimitWindow,
			Version:           backup.AppVersion,
		})
		server := &http.Server{
			Addr:              net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))
	}

	errCh := tree.ServeBackground(ctx)

	// errCh delivers exactly one value and is never closed.
	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, s := range unstopped {
			logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("snapvault stopped")
	return nil
}
