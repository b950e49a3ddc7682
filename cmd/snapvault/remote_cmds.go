// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/remote"
)

func newRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage off-site replication storage",
	}
	cmd.AddCommand(newRemoteSetupCmd(a), newRemoteListCmd(a))
	return cmd
}

func newRemoteSetupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Enable bucket versioning and install the lifecycle policy",
		Long: `Turn on object versioning for the configured bucket and install the
storage-class transition and expiry rules. Run once per bucket with
credentials that may change bucket configuration; routine uploads do not
need them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				policy, err := svc.SetupRemote(ctx)
				if err != nil {
					return fmt.Errorf("remote setup: %w", err)
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), policy)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Versioning enabled on %s bucket %s\n", a.cfg.Remote.Provider, a.cfg.Remote.Bucket)
				printPolicy(w, policy)
				return nil
			})
		},
	}
}

func printPolicy(w io.Writer, p remote.LifecyclePolicy) {
	if p.ColdAfterDays > 0 {
		fmt.Fprintf(w, "  transition to %s after %d days\n", p.ColdClass, p.ColdAfterDays)
	}
	if p.ArchiveAfterDays > 0 {
		fmt.Fprintf(w, "  transition to %s after %d days\n", p.ArchiveClass, p.ArchiveAfterDays)
	}
	if p.ExpireAfterDays > 0 {
		fmt.Fprintf(w, "  expire current and noncurrent versions after %d days\n", p.ExpireAfterDays)
	}
}

func newRemoteListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List replicated backups in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				if !a.cfg.RemoteEnabled() {
					return remote.ErrNotConfigured
				}
				objects, err := svc.ListRemoteBackups(ctx)
				if err != nil {
					return fmt.Errorf("list remote backups: %w", err)
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), objects)
				}
				if len(objects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No remote backups found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED\tCLASS\tVERSION")
				for _, obj := range objects {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						obj.Key,
						humanize.IBytes(uint64(max(obj.SizeBytes, 0))),
						formatTime(obj.LastModified),
						obj.StorageClass,
						obj.VersionID,
					)
				}
				return tw.Flush()
			})
		},
	}
}
