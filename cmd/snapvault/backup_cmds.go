// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

func newTierCmd(a *app, tier backup.Tier) *cobra.Command {
	return &cobra.Command{
		Use:   string(tier),
		Short: fmt.Sprintf("Run a %s backup now", tier),
		Long: fmt.Sprintf(`Dump, encrypt and store a %[1]s backup, apply %[1]s retention and
replicate the artifact when remote storage is configured. The run takes the
%[1]s lock like a scheduled firing; if another process holds it the run is
skipped and the command exits 0.`, tier),
		Args:        cobra.NoArgs,
		Annotations: map[string]string{writesBackupsAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				res, err := svc.RunBackup(ctx, tier)
				if printErr := a.printResults(cmd.OutOrStdout(), res); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
}

func newFullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "Run daily, weekly and monthly backups in sequence",
		Long: `Run the daily, weekly and monthly tiers one after another. A failed tier
does not stop the following ones; the command exits 1 if any tier failed.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{writesBackupsAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				results, err := svc.RunFull(ctx)
				if printErr := a.printResults(cmd.OutOrStdout(), results...); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter backup.Tier
			if tier != "" {
				t, err := backup.ParseTier(tier)
				if err != nil {
					return err
				}
				filter = t
			}
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				artifacts, err := svc.ListBackups(ctx)
				if err != nil {
					return fmt.Errorf("list backups: %w", err)
				}
				if filter != "" {
					kept := artifacts[:0]
					for _, art := range artifacts {
						if art.Tier == filter {
							kept = append(kept, art)
						}
					}
					artifacts = kept
				}
				return a.printArtifacts(cmd.OutOrStdout(), artifacts)
			})
		},
	}
	cmd.Flags().StringVarP(&tier, "tier", "t", "", "Only list one tier (daily, weekly, monthly)")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify one backup against its recorded digest",
		Long: `Recompute the SHA-256 digest of an encrypted artifact and compare it
with its .hash sidecar. The id is "{tier}/{filename}" as shown by list.
Exits 1 on a mismatch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				ok, err := svc.VerifyBackup(ctx, id)
				if err != nil {
					return fmt.Errorf("verify %s: %w", id, err)
				}
				if a.jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "valid": ok}); err != nil {
						return err
					}
				} else if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "OK        %s\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "MISMATCH  %s\n", id)
				}
				if !ok {
					return fmt.Errorf("%w: %s", backup.ErrIntegrityMismatch, id)
				}
				return nil
			})
		},
	}
}

func newDecryptCmd(a *app) *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "decrypt <id>",
		Short: "Write the plaintext dump of a backup to a file",
		Long: `Decrypt an artifact with the configured key and write the pg_dump output
to --out ("-" for stdout). The file is created with mode 0600 and is removed
again if decryption fails. Restoring it is left to pg_restore or psql.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				if out == "-" {
					_, err := svc.Decrypt(ctx, id, cmd.OutOrStdout())
					return err
				}
				return decryptToFile(ctx, svc, id, out, force, cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `Output file, or "-" for stdout`)
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing output file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func decryptToFile(ctx context.Context, svc *pipeline.Service, id, path string, force bool, notice io.Writer) (err error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	//nolint:gosec // G304: path is an operator-supplied output file
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	artifact, err := svc.Decrypt(ctx, id, f)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", id, err)
	}
	fmt.Fprintf(notice, "Decrypted %s (%s dump %s) to %s\n",
		artifact.ID(), artifact.Tier, artifact.SourceDumpName, path)
	return nil
}

// printResults renders job results as text or JSON.
func (a *app) printResults(w io.Writer, results ...scheduler.JobResult) error {
	if a.jsonOutput {
		if len(results) == 1 {
			return printJSON(w, results[0])
		}
		return printJSON(w, results)
	}
	for _, res := range results {
		fmt.Fprintf(w, "%s %s in %s\n", res.Job, res.Status, res.Duration.Round(time.Millisecond))
		printField(w, "run", res.RunID)
		printField(w, "artifact", res.Artifact)
		printField(w, "remote", res.RemoteKey)
		printField(w, "detail", res.Detail)
		printField(w, "reason", res.Reason)
		for _, warning := range res.Warnings {
			printField(w, "warning", warning)
		}
		printField(w, "error", res.ErrorText)
	}
	return nil
}

func printField(w io.Writer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %-9s %s\n", name+":", value)
}

func (a *app) printArtifacts(w io.Writer, artifacts []*backup.Artifact) error {
	if a.jsonOutput {
		type item struct {
			ID string `json:"id"`
			*backup.Artifact
		}
		items := make([]item, 0, len(artifacts))
		for _, art := range artifacts {
			items = append(items, item{ID: art.ID(), Artifact: art})
		}
		return printJSON(w, items)
	}

	if len(artifacts) == 0 {
		fmt.Fprintln(w, "No backups found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSIZE\tDIGEST")
	for _, art := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			art.ID(),
			art.CreatedAt.UTC().Format(time.RFC3339),
			humanize.IBytes(uint64(max(art.SizeBytes, 0))),
			shortDigest(art.Digest),
		)
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
