// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/api"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/history"
	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schedules, remote storage and backup statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				report := api.NewStatusReport(ctx, svc)
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				recent, err := svc.History(ctx, history.Query{Limit: 5})
				if err != nil && !errors.Is(err, pipeline.ErrHistoryDisabled) {
					return fmt.Errorf("read history: %w", err)
				}
				return printStatus(cmd.OutOrStdout(), report, recent)
			})
		},
	}
}

func printStatus(w io.Writer, report api.StatusReport, recent []scheduler.JobResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Lock backend:\t%s\n", report.LockBackend)
	if report.Remote.Provider == "" {
		fmt.Fprintf(tw, "Remote:\tdisabled\n")
	} else {
		fmt.Fprintf(tw, "Remote:\t%s (ready=%t, breaker=%s)\n",
			report.Remote.Provider, report.Remote.Ready, report.Remote.Breaker)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "JOB\tSCHEDULE\tNEXT RUN\tLAST RUN\tLAST STATUS")
	for _, job := range report.Scheduler.Jobs {
		lastRun, lastStatus := "-", "-"
		if res, ok := report.LastRuns[job.Name]; ok {
			lastRun, lastStatus = formatTime(res.StartedAt), string(res.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.Name, job.Schedule, formatTime(job.NextRun), lastRun, lastStatus)
	}
	fmt.Fprintln(tw)

	if report.Stats != nil {
		fmt.Fprintln(tw, "TIER\tCOUNT\tQUOTA\tSIZE\tNEWEST")
		for _, tier := range backup.AllTiers() {
			ts := report.Stats.Tiers[tier]
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
				tier, ts.Count, ts.Quota, humanize.IBytes(uint64(max(ts.TotalBytes, 0))), formatTime(ts.Newest))
		}
		fmt.Fprintf(tw, "total\t%d\t\t%s\t\n",
			report.Stats.TotalCount, humanize.IBytes(uint64(max(report.Stats.TotalBytes, 0))))
	} else {
		fmt.Fprintf(tw, "Stats unavailable:\t%s\n", report.StatsError)
	}
	if report.HistoryError != "" {
		fmt.Fprintf(tw, "History unavailable:\t%s\n", report.HistoryError)
	}

	if len(recent) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "RECENT RUNS")
		writeHistoryRows(tw, recent)
	}
	return tw.Flush()
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		job    string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded job runs, newest first",
		Long: `Show the job results recorded by scheduled and manual runs. History lives
in the badger directory configured by history.path; while a serve process
holds that directory, other processes run without history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := history.Query{Job: job, Limit: limit}
			if status != "" {
				rs := scheduler.RunStatus(status)
				switch rs {
				case scheduler.StatusSuccess, scheduler.StatusFailed, scheduler.StatusSkipped:
				default:
					return fmt.Errorf("invalid --status %q: want success, failed or skipped", status)
				}
				q.Status = rs
			}

			return a.withService(cmd, func(ctx context.Context, svc *pipeline.Service) error {
				results, err := svc.History(ctx, q)
				if err != nil {
					return fmt.Errorf("read history: %w", err)
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), results)
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				writeHistoryRows(tw, results)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "Only show one job (daily, weekly, monthly, integrity-sweep)")
	cmd.Flags().StringVar(&status, "status", "", "Only show one outcome (success, failed, skipped)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")
	return cmd
}

func writeHistoryRows(tw *tabwriter.Writer, results []scheduler.JobResult) {
	fmt.Fprintln(tw, "STARTED\tJOB\tTRIGGER\tSTATUS\tDURATION\tOUTCOME")
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTime(res.StartedAt),
			res.Job,
			res.Trigger,
			res.Status,
			res.Duration.Round(time.Millisecond),
			outcome(res),
		)
	}
}

// outcome is the most useful single line of a result.
func outcome(res scheduler.JobResult) string {
	switch {
	case res.ErrorText != "":
		return res.ErrorText
	case res.Reason != "":
		return res.Reason
	case len(res.Warnings) > 0:
		return fmt.Sprintf("%s (%d warnings)", res.Artifact, len(res.Warnings))
	case res.Artifact != "":
		return res.Artifact
	default:
		return res.Detail
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
