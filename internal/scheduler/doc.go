// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package scheduler fires named jobs on cron schedules with cluster-wide
mutual exclusion.

Every instance of the service runs the same job table. When a firing is due,
each instance tries the lock named after the job; the one that gets it runs
the job and the others record a skipped result. Results of every kind flow
through a single JobResult value that feeds status, history and events.

Usage:

	sched, err := scheduler.New(lockManager, []scheduler.Job{
	    {Name: "daily", Schedule: "0 2 * * *", Run: backupDaily},
	}, scheduler.WithResultHandler(history.Record))
	if err != nil {
	    return err
	}
	if err := sched.Start(ctx); err != nil {
	    return err
	}
	defer sched.Stop()

Tests drive the loop with FakeClock instead of waiting on wall time.
*/
package scheduler
