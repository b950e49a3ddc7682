// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package services

import (
	"context"
	"fmt"
)

// JobScheduler matches the scheduler lifecycle. *scheduler.Scheduler
// satisfies it.
type JobScheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// SchedulerService adapts the scheduler's Start/Stop pattern to suture:
//  1. Start(ctx) spawns the ticking loop
//  2. Serve blocks until the context is canceled
//  3. Stop() blocks until in-flight runs finish
type SchedulerService struct {
	scheduler JobScheduler
	name      string
}

// NewSchedulerService wraps s.
//
// Example usage:
//
//	svc := services.NewSchedulerService(pipeline.Scheduler())
//	tree.AddJobService(svc)
func NewSchedulerService(s JobScheduler) *SchedulerService {
	return &SchedulerService{
		scheduler: s,
		name:      "backup-scheduler",
	}
}

// Serve implements suture.Service. A failed Start is returned so suture
// restarts the service with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logs.
func (s *SchedulerService) String() string {
	return s.name
}
