// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package supervisor runs the long-lived parts of "snapvault serve" under a
suture v4 tree.

	RootSupervisor ("snapvault")
	├── JobsSupervisor ("jobs-layer")
	│   └── SchedulerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if server.enabled)

A service that returns an error is restarted with backoff. Context
cancellation (SIGINT/SIGTERM) stops every service; the scheduler lets
in-flight runs finish before its Serve returns.

Supervisor events are logged through sutureslog using the zerolog-backed
slog handler from internal/logging:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Schedule.RunTimeout,
	})
	tree.AddJobService(services.NewSchedulerService(svc.Scheduler()))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
