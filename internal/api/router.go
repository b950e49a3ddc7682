// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/history"
	"github.com/tomtom215/snapvault/internal/pipeline"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

// Backend is the read side of the pipeline the endpoint exposes.
// *pipeline.Service satisfies it.
type Backend interface {
	SchedulerStatus() scheduler.Status
	RemoteStatus() pipeline.RemoteStatus
	LockBackend() string
	Stats(ctx context.Context) (*backup.Stats, error)
	ListBackups(ctx context.Context) ([]*backup.Artifact, error)
	History(ctx context.Context, q history.Query) ([]scheduler.JobResult, error)
	LastRuns(ctx context.Context) (map[string]scheduler.JobResult, error)
}

// Config configures the router middleware.
type Config struct {
	// RateLimitRequests per RateLimitWindow per client IP on /api/v1.
	// Zero disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Version is reported by /healthz.
	Version string
}

// Router serves the ops endpoint.
type Router struct {
	backend   Backend
	config    Config
	startTime time.Time
}

// NewRouter creates a router over backend.
func NewRouter(backend Backend, cfg Config) *Router {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{
		backend:   backend,
		config:    cfg,
		startTime: time.Now(),
	}
}

// Handler builds the chi route tree.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(Metrics())

	r.Get("/healthz", router.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(router.config.RateLimitRequests, router.config.RateLimitWindow))
		r.Use(APISecurityHeaders())

		r.Get("/status", router.Status)
		r.Get("/backups", router.Backups)
		r.Get("/history", router.History)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
