// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package events publishes every scheduler.JobResult to NATS on
// "{prefix}.{job}" so alerting can react to failed or skipped runs without
// polling the ops API.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/scheduler"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "snapvault.jobs"

// Header names set on every message.
const (
	HeaderRunID  = "Snapvault-Run-Id"
	HeaderStatus = "Snapvault-Status"
	// HeaderMsgID lets a JetStream stream on the subject deduplicate retries.
	HeaderMsgID = "Nats-Msg-Id"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Config configures the publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	// FlushTimeout bounds the wait for the server to acknowledge a publish.
	FlushTimeout time.Duration
}

// Publisher sends JobResults to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	flush  time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects to NATS. The connection retries in the background,
// so a server that is briefly down does not block startup.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("snapvault"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrlRedacted()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Publisher{nc: nc, prefix: prefix, flush: cfg.FlushTimeout}, nil
}

// Subject returns the subject a job's results are published on.
func (p *Publisher) Subject(job string) string {
	return p.prefix + "." + subjectToken(job)
}

// subjectToken makes a job name safe as a single subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		default:
			return r
		}
	}, s)
}

// Publish sends result and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, result scheduler.JobResult) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(&result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := p.Subject(result.Job)
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderRunID, result.RunID)
	msg.Header.Set(HeaderMsgID, result.RunID)
	msg.Header.Set(HeaderStatus, string(result.Status))

	err = p.nc.PublishMsg(msg)
	if err == nil {
		flushCtx, cancel := context.WithTimeout(ctx, p.flush)
		err = p.nc.FlushWithContext(flushCtx)
		cancel()
	}
	metrics.RecordEventPublish(subject, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Handler adapts Publish to scheduler.ResultHandler. Failures are logged.
func (p *Publisher) Handler() scheduler.ResultHandler {
	return func(ctx context.Context, result scheduler.JobResult) {
		if err := p.Publish(ctx, result); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to publish job event")
		}
	}
}

// Connected reports whether the connection is currently up.
func (p *Publisher) Connected() bool {
	return p.nc.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.nc.Drain()
}
