// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// uploadBreaker guards the object store. After maxFailures consecutive upload
// failures it rejects uploads for timeout, then lets one probe through.
//
// The breaker runs on wall time. Tests trip it with real failures and assert
// on rejection rather than waiting out the timeout.
type uploadBreaker struct {
	cb   *gobreaker.CircuitBreaker[*CloudCopy]
	name string
}

func newUploadBreaker(name string, maxFailures uint32, timeout time.Duration) *uploadBreaker {
	if maxFailures == 0 {
		maxFailures = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*CloudCopy](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,       // one probe in half-open state
		Interval:    0,       // counts are only cleared by state changes
		Timeout:     timeout, // wait before moving from open to half-open

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= maxFailures
			if shouldTrip {
				logging.Warn().
					Str("breaker", name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// Cancellation is the caller giving up, not the remote failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &uploadBreaker{cb: cb, name: name}
}

// execute runs fn under the breaker. A rejected call returns
// ErrRemoteUnavailable without invoking fn.
func (b *uploadBreaker) execute(fn func() (*CloudCopy, error)) (*CloudCopy, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit %s is %s", ErrRemoteUnavailable, b.name, stateToString(b.cb.State()))
	}
	return out, err
}

// state returns the breaker state as a string.
func (b *uploadBreaker) state() string {
	return stateToString(b.cb.State())
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
