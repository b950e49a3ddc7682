// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions only; no seconds field
// and no @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var cronFields = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// Schedule is a parsed five-field cron expression:
//
//	minute hour day-of-month month day-of-week
//
// Fields accept *, n, n-m, lists, */s and n-m/s. Day-of-week is 0-6 with
// 0 as Sunday. When both day fields are restricted a time matches if
// either does.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// ParseCron parses expr.
func ParseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	normalized := strings.Join(fields, " ")
	spec, err := cronParser.Parse(normalized)
	if err != nil {
		if field := badField(fields); field != "" {
			return nil, fmt.Errorf("cron expression %q: %s field: %w", expr, field, err)
		}
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return &Schedule{expr: normalized, spec: spec}, nil
}

// badField names the first field that fails to parse on its own, with the
// other four set to *.
func badField(fields []string) string {
	for i, name := range cronFields {
		alone := []string{"*", "*", "*", "*", "*"}
		alone[i] = fields[i]
		if _, err := cronParser.Parse(strings.Join(alone, " ")); err != nil {
			return name
		}
	}
	return ""
}

// MustParseCron is ParseCron for expressions known at compile time.
func MustParseCron(expr string) *Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the normalized expression.
func (s *Schedule) String() string { return s.expr }

// Next returns the first minute strictly after t, in t's location, that the
// schedule matches. It returns the zero time if none exists within five
// years, which only happens for impossible dates such as 30 February.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}
