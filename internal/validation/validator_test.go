// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type scheduleSettings struct {
	Daily string `koanf:"daily" validate:"required,cron"`
}

type testSettings struct {
	Key       string           `koanf:"encryption_key" validate:"required,hexkey"`
	Tier      string           `json:"tier" validate:"omitempty,tier"`
	Limit     int              `json:"limit" validate:"min=1,max=1000"`
	Backend   string           `koanf:"backend" validate:"oneof=postgres redis memory"`
	Schedules scheduleSettings `koanf:"schedule"`
}

func validSettings() testSettings {
	return testSettings{
		Key:       strings.Repeat("ab", 32),
		Tier:      "weekly",
		Limit:     50,
		Backend:   "postgres",
		Schedules: scheduleSettings{Daily: "0 2 * * *"},
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	t.Parallel()

	s := validSettings()
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("ValidateStruct() = %v", err)
	}

	s.Tier = ""
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("empty optional tier: %v", err)
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(s *testSettings)
		wantField string
		wantTag   string
		wantMsg   string
	}{
		{
			name:      "short key",
			mutate:    func(s *testSettings) { s.Key = "abcd" },
			wantField: "encryption_key",
			wantTag:   "hexkey",
			wantMsg:   "32-byte key",
		},
		{
			name:      "non hex key",
			mutate:    func(s *testSettings) { s.Key = strings.Repeat("zz", 32) },
			wantField: "encryption_key",
			wantTag:   "hexkey",
		},
		{
			name:      "missing key",
			mutate:    func(s *testSettings) { s.Key = "" },
			wantField: "encryption_key",
			wantTag:   "required",
			wantMsg:   "is required",
		},
		{
			name:      "unknown tier",
			mutate:    func(s *testSettings) { s.Tier = "hourly" },
			wantField: "tier",
			wantTag:   "tier",
		},
		{
			name:      "limit too high",
			mutate:    func(s *testSettings) { s.Limit = 5000 },
			wantField: "limit",
			wantTag:   "max",
			wantMsg:   "at most 1000",
		},
		{
			name:      "unknown backend",
			mutate:    func(s *testSettings) { s.Backend = "etcd" },
			wantField: "backend",
			wantTag:   "oneof",
			wantMsg:   "one of: postgres redis memory",
		},
		{
			name:      "bad nested cron",
			mutate:    func(s *testSettings) { s.Schedules.Daily = "0 2 * *" },
			wantField: "schedule.daily",
			wantTag:   "cron",
			wantMsg:   "cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(&s)

			verr := ValidateStruct(&s)
			if verr == nil {
				t.Fatal("expected validation error")
			}
			errs := verr.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), verr)
			}
			if errs[0].Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
			if tt.wantMsg != "" && !strings.Contains(verr.Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want it to contain %q", verr.Error(), tt.wantMsg)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Limit = 0
	single := ValidateStruct(&s).ToAPIError()
	if single.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", single.Code)
	}
	if single.Details["field"] != "limit" {
		t.Errorf("Details[field] = %v, want limit", single.Details["field"])
	}

	s.Tier = "yearly"
	multi := ValidateStruct(&s).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Fatalf("Details[fields] = %#v, want 2 entries", multi.Details["fields"])
	}
	if !strings.Contains(multi.Message, ";") {
		t.Errorf("Message = %q, want joined messages", multi.Message)
	}
}
