package ingestion

import (
	"errors"
	"testing"
	"time"
)

// testConfig returns the default window configuration used across tests:
// daily 14:20-23:59, monthly days 8 and 10 from 06:00, Bogota time.
func testConfig() *Config {
	return &Config{
		DailyWindowStart:   "14:20",
		DailyWindowEnd:     "23:59",
		MonthlyRunDays:     []int{8, 10},
		MonthlyWindowStart: "06:00",
		TimeZone:           "America/Bogota",
		BatchSize:          2000,
		MaxRejectRate:      0.01,
		MaxRejectCount:     5000,
	}
}

// pinnedPolicy builds a policy whose clock always returns the given local
// Bogota time.
func pinnedPolicy(t *testing.T, year int, month time.Month, day, hour, minute int) *WindowPolicy {
	t.Helper()

	location, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}

	pinned := time.Date(year, month, day, hour, minute, 0, 0, location)

	policy, err := NewWindowPolicy(testConfig(), WithClock(func() time.Time { return pinned }))
	if err != nil {
		t.Fatalf("failed to build window policy: %v", err)
	}

	return policy
}

func TestWindowPolicy_DailyWindow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		hour      int
		minute    int
		expectKey string
		expectErr bool
	}{
		{name: "inside window at start boundary", hour: 14, minute: 20, expectKey: "2025-03-12"},
		{name: "inside window mid afternoon", hour: 18, minute: 0, expectKey: "2025-03-12"},
		{name: "inside window at end boundary", hour: 23, minute: 59, expectKey: "2025-03-12"},
		{name: "before window", hour: 14, minute: 19, expectErr: true},
		{name: "early morning", hour: 6, minute: 0, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := pinnedPolicy(t, 2025, time.March, 12, tt.hour, tt.minute)

			key, err := policy.ValidateAndKey(MethodCiudad, false)

			if tt.expectErr {
				if !errors.Is(err, ErrWindowViolation) {
					t.Fatalf("expected ErrWindowViolation, got %v", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if key != tt.expectKey {
				t.Errorf("window key = %q, want %q", key, tt.expectKey)
			}
		})
	}
}

func TestWindowPolicy_MonthlyWindow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		day       int
		hour      int
		minute    int
		expectKey string
		expectErr bool
	}{
		{name: "run day after start", day: 8, hour: 6, minute: 0, expectKey: "2025-03-08"},
		{name: "run day late evening", day: 8, hour: 23, minute: 30, expectKey: "2025-03-08"},
		{name: "run day before start", day: 8, hour: 5, minute: 59, expectErr: true},
		{name: "grace day any hour", day: 9, hour: 2, minute: 0, expectKey: "2025-03-09"},
		{name: "second run day", day: 10, hour: 6, minute: 0, expectKey: "2025-03-10"},
		{name: "grace day of second run day", day: 11, hour: 12, minute: 0, expectKey: "2025-03-11"},
		{name: "non run day", day: 15, hour: 12, minute: 0, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := pinnedPolicy(t, 2025, time.March, tt.day, tt.hour, tt.minute)

			key, err := policy.ValidateAndKey(MethodMes, false)

			if tt.expectErr {
				if !errors.Is(err, ErrWindowViolation) {
					t.Fatalf("expected ErrWindowViolation, got %v", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if key != tt.expectKey {
				t.Errorf("window key = %q, want %q", key, tt.expectKey)
			}
		})
	}
}

// TestWindowPolicy_GraceAcrossMonthBoundary verifies that the first day of a
// month is a valid grace day when the last day of the previous month is a
// configured run day.
func TestWindowPolicy_GraceAcrossMonthBoundary(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	location, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}

	cfg := testConfig()
	cfg.MonthlyRunDays = []int{31}

	pinned := time.Date(2025, time.April, 1, 3, 0, 0, 0, location)

	policy, err := NewWindowPolicy(cfg, WithClock(func() time.Time { return pinned }))
	if err != nil {
		t.Fatalf("failed to build window policy: %v", err)
	}

	key, err := policy.ValidateAndKey(MethodAbas, false)
	if err != nil {
		t.Fatalf("expected grace day to be valid, got %v", err)
	}

	if key != "2025-04-01" {
		t.Errorf("window key = %q, want %q", key, "2025-04-01")
	}
}

// TestWindowPolicy_ForceBypassesValidation verifies that force skips the
// window check but still computes the key, so forced runs collide with
// regular runs on the same slot.
func TestWindowPolicy_ForceBypassesValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	policy := pinnedPolicy(t, 2025, time.March, 12, 3, 0)

	key, err := policy.ValidateAndKey(MethodCiudad, true)
	if err != nil {
		t.Fatalf("force should bypass the window check, got %v", err)
	}

	if key != "2025-03-12" {
		t.Errorf("window key = %q, want %q", key, "2025-03-12")
	}
}

// TestWindowPolicy_KeyUsesMarketTimezone verifies that the window key is the
// local Bogota date even when UTC has already rolled over to the next day.
func TestWindowPolicy_KeyUsesMarketTimezone(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// 02:30 UTC on March 13 is 21:30 on March 12 in Bogota (UTC-5).
	pinned := time.Date(2025, time.March, 13, 2, 30, 0, 0, time.UTC)

	policy, err := NewWindowPolicy(testConfig(), WithClock(func() time.Time { return pinned }))
	if err != nil {
		t.Fatalf("failed to build window policy: %v", err)
	}

	key, err := policy.ValidateAndKey(MethodCiudad, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if key != "2025-03-12" {
		t.Errorf("window key = %q, want %q", key, "2025-03-12")
	}
}

func TestNewWindowPolicy_Validation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "malformed daily start", mutate: func(c *Config) { c.DailyWindowStart = "25:00" }},
		{name: "malformed daily end", mutate: func(c *Config) { c.DailyWindowEnd = "14" }},
		{name: "malformed monthly start", mutate: func(c *Config) { c.MonthlyWindowStart = "six" }},
		{name: "unknown timezone", mutate: func(c *Config) { c.TimeZone = "Mars/Olympus" }},
		{name: "run day out of range", mutate: func(c *Config) { c.MonthlyRunDays = []int{0} }},
		{name: "run day above 31", mutate: func(c *Config) { c.MonthlyRunDays = []int{32} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			if _, err := NewWindowPolicy(cfg); err == nil {
				t.Error("expected constructor error, got nil")
			}
		})
	}
}

func TestIsMonthlyMethod(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	monthly := []string{MethodMes, MethodAbas}
	daily := []string{MethodCiudad, MethodParcial, MethodSemana}

	for _, method := range monthly {
		if !IsMonthlyMethod(method) {
			t.Errorf("IsMonthlyMethod(%q) = false, want true", method)
		}
	}

	for _, method := range daily {
		if IsMonthlyMethod(method) {
			t.Errorf("IsMonthlyMethod(%q) = true, want false", method)
		}
	}
}
