package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Point the overlay at a non-existent file so a developer's local
	// .sipsa.yaml cannot leak into the test.
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := LoadConfig()

	if cfg.DailyWindowStart != "14:20" {
		t.Errorf("DailyWindowStart = %q, want %q", cfg.DailyWindowStart, "14:20")
	}

	if cfg.DailyWindowEnd != "23:59" {
		t.Errorf("DailyWindowEnd = %q, want %q", cfg.DailyWindowEnd, "23:59")
	}

	if len(cfg.MonthlyRunDays) != 2 || cfg.MonthlyRunDays[0] != 8 || cfg.MonthlyRunDays[1] != 10 {
		t.Errorf("MonthlyRunDays = %v, want [8 10]", cfg.MonthlyRunDays)
	}

	if cfg.TimeZone != "America/Bogota" {
		t.Errorf("TimeZone = %q, want %q", cfg.TimeZone, "America/Bogota")
	}

	if cfg.BatchSize != 2000 {
		t.Errorf("BatchSize = %d, want 2000", cfg.BatchSize)
	}

	if cfg.MaxRejectRate != 0.01 {
		t.Errorf("MaxRejectRate = %v, want 0.01", cfg.MaxRejectRate)
	}

	if cfg.MaxRejectCount != 5000 {
		t.Errorf("MaxRejectCount = %d, want 5000", cfg.MaxRejectCount)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("SIPSA_DAILY_WINDOW_START", "15:00")
	t.Setenv("SIPSA_MONTHLY_RUN_DAYS", "5,20")
	t.Setenv("SIPSA_BATCH_SIZE", "500")
	t.Setenv("SIPSA_MAX_REJECT_RATE", "0.05")

	cfg := LoadConfig()

	if cfg.DailyWindowStart != "15:00" {
		t.Errorf("DailyWindowStart = %q, want %q", cfg.DailyWindowStart, "15:00")
	}

	if len(cfg.MonthlyRunDays) != 2 || cfg.MonthlyRunDays[0] != 5 || cfg.MonthlyRunDays[1] != 20 {
		t.Errorf("MonthlyRunDays = %v, want [5 20]", cfg.MonthlyRunDays)
	}

	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}

	if cfg.MaxRejectRate != 0.05 {
		t.Errorf("MaxRejectRate = %v, want 0.05", cfg.MaxRejectRate)
	}
}

func TestLoadConfig_YAMLOverlay(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	overlay := filepath.Join(t.TempDir(), "sipsa.yaml")
	content := []byte(`daily_window_start: "16:30"
monthly_run_days: [3]
batch_size: 1000
max_reject_count: 100
`)

	if err := os.WriteFile(overlay, content, 0o600); err != nil {
		t.Fatalf("failed to write overlay: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, overlay)
	t.Setenv("SIPSA_DAILY_WINDOW_END", "22:00")

	cfg := LoadConfig()

	// Overlay values win over env/defaults.
	if cfg.DailyWindowStart != "16:30" {
		t.Errorf("DailyWindowStart = %q, want %q", cfg.DailyWindowStart, "16:30")
	}

	if len(cfg.MonthlyRunDays) != 1 || cfg.MonthlyRunDays[0] != 3 {
		t.Errorf("MonthlyRunDays = %v, want [3]", cfg.MonthlyRunDays)
	}

	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}

	if cfg.MaxRejectCount != 100 {
		t.Errorf("MaxRejectCount = %d, want 100", cfg.MaxRejectCount)
	}

	// Fields absent from the overlay keep the env value.
	if cfg.DailyWindowEnd != "22:00" {
		t.Errorf("DailyWindowEnd = %q, want %q", cfg.DailyWindowEnd, "22:00")
	}
}

func TestLoadConfig_InvalidOverlayKeepsEnvValues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	overlay := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(overlay, []byte("daily_window_start: [not: valid"), 0o600); err != nil {
		t.Fatalf("failed to write overlay: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, overlay)
	t.Setenv("SIPSA_BATCH_SIZE", "750")

	cfg := LoadConfig()

	if cfg.BatchSize != 750 {
		t.Errorf("BatchSize = %d, want 750 (env value preserved)", cfg.BatchSize)
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr error
	}{
		{name: "valid config", mutate: func(*Config) {}, expectErr: nil},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }, expectErr: ErrInvalidBatchSize},
		{name: "negative batch size", mutate: func(c *Config) { c.BatchSize = -1 }, expectErr: ErrInvalidBatchSize},
		{name: "reject rate above one", mutate: func(c *Config) { c.MaxRejectRate = 1.5 }, expectErr: ErrInvalidRejectRate},
		{name: "negative reject rate", mutate: func(c *Config) { c.MaxRejectRate = -0.1 }, expectErr: ErrInvalidRejectRate},
		{name: "negative reject count", mutate: func(c *Config) { c.MaxRejectCount = -1 }, expectErr: ErrInvalidRejectCount},
		{name: "empty run days", mutate: func(c *Config) { c.MonthlyRunDays = nil }, expectErr: ErrNoMonthlyRunDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.expectErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, tt.expectErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.expectErr)
			}
		})
	}
}
