package ingestion

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
)

const (
	defaultDailyWindowStart   = "14:20"
	defaultDailyWindowEnd     = "23:59"
	defaultMonthlyWindowStart = "06:00"
	defaultTimeZone           = "America/Bogota"
	defaultBatchSize          = 2000
	defaultMaxRejectRate      = 0.01
	defaultMaxRejectCount     = 5000
)

// DefaultConfigPath is the default location of the optional YAML overlay.
const DefaultConfigPath = ".sipsa.yaml"

// ConfigPathEnvVar is the environment variable naming a custom overlay path.
const ConfigPathEnvVar = "SIPSA_CONFIG_PATH"

var (
	// ErrInvalidBatchSize indicates the batch size is zero or negative.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrInvalidRejectRate indicates the max reject rate is outside [0,1].
	ErrInvalidRejectRate = errors.New("max reject rate must be within [0,1]")

	// ErrInvalidRejectCount indicates the max reject count is negative.
	ErrInvalidRejectCount = errors.New("max reject count must not be negative")

	// ErrNoMonthlyRunDays indicates the monthly run day set is empty.
	ErrNoMonthlyRunDays = errors.New("monthly run days cannot be empty")
)

type (
	// Config holds window, batching and quality-threshold settings.
	Config struct {
		DailyWindowStart   string
		DailyWindowEnd     string
		MonthlyRunDays     []int
		MonthlyWindowStart string
		TimeZone           string
		BatchSize          int
		MaxRejectRate      float64
		MaxRejectCount     int
	}

	// fileConfig mirrors the optional YAML overlay. Absent fields keep the
	// env/default value.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	fileConfig struct {
		DailyWindowStart   string  `yaml:"daily_window_start"`
		DailyWindowEnd     string  `yaml:"daily_window_end"`
		MonthlyRunDays     []int   `yaml:"monthly_run_days"`
		MonthlyWindowStart string  `yaml:"monthly_window_start"`
		TimeZone           string  `yaml:"time_zone"`
		BatchSize          int     `yaml:"batch_size"`
		MaxRejectRate      float64 `yaml:"max_reject_rate"`
		MaxRejectCount     int     `yaml:"max_reject_count"`
	}
)

// LoadConfig loads ingestion settings from environment variables, then
// overlays the optional YAML file named by SIPSA_CONFIG_PATH (default
// .sipsa.yaml). A missing or unparseable overlay degrades gracefully to the
// env values; window settings are operator-tunable but optional.
func LoadConfig() *Config {
	cfg := &Config{
		DailyWindowStart:   config.GetEnvStr("SIPSA_DAILY_WINDOW_START", defaultDailyWindowStart),
		DailyWindowEnd:     config.GetEnvStr("SIPSA_DAILY_WINDOW_END", defaultDailyWindowEnd),
		MonthlyRunDays:     parseDayList(config.GetEnvStr("SIPSA_MONTHLY_RUN_DAYS", "8,10")),
		MonthlyWindowStart: config.GetEnvStr("SIPSA_MONTHLY_WINDOW_START", defaultMonthlyWindowStart),
		TimeZone:           config.GetEnvStr("SIPSA_TIMEZONE", defaultTimeZone),
		BatchSize:          config.GetEnvInt("SIPSA_BATCH_SIZE", defaultBatchSize),
		MaxRejectRate:      getEnvFloat("SIPSA_MAX_REJECT_RATE", defaultMaxRejectRate),
		MaxRejectCount:     config.GetEnvInt("SIPSA_MAX_REJECT_COUNT", defaultMaxRejectCount),
	}

	cfg.applyOverlay(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))

	return cfg
}

// applyOverlay merges the YAML overlay at path into the config. Missing files
// are fine; unreadable or invalid files log a warning and change nothing.
func (c *Config) applyOverlay(path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read ingestion config overlay, continuing with env settings",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}

		return
	}

	if len(data) == 0 {
		return
	}

	var overlay fileConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		slog.Warn("Failed to parse ingestion config overlay, continuing with env settings",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return
	}

	if overlay.DailyWindowStart != "" {
		c.DailyWindowStart = overlay.DailyWindowStart
	}

	if overlay.DailyWindowEnd != "" {
		c.DailyWindowEnd = overlay.DailyWindowEnd
	}

	if len(overlay.MonthlyRunDays) > 0 {
		c.MonthlyRunDays = overlay.MonthlyRunDays
	}

	if overlay.MonthlyWindowStart != "" {
		c.MonthlyWindowStart = overlay.MonthlyWindowStart
	}

	if overlay.TimeZone != "" {
		c.TimeZone = overlay.TimeZone
	}

	if overlay.BatchSize > 0 {
		c.BatchSize = overlay.BatchSize
	}

	if overlay.MaxRejectRate > 0 {
		c.MaxRejectRate = overlay.MaxRejectRate
	}

	if overlay.MaxRejectCount > 0 {
		c.MaxRejectCount = overlay.MaxRejectCount
	}
}

// Validate checks static configuration; failures prevent startup.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.BatchSize)
	}

	if c.MaxRejectRate < 0 || c.MaxRejectRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidRejectRate, c.MaxRejectRate)
	}

	if c.MaxRejectCount < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRejectCount, c.MaxRejectCount)
	}

	if len(c.MonthlyRunDays) == 0 {
		return ErrNoMonthlyRunDays
	}

	return nil
}

func parseDayList(input string) []int {
	parts := config.ParseCommaSeparatedList(input)
	days := make([]int, 0, len(parts))

	for _, part := range parts {
		if day, err := strconv.Atoi(part); err == nil {
			days = append(days, day)
		}
	}

	return days
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}

	return defaultValue
}
