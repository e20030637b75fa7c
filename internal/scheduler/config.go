// Package scheduler drives the cron-based ingestion triggers.
package scheduler

import (
	"github.com/dalejandrov/sipsa-ingest/internal/config"
)

// Schedules fire at the opening edge of each execution window: the daily
// window opens at 14:20 and the monthly windows on days 8 and 10 at 06:00,
// all in the market timezone.
const (
	defaultDailySchedule             = "20 14 * * *"
	defaultMonthlyMayoristasSchedule = "0 6 8 * *"
	defaultMonthlyAbastosSchedule    = "0 6 10 * *"
)

// Config holds the cron schedule configuration.
type Config struct {
	Enabled                   bool
	DailySchedule             string
	MonthlyMayoristasSchedule string
	MonthlyAbastosSchedule    string
}

// LoadConfig loads scheduler settings from environment variables with defaults.
func LoadConfig() *Config {
	return &Config{
		Enabled:                   config.GetEnvBool("SIPSA_SCHEDULER_ENABLED", true),
		DailySchedule:             config.GetEnvStr("SIPSA_CRON_DAILY", defaultDailySchedule),
		MonthlyMayoristasSchedule: config.GetEnvStr("SIPSA_CRON_MONTHLY_MAYORISTAS", defaultMonthlyMayoristasSchedule),
		MonthlyAbastosSchedule:    config.GetEnvStr("SIPSA_CRON_MONTHLY_ABASTECIMIENTOS", defaultMonthlyAbastosSchedule),
	}
}
