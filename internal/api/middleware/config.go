// Package middleware provides HTTP middleware components for the SIPSA ingestion API.
package middleware

import (
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: applied to all requests
//   - Per-client: applied to authenticated requests
//   - Unauthenticated: applied to requests without a client identity
//
// Burst capacity allows temporary bursts above the sustained rate.
// If burst fields are 0, they are computed automatically as 2 x rate.
type Config struct {
	GlobalRPS int
	ClientRPS int
	UnAuthRPS int

	// Optional burst capacity overrides (0 = compute as 2 x rate)
	GlobalBurst int
	ClientBurst int
	UnAuthBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads middleware config from environment variables with fallback
// to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("SIPSA_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("SIPSA_CLIENT_RPS", defaultClientRPS),
		UnAuthRPS: config.GetEnvInt("SIPSA_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("SIPSA_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("SIPSA_CLIENT_BURST", 0),
		UnAuthBurst: config.GetEnvInt("SIPSA_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"SIPSA_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("SIPSA_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("SIPSA_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
