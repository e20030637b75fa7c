// Package soap provides the streaming SOAP 1.2 client for the upstream
// SIPSA web service.
package soap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
)

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultReadTimeout      = 120 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 2 * time.Second
	defaultMaxChildElements = 256
	defaultNamespace        = "http://ws.sipsa.dane.gov.co/"
)

var (
	// ErrEndpointEmpty indicates the SOAP endpoint is not configured.
	ErrEndpointEmpty = errors.New("soap endpoint cannot be empty")

	// ErrInvalidMaxRetries indicates a negative retry count.
	ErrInvalidMaxRetries = errors.New("soap max retries must not be negative")
)

// Config holds the upstream SOAP transport settings.
type Config struct {
	Endpoint         string
	Namespace        string
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxChildElements int
}

// LoadConfig loads SOAP settings from environment variables with defaults.
func LoadConfig() *Config {
	return &Config{
		Endpoint:         config.GetEnvStr("SIPSA_SOAP_ENDPOINT", ""),
		Namespace:        config.GetEnvStr("SIPSA_SOAP_NAMESPACE", defaultNamespace),
		ConnectTimeout:   config.GetEnvDuration("SIPSA_SOAP_CONNECT_TIMEOUT", defaultConnectTimeout),
		ReadTimeout:      config.GetEnvDuration("SIPSA_SOAP_READ_TIMEOUT", defaultReadTimeout),
		MaxRetries:       config.GetEnvInt("SIPSA_SOAP_MAX_RETRIES", defaultMaxRetries),
		RetryBackoff:     config.GetEnvDuration("SIPSA_SOAP_RETRY_BACKOFF", defaultRetryBackoff),
		MaxChildElements: config.GetEnvInt("SIPSA_SOAP_MAX_CHILD_ELEMENTS", defaultMaxChildElements),
	}
}

// Validate checks the transport configuration; failures prevent startup.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointEmpty
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRetries, c.MaxRetries)
	}

	return nil
}
