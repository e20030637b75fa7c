// Package storage provides the PostgreSQL persistence layer for ingestion
// control state, audit events and curated price data.
package storage

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

var (
	// ErrControlStoreFailed is returned when a run, audit or reject write fails.
	ErrControlStoreFailed = errors.New("control store operation failed")

	// ErrCuratedStoreFailed is returned when a curated table flush fails.
	ErrCuratedStoreFailed = errors.New("curated store operation failed")

	// ErrReadStoreFailed is returned when a curated or audit read query fails.
	ErrReadStoreFailed = errors.New("read store operation failed")

	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("ingestion run not found")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, which signals a lost insert race on the idempotency slot.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
