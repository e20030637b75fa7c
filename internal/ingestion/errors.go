package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion control plane.
var (
	// ErrUnknownMethod is returned when no handler is registered for a method name.
	ErrUnknownMethod = errors.New("unknown ingestion method")

	// ErrWindowViolation is returned when the current time falls outside the
	// method's execution window and force is not set.
	ErrWindowViolation = errors.New("outside ingestion window")

	// ErrRunAlreadySucceeded is returned when a run for (method, window)
	// already completed successfully and force is not set.
	ErrRunAlreadySucceeded = errors.New("run already succeeded for window")

	// ErrRunInProgress is returned when a non-terminal run exists for
	// (method, window) and force is not set.
	ErrRunInProgress = errors.New("run already in progress for window")

	// ErrRunAlreadyExists is returned when a concurrent caller won the race
	// to insert the run row for (method, window).
	ErrRunAlreadyExists = errors.New("run already exists for window")

	// ErrSoapFault is returned when the upstream answered 2xx but the body
	// carried a SOAP fault element.
	ErrSoapFault = errors.New("soap fault")

	// ErrParse is returned when the response stream is malformed or closes
	// mid-document. It terminates the run.
	ErrParse = errors.New("parse failure")

	// ErrExternalUnavailable is returned when the upstream stayed unreachable
	// after retry exhaustion.
	ErrExternalUnavailable = errors.New("external service unavailable")

	// ErrThresholdExceeded is returned when the reject count or rate breaches
	// the configured quality limits.
	ErrThresholdExceeded = errors.New("reject threshold exceeded")
)

// IsDuplicateRun reports whether err represents any of the duplicate-run
// outcomes that turn into INGESTION_SKIPPED_DUPLICATE.
func IsDuplicateRun(err error) bool {
	return errors.Is(err, ErrRunAlreadySucceeded) ||
		errors.Is(err, ErrRunInProgress) ||
		errors.Is(err, ErrRunAlreadyExists)
}

// ExternalError decorates a transport or protocol failure with the detail the
// control store records on the failed run.
type ExternalError struct {
	Kind       error // ErrSoapFault or ErrExternalUnavailable
	HTTPStatus int
	FaultCode  string
	Message    string
}

// Error implements the error interface.
func (e *ExternalError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

// Unwrap exposes the sentinel kind for errors.Is checks.
func (e *ExternalError) Unwrap() error {
	return e.Kind
}
