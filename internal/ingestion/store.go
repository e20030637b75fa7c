package ingestion

import (
	"context"
	"io"
	"time"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

// Run lifecycle states. STARTED and RUNNING are transient; SUCCEEDED and
// FAILED are terminal.
const (
	StatusStarted   RunStatus = "STARTED"
	StatusRunning   RunStatus = "RUNNING"
	StatusSucceeded RunStatus = "SUCCEEDED"
	StatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status ends the run lifecycle.
func (s RunStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type (
	// CreateRunRequest carries everything createOrRestartRun needs to claim
	// the (method, windowKey) idempotency slot.
	CreateRunRequest struct {
		Method    string
		WindowKey string
		RequestID string
		Source    RequestSource
		Force     bool
	}

	// Reject is one input record excluded by validation or parsing.
	Reject struct {
		RawData    string
		Reason     string
		ParseError bool
	}

	// RunError carries the error detail persisted on a failed run.
	RunError struct {
		Message    string
		HTTPStatus *int
		FaultCode  *string
	}

	// FlushResult reports the outcome of one batch flush.
	FlushResult struct {
		Inserted int
		Skipped  int
	}

	// ControlStore persists runs, audit events and rejects. Every operation
	// opens its own top-level transaction so control writes survive the
	// failure of the ingestion's logical unit.
	ControlStore interface {
		// CreateOrRestartRun claims the (method, windowKey) slot and returns
		// the run id. An existing SUCCEEDED run without force fails with
		// ErrRunAlreadySucceeded; an existing non-FAILED run without force
		// fails with ErrRunInProgress; a concurrent insert race fails with
		// ErrRunAlreadyExists. With force, the existing row is reset and its
		// run id reused.
		CreateOrRestartRun(ctx context.Context, req CreateRunRequest) (int64, error)

		// UpdateStatus advances the run; terminal statuses stamp endTime.
		UpdateStatus(ctx context.Context, runID int64, status RunStatus) error

		// UpdateMetrics records the final counters for the run.
		UpdateMetrics(ctx context.Context, runID int64, seen, inserted, updated, rejected int) error

		// LogError records the last error detail on the run.
		LogError(ctx context.Context, runID int64, runErr RunError) error

		// AppendRejects bulk-inserts the buffered rejects of a terminal run.
		AppendRejects(ctx context.Context, runID int64, rejects []Reject) error

		// IsWindowComplete reports whether a SUCCEEDED run exists for the slot.
		IsWindowComplete(ctx context.Context, method, windowKey string) (bool, error)

		// AppendAudit appends one immutable audit event.
		AppendAudit(ctx context.Context, event AuditEvent) error
	}

	// StreamSource yields one lazy response body per method. The body must be
	// consumed incrementally and closed by the caller.
	StreamSource interface {
		Stream(ctx context.Context, method string) (io.ReadCloser, error)
	}

	// CiudadStore flushes city price batches with (regId, codProducto) dedup.
	CiudadStore interface {
		Flush(ctx context.Context, runID int64, stamp time.Time, batch []*CiudadRecord) (FlushResult, error)
	}

	// ParcialStore flushes partial market batches with hash-key dedup.
	ParcialStore interface {
		Flush(ctx context.Context, runID int64, stamp time.Time, batch []*ParcialRecord) (FlushResult, error)
	}

	// SemanaStore flushes weekly wholesale batches. Records carrying a
	// temporary id dedup on it; the rest dedup on (artiId, fuenId, fechaIni).
	SemanaStore interface {
		FlushTmp(ctx context.Context, runID int64, stamp time.Time, batch []*SemanaRecord) (FlushResult, error)
		FlushFallback(ctx context.Context, runID int64, stamp time.Time, batch []*SemanaRecord) (FlushResult, error)
	}

	// MesStore flushes monthly wholesale batches with the same dual strategy.
	MesStore interface {
		FlushTmp(ctx context.Context, runID int64, stamp time.Time, batch []*MesRecord) (FlushResult, error)
		FlushFallback(ctx context.Context, runID int64, stamp time.Time, batch []*MesRecord) (FlushResult, error)
	}

	// AbasStore flushes monthly supply batches with the same dual strategy.
	AbasStore interface {
		FlushTmp(ctx context.Context, runID int64, stamp time.Time, batch []*AbasRecord) (FlushResult, error)
		FlushFallback(ctx context.Context, runID int64, stamp time.Time, batch []*AbasRecord) (FlushResult, error)
	}

	// CiudadIterator pulls city price records one at a time. Next returns
	// io.EOF after the last record.
	CiudadIterator interface {
		Next() (*CiudadRecord, error)
	}

	// ParcialIterator pulls partial market records one at a time.
	ParcialIterator interface {
		Next() (*ParcialRecord, error)
	}

	// SemanaIterator pulls weekly wholesale records one at a time.
	SemanaIterator interface {
		Next() (*SemanaRecord, error)
	}

	// MesIterator pulls monthly wholesale records one at a time.
	MesIterator interface {
		Next() (*MesRecord, error)
	}

	// AbasIterator pulls monthly supply records one at a time.
	AbasIterator interface {
		Next() (*AbasRecord, error)
	}
)
