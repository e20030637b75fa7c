package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lib/pq"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// ControlStore implements ingestion.ControlStore with a PostgreSQL backend.
//
// Every method opens its own transaction (or runs a single autocommit
// statement), so control-plane writes survive the rollback of the ingestion
// data they describe. The (method_name, window_key) unique constraint on
// ingestion_runs is the idempotency anchor: exactly one run row per slot.
type ControlStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.ControlStore = (*ControlStore)(nil)

// NewControlStore creates a PostgreSQL-backed control store.
func NewControlStore(conn *Connection) (*ControlStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ControlStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// CreateOrRestartRun claims the (method, windowKey) slot inside a transaction.
//
// The existing row, if any, is locked with FOR UPDATE so concurrent claims on
// the same slot serialize. A SUCCEEDED row without force refuses with
// ErrRunAlreadySucceeded; a STARTED or RUNNING row without force refuses with
// ErrRunInProgress; a FAILED row, or any row under force, is reset in place
// and its run id reused so the run history for the slot stays single-rowed.
func (s *ControlStore) CreateOrRestartRun(ctx context.Context, req ingestion.CreateRunRequest) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", ErrControlStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var (
		runID  int64
		status string
	)

	err = tx.QueryRowContext(ctx, `
		SELECT id, status
		FROM ingestion_runs
		WHERE method_name = $1 AND window_key = $2
		FOR UPDATE`,
		req.Method, req.WindowKey,
	).Scan(&runID, &status)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		runID, err = s.insertRun(ctx, tx, req)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, fmt.Errorf("%w: lock run row: %w", ErrControlStoreFailed, err)
	default:
		if !req.Force {
			if ingestion.RunStatus(status) == ingestion.StatusSucceeded {
				return 0, fmt.Errorf("%w: method=%s window=%s", ingestion.ErrRunAlreadySucceeded, req.Method, req.WindowKey)
			}

			if !ingestion.RunStatus(status).IsTerminal() {
				return 0, fmt.Errorf("%w: method=%s window=%s", ingestion.ErrRunInProgress, req.Method, req.WindowKey)
			}
		}

		if err := s.resetRun(ctx, tx, runID, req); err != nil {
			return 0, err
		}

		s.logger.Info("Restarting existing run",
			slog.Int64("run_id", runID),
			slog.String("method", req.Method),
			slog.String("window_key", req.WindowKey),
			slog.String("previous_status", status),
			slog.Bool("force", req.Force),
		)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit run claim: %w", ErrControlStoreFailed, err)
	}

	return runID, nil
}

func (s *ControlStore) insertRun(ctx context.Context, tx *sql.Tx, req ingestion.CreateRunRequest) (int64, error) {
	var runID int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO ingestion_runs (
			method_name, window_key, status, request_id, request_source, forced, start_time
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		req.Method, req.WindowKey, string(ingestion.StatusStarted),
		req.RequestID, string(req.Source), req.Force,
	).Scan(&runID)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent claim slipped between our FOR UPDATE probe and
			// the insert.
			return 0, fmt.Errorf("%w: method=%s window=%s", ingestion.ErrRunAlreadyExists, req.Method, req.WindowKey)
		}

		return 0, fmt.Errorf("%w: insert run: %w", ErrControlStoreFailed, err)
	}

	return runID, nil
}

func (s *ControlStore) resetRun(ctx context.Context, tx *sql.Tx, runID int64, req ingestion.CreateRunRequest) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = $2,
		    request_id = $3,
		    request_source = $4,
		    forced = $5,
		    start_time = NOW(),
		    end_time = NULL,
		    records_seen = 0,
		    records_inserted = 0,
		    records_updated = 0,
		    records_rejected = 0,
		    error_message = NULL,
		    error_http_status = NULL,
		    error_fault_code = NULL
		WHERE id = $1`,
		runID, string(ingestion.StatusStarted), req.RequestID, string(req.Source), req.Force,
	)
	if err != nil {
		return fmt.Errorf("%w: reset run: %w", ErrControlStoreFailed, err)
	}

	return nil
}

// UpdateStatus advances the run lifecycle. Terminal statuses stamp end_time.
func (s *ControlStore) UpdateStatus(ctx context.Context, runID int64, status ingestion.RunStatus) error {
	query := `UPDATE ingestion_runs SET status = $2 WHERE id = $1`
	if status.IsTerminal() {
		query = `UPDATE ingestion_runs SET status = $2, end_time = NOW() WHERE id = $1`
	}

	result, err := s.conn.ExecContext(ctx, query, runID, string(status))
	if err != nil {
		return fmt.Errorf("%w: update status: %w", ErrControlStoreFailed, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update status: %w", ErrControlStoreFailed, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: id=%d", ErrRunNotFound, runID)
	}

	return nil
}

// UpdateMetrics records the final counters for the run.
func (s *ControlStore) UpdateMetrics(ctx context.Context, runID int64, seen, inserted, updated, rejected int) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET records_seen = $2,
		    records_inserted = $3,
		    records_updated = $4,
		    records_rejected = $5
		WHERE id = $1`,
		runID, seen, inserted, updated, rejected,
	)
	if err != nil {
		return fmt.Errorf("%w: update metrics: %w", ErrControlStoreFailed, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update metrics: %w", ErrControlStoreFailed, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: id=%d", ErrRunNotFound, runID)
	}

	return nil
}

// LogError records the last error detail on a failed run.
func (s *ControlStore) LogError(ctx context.Context, runID int64, runErr ingestion.RunError) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET error_message = $2,
		    error_http_status = $3,
		    error_fault_code = $4
		WHERE id = $1`,
		runID, runErr.Message, runErr.HTTPStatus, runErr.FaultCode,
	)
	if err != nil {
		return fmt.Errorf("%w: log error: %w", ErrControlStoreFailed, err)
	}

	return nil
}

// AppendRejects bulk-inserts the buffered rejects of a terminal run using a
// single unnest statement.
func (s *ControlStore) AppendRejects(ctx context.Context, runID int64, rejects []ingestion.Reject) error {
	if len(rejects) == 0 {
		return nil
	}

	rawData := make([]string, len(rejects))
	reasons := make([]string, len(rejects))
	parseErrors := make([]bool, len(rejects))

	for i, reject := range rejects {
		rawData[i] = reject.RawData
		reasons[i] = reject.Reason
		parseErrors[i] = reject.ParseError
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO ingestion_rejects (run_id, raw_data, reject_reason, parse_error, rejected_at)
		SELECT $1, t.raw_data, t.reason, t.parse_error, NOW()
		FROM unnest($2::text[], $3::text[], $4::boolean[]) AS t(raw_data, reason, parse_error)`,
		runID, pq.Array(rawData), pq.Array(reasons), pq.BoolArray(parseErrors),
	)
	if err != nil {
		return fmt.Errorf("%w: append rejects: %w", ErrControlStoreFailed, err)
	}

	return nil
}

// IsWindowComplete reports whether a SUCCEEDED run exists for the slot.
func (s *ControlStore) IsWindowComplete(ctx context.Context, method, windowKey string) (bool, error) {
	var complete bool

	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ingestion_runs
			WHERE method_name = $1 AND window_key = $2 AND status = $3
		)`,
		method, windowKey, string(ingestion.StatusSucceeded),
	).Scan(&complete)
	if err != nil {
		return false, fmt.Errorf("%w: window probe: %w", ErrControlStoreFailed, err)
	}

	return complete, nil
}

// AppendAudit appends one immutable audit event.
func (s *ControlStore) AppendAudit(ctx context.Context, event ingestion.AuditEvent) error {
	occurredAt := event.OccurredAt

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO ingestion_audit (run_id, request_id, request_source, event_type, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.RunID, event.RequestID, string(event.Source), string(event.Type), event.Message, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("%w: append audit: %w", ErrControlStoreFailed, err)
	}

	return nil
}
