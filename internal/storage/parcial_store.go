package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// ParcialStore persists partial market surveys into sipsa_parcial. The feed
// carries no natural single-column key, so rows dedup on the derived SHA-256
// key_hash computed by the record.
type ParcialStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.ParcialStore = (*ParcialStore)(nil)

// NewParcialStore creates a PostgreSQL-backed partial market store.
func NewParcialStore(conn *Connection) (*ParcialStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ParcialStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Flush inserts one batch in a single transaction, skipping rows whose
// key_hash already exists.
func (s *ParcialStore) Flush(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.ParcialRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.ParcialRecord) string {
		return r.KeyHash()
	})

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: begin transaction: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sipsa_parcial (
			muni_id, muni_nombre, dept_nombre,
			fuen_id, fuen_nombre, futi_id,
			id_arti_semana, arti_nombre, grup_nombre,
			enma_fecha, promedio_kg, maximo_kg, minimo_kg,
			key_hash, ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (key_hash) DO NOTHING`)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: prepare insert: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	result := ingestion.FlushResult{Skipped: collapsed}

	for _, record := range deduped {
		res, err := stmt.ExecContext(ctx,
			record.MuniID, record.MuniNombre, record.DeptNombre,
			record.FuenID, record.FuenNombre, record.FutiID,
			record.IDArtiSemana, record.ArtiNombre, record.GrupNombre,
			millisToTime(record.EnmaFecha), record.PromedioKg, record.MaximoKg, record.MinimoKg,
			record.KeyHash(), runID, stamp,
		)
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert partial market row: %w", ErrCuratedStoreFailed, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert partial market row: %w", ErrCuratedStoreFailed, err)
		}

		if rows == 0 {
			result.Skipped++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: commit batch: %w", ErrCuratedStoreFailed, err)
	}

	s.logger.Debug("Flushed partial market batch",
		slog.Int64("run_id", runID),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}
