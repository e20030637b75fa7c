package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// CiudadStore persists city-level average prices into sipsa_ciudad.
// Duplicate rows are skipped on the (reg_id, cod_producto) unique constraint;
// existing rows are never overwritten.
type CiudadStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.CiudadStore = (*CiudadStore)(nil)

// NewCiudadStore creates a PostgreSQL-backed city price store.
func NewCiudadStore(conn *Connection) (*CiudadStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CiudadStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Flush inserts one batch in a single transaction. The handler guarantees
// reg_id, cod_producto and fecha_captura are present on every record.
func (s *CiudadStore) Flush(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.CiudadRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.CiudadRecord) string {
		return strconv.FormatInt(*r.RegID, 10) + "|" + strconv.FormatInt(*r.CodProducto, 10)
	})

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: begin transaction: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sipsa_ciudad (
			reg_id, ciudad, cod_producto, producto,
			fecha_captura, fecha_creacion, precio_promedio, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (reg_id, cod_producto) DO NOTHING`)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: prepare insert: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	result := ingestion.FlushResult{Skipped: collapsed}

	for _, record := range deduped {
		res, err := stmt.ExecContext(ctx,
			record.RegID, record.Ciudad, record.CodProducto, record.Producto,
			millisToTime(record.FechaCaptura), millisToTime(record.FechaCreacion),
			record.PrecioPromedio, record.Enviado,
			runID, stamp,
		)
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert city price: %w", ErrCuratedStoreFailed, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert city price: %w", ErrCuratedStoreFailed, err)
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

	s.logger.Debug("Flushed city price batch",
		slog.Int64("run_id", runID),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}
