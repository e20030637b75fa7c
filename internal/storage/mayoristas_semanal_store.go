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

// MayoristasSemanalStore persists weekly wholesale prices into
// sipsa_mayoristas_semanal with the dual dedup strategy: rows carrying the
// upstream temporary id dedup on it, rows without one fall back to the
// (arti_id, fuen_id, fecha_ini) business key. The two populations live under
// separate partial unique indexes so neither can mask the other.
type MayoristasSemanalStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.SemanaStore = (*MayoristasSemanalStore)(nil)

// NewMayoristasSemanalStore creates a PostgreSQL-backed weekly wholesale store.
func NewMayoristasSemanalStore(conn *Connection) (*MayoristasSemanalStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MayoristasSemanalStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FlushTmp inserts records that carry tmp_mayo_sem_id.
func (s *MayoristasSemanalStore) FlushTmp(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.SemanaRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.SemanaRecord) string {
		return strconv.FormatInt(*r.TmpMayoSemID, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_mayoristas_semanal (
			tmp_mayo_sem_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id, fecha_ini,
			minimo_kg, maximo_kg, promedio_kg,
			fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (tmp_mayo_sem_id) WHERE tmp_mayo_sem_id IS NOT NULL DO NOTHING`,
		semanaArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("weekly wholesale tmp batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "tmp", result)

	return result, nil
}

// FlushFallback inserts records without a temporary id.
func (s *MayoristasSemanalStore) FlushFallback(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.SemanaRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.SemanaRecord) string {
		return strconv.FormatInt(*r.ArtiID, 10) + "|" +
			strconv.FormatInt(*r.FuenID, 10) + "|" +
			strconv.FormatInt(*r.FechaIni, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_mayoristas_semanal (
			tmp_mayo_sem_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id, fecha_ini,
			minimo_kg, maximo_kg, promedio_kg,
			fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (arti_id, fuen_id, fecha_ini) WHERE tmp_mayo_sem_id IS NULL DO NOTHING`,
		semanaArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("weekly wholesale fallback batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "fallback", result)

	return result, nil
}

func (s *MayoristasSemanalStore) logBatch(runID int64, strategy string, result ingestion.FlushResult) {
	s.logger.Debug("Flushed weekly wholesale batch",
		slog.Int64("run_id", runID),
		slog.String("strategy", strategy),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func semanaArgs(batch []*ingestion.SemanaRecord, runID int64, stamp time.Time) [][]any {
	argRows := make([][]any, len(batch))

	for i, record := range batch {
		argRows[i] = []any{
			record.TmpMayoSemID, record.ArtiID, record.ArtiNombre,
			record.FuenID, record.FuenNombre, record.FutiID, millisToTime(record.FechaIni),
			record.MinimoKg, record.MaximoKg, record.PromedioKg,
			millisToTime(record.FechaCreacion), record.Enviado,
			runID, stamp,
		}
	}

	return argRows
}
