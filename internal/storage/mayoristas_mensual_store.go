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

// MayoristasMensualStore persists monthly wholesale prices into
// sipsa_mayoristas_mensual with the same dual dedup strategy as the weekly
// store: tmp_mayo_mes_id when present, (arti_id, fuen_id, fecha_mes_ini)
// otherwise.
type MayoristasMensualStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.MesStore = (*MayoristasMensualStore)(nil)

// NewMayoristasMensualStore creates a PostgreSQL-backed monthly wholesale store.
func NewMayoristasMensualStore(conn *Connection) (*MayoristasMensualStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MayoristasMensualStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FlushTmp inserts records that carry tmp_mayo_mes_id.
func (s *MayoristasMensualStore) FlushTmp(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.MesRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.MesRecord) string {
		return strconv.FormatInt(*r.TmpMayoMesID, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_mayoristas_mensual (
			tmp_mayo_mes_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id, fecha_mes_ini,
			minimo_kg, maximo_kg, promedio_kg,
			fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (tmp_mayo_mes_id) WHERE tmp_mayo_mes_id IS NOT NULL DO NOTHING`,
		mesArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("monthly wholesale tmp batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "tmp", result)

	return result, nil
}

// FlushFallback inserts records without a temporary id.
func (s *MayoristasMensualStore) FlushFallback(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.MesRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.MesRecord) string {
		return strconv.FormatInt(*r.ArtiID, 10) + "|" +
			strconv.FormatInt(*r.FuenID, 10) + "|" +
			strconv.FormatInt(*r.FechaMesIni, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_mayoristas_mensual (
			tmp_mayo_mes_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id, fecha_mes_ini,
			minimo_kg, maximo_kg, promedio_kg,
			fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (arti_id, fuen_id, fecha_mes_ini) WHERE tmp_mayo_mes_id IS NULL DO NOTHING`,
		mesArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("monthly wholesale fallback batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "fallback", result)

	return result, nil
}

func (s *MayoristasMensualStore) logBatch(runID int64, strategy string, result ingestion.FlushResult) {
	s.logger.Debug("Flushed monthly wholesale batch",
		slog.Int64("run_id", runID),
		slog.String("strategy", strategy),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func mesArgs(batch []*ingestion.MesRecord, runID int64, stamp time.Time) [][]any {
	argRows := make([][]any, len(batch))

	for i, record := range batch {
		argRows[i] = []any{
			record.TmpMayoMesID, record.ArtiID, record.ArtiNombre,
			record.FuenID, record.FuenNombre, record.FutiID, millisToTime(record.FechaMesIni),
			record.MinimoKg, record.MaximoKg, record.PromedioKg,
			millisToTime(record.FechaCreacion), record.Enviado,
			runID, stamp,
		}
	}

	return argRows
}
