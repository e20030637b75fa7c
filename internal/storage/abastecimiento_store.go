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

// AbastecimientoStore persists monthly supply volumes into
// sipsa_abastecimientos_mensual. Dedup follows the dual strategy:
// tmp_abas_mes_id when present, (arti_id, fuen_id, fecha_mes) otherwise.
type AbastecimientoStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.AbasStore = (*AbastecimientoStore)(nil)

// NewAbastecimientoStore creates a PostgreSQL-backed monthly supply store.
func NewAbastecimientoStore(conn *Connection) (*AbastecimientoStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &AbastecimientoStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// FlushTmp inserts records that carry tmp_abas_mes_id.
func (s *AbastecimientoStore) FlushTmp(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.AbasRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.AbasRecord) string {
		return strconv.FormatInt(*r.TmpAbasMesID, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_abastecimientos_mensual (
			tmp_abas_mes_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id,
			fecha_mes, cantidad_ton, fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (tmp_abas_mes_id) WHERE tmp_abas_mes_id IS NOT NULL DO NOTHING`,
		abasArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("monthly supply tmp batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "tmp", result)

	return result, nil
}

// FlushFallback inserts records without a temporary id.
func (s *AbastecimientoStore) FlushFallback(
	ctx context.Context,
	runID int64,
	stamp time.Time,
	batch []*ingestion.AbasRecord,
) (ingestion.FlushResult, error) {
	if len(batch) == 0 {
		return ingestion.FlushResult{}, nil
	}

	deduped, collapsed := dedupKeepLast(batch, func(r *ingestion.AbasRecord) string {
		return strconv.FormatInt(*r.ArtiID, 10) + "|" +
			strconv.FormatInt(*r.FuenID, 10) + "|" +
			strconv.FormatInt(*r.FechaMes, 10)
	})

	result, err := execBatch(ctx, s.conn, `
		INSERT INTO sipsa_abastecimientos_mensual (
			tmp_abas_mes_id, arti_id, arti_nombre,
			fuen_id, fuen_nombre, futi_id,
			fecha_mes, cantidad_ton, fecha_creacion, enviado,
			ingestion_run_id, fecha_ingestion, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (arti_id, fuen_id, fecha_mes) WHERE tmp_abas_mes_id IS NULL DO NOTHING`,
		abasArgs(deduped, runID, stamp))
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("monthly supply fallback batch: %w", err)
	}

	result.Skipped += collapsed

	s.logBatch(runID, "fallback", result)

	return result, nil
}

func (s *AbastecimientoStore) logBatch(runID int64, strategy string, result ingestion.FlushResult) {
	s.logger.Debug("Flushed monthly supply batch",
		slog.Int64("run_id", runID),
		slog.String("strategy", strategy),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func abasArgs(batch []*ingestion.AbasRecord, runID int64, stamp time.Time) [][]any {
	argRows := make([][]any, len(batch))

	for i, record := range batch {
		argRows[i] = []any{
			record.TmpAbasMesID, record.ArtiID, record.ArtiNombre,
			record.FuenID, record.FuenNombre, record.FutiID,
			millisToTime(record.FechaMes), record.CantidadTon,
			millisToTime(record.FechaCreacion), record.Enviado,
			runID, stamp,
		}
	}

	return argRows
}
