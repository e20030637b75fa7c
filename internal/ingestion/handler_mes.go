package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// MesHandler ingests monthly wholesale prices into sipsa_mayoristas_mensual,
// with the same dual dedup strategy as the weekly handler but keyed on
// tmpMayoMesId / (artiId, fuenId, fechaMesIni).
type MesHandler struct {
	source    StreamSource
	store     MesStore
	newParser func(io.Reader) MesIterator
	batchSize int
	logger    *slog.Logger
}

var _ Handler = (*MesHandler)(nil)

// NewMesHandler wires the monthly wholesale handler.
func NewMesHandler(
	source StreamSource,
	store MesStore,
	newParser func(io.Reader) MesIterator,
	batchSize int,
	logger *slog.Logger,
) *MesHandler {
	return &MesHandler{
		source:    source,
		store:     store,
		newParser: newParser,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Method implements Handler.
func (h *MesHandler) Method() string {
	return MethodMes
}

// Execute implements Handler.
func (h *MesHandler) Execute(ctx context.Context, rc *RunContext) error {
	body, err := h.source.Stream(ctx, MethodMes)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	parser := h.newParser(body)
	withTmp := make([]*MesRecord, 0, h.batchSize)
	fallback := make([]*MesRecord, 0, h.batchSize)

	flushTmp := func() error {
		if len(withTmp) == 0 {
			return nil
		}

		result, flushErr := h.store.FlushTmp(ctx, rc.RunID, time.Now(), withTmp)
		if flushErr != nil {
			return flushErr
		}

		rc.AddInserted(result.Inserted)
		h.logBatch(rc, "tmp", len(withTmp), result)
		withTmp = withTmp[:0]

		return nil
	}

	flushFallback := func() error {
		if len(fallback) == 0 {
			return nil
		}

		result, flushErr := h.store.FlushFallback(ctx, rc.RunID, time.Now(), fallback)
		if flushErr != nil {
			return flushErr
		}

		rc.AddInserted(result.Inserted)
		h.logBatch(rc, "fallback", len(fallback), result)
		fallback = fallback[:0]

		return nil
	}

	flushAll := func() error {
		if err := flushTmp(); err != nil {
			return err
		}

		return flushFallback()
	}

	for {
		record, nextErr := parser.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			_ = flushAll()

			return nextErr
		}

		rc.IncrementSeen()

		if missing := missingFields([]fieldCheck{
			{"artiId", record.ArtiID != nil},
			{"fuenId", record.FuenID != nil},
			{"fechaMesIni", record.FechaMesIni != nil},
		}); missing != "" {
			rc.AddReject(mesRawData(record), "Missing: "+missing, false)

			continue
		}

		if record.TmpMayoMesID != nil {
			withTmp = append(withTmp, record)

			if len(withTmp) >= h.batchSize {
				if err := flushTmp(); err != nil {
					return err
				}
			}

			continue
		}

		fallback = append(fallback, record)

		if len(fallback) >= h.batchSize {
			if err := flushFallback(); err != nil {
				return err
			}
		}
	}

	return flushAll()
}

func (h *MesHandler) logBatch(rc *RunContext, strategy string, size int, result FlushResult) {
	h.logger.Debug("Flushed monthly wholesale batch",
		slog.Int64("run_id", rc.RunID),
		slog.String("strategy", strategy),
		slog.Int("batch_size", size),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func mesRawData(r *MesRecord) string {
	return fmt.Sprintf(
		"artiId=%s, fuenId=%s, fechaMesIni=%s, tmpMayoMesId=%s",
		rawInt(r.ArtiID), rawInt(r.FuenID), rawInt(r.FechaMesIni), rawInt(r.TmpMayoMesID),
	)
}
