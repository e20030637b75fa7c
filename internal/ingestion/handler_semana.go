package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// SemanaHandler ingests weekly wholesale prices into sipsa_mayoristas_semanal.
// Records carrying tmpMayoSemId dedup on it; the rest dedup on the
// (artiId, fuenId, fechaIni) fallback key. The two populations are batched
// and flushed independently against their own unique constraints.
type SemanaHandler struct {
	source    StreamSource
	store     SemanaStore
	newParser func(io.Reader) SemanaIterator
	batchSize int
	logger    *slog.Logger
}

var _ Handler = (*SemanaHandler)(nil)

// NewSemanaHandler wires the weekly wholesale handler.
func NewSemanaHandler(
	source StreamSource,
	store SemanaStore,
	newParser func(io.Reader) SemanaIterator,
	batchSize int,
	logger *slog.Logger,
) *SemanaHandler {
	return &SemanaHandler{
		source:    source,
		store:     store,
		newParser: newParser,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Method implements Handler.
func (h *SemanaHandler) Method() string {
	return MethodSemana
}

// Execute implements Handler.
func (h *SemanaHandler) Execute(ctx context.Context, rc *RunContext) error {
	body, err := h.source.Stream(ctx, MethodSemana)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	parser := h.newParser(body)
	withTmp := make([]*SemanaRecord, 0, h.batchSize)
	fallback := make([]*SemanaRecord, 0, h.batchSize)

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
			{"fechaIni", record.FechaIni != nil},
		}); missing != "" {
			rc.AddReject(semanaRawData(record), "Missing: "+missing, false)

			continue
		}

		if record.TmpMayoSemID != nil {
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

func (h *SemanaHandler) logBatch(rc *RunContext, strategy string, size int, result FlushResult) {
	h.logger.Debug("Flushed weekly wholesale batch",
		slog.Int64("run_id", rc.RunID),
		slog.String("strategy", strategy),
		slog.Int("batch_size", size),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func semanaRawData(r *SemanaRecord) string {
	return fmt.Sprintf(
		"artiId=%s, fuenId=%s, fechaIni=%s, tmpMayoSemId=%s",
		rawInt(r.ArtiID), rawInt(r.FuenID), rawInt(r.FechaIni), rawInt(r.TmpMayoSemID),
	)
}
