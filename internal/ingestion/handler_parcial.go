package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ParcialHandler ingests partial market surveys into sipsa_parcial.
// Dedup is by the SHA-256 key hash derived on the record.
type ParcialHandler struct {
	source    StreamSource
	store     ParcialStore
	newParser func(io.Reader) ParcialIterator
	batchSize int
	logger    *slog.Logger
}

var _ Handler = (*ParcialHandler)(nil)

// NewParcialHandler wires the partial market handler.
func NewParcialHandler(
	source StreamSource,
	store ParcialStore,
	newParser func(io.Reader) ParcialIterator,
	batchSize int,
	logger *slog.Logger,
) *ParcialHandler {
	return &ParcialHandler{
		source:    source,
		store:     store,
		newParser: newParser,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Method implements Handler.
func (h *ParcialHandler) Method() string {
	return MethodParcial
}

// Execute implements Handler.
func (h *ParcialHandler) Execute(ctx context.Context, rc *RunContext) error {
	body, err := h.source.Stream(ctx, MethodParcial)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	parser := h.newParser(body)
	batch := make([]*ParcialRecord, 0, h.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		result, flushErr := h.store.Flush(ctx, rc.RunID, time.Now(), batch)
		if flushErr != nil {
			return flushErr
		}

		rc.AddInserted(result.Inserted)

		h.logger.Debug("Flushed partial market batch",
			slog.Int64("run_id", rc.RunID),
			slog.Int("batch_size", len(batch)),
			slog.Int("inserted", result.Inserted),
			slog.Int("skipped", result.Skipped),
		)

		batch = batch[:0]

		return nil
	}

	for {
		record, nextErr := parser.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			_ = flush()

			return nextErr
		}

		rc.IncrementSeen()

		if missing := missingFields([]fieldCheck{
			{"muniId", record.MuniID != nil},
			{"fuenId", record.FuenID != nil},
			{"futiId", record.FutiID != nil},
			{"idArtiSemana", record.IDArtiSemana != nil},
			{"enmaFecha", record.EnmaFecha != nil},
		}); missing != "" {
			rc.AddReject(parcialRawData(record), "Missing: "+missing, false)

			continue
		}

		batch = append(batch, record)

		if len(batch) >= h.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

func parcialRawData(r *ParcialRecord) string {
	return fmt.Sprintf(
		"muniId=%s, fuenId=%s, futiId=%s, idArtiSemana=%s, enmaFecha=%s",
		rawString(r.MuniID), rawInt(r.FuenID), rawInt(r.FutiID),
		rawInt(r.IDArtiSemana), r.EnmaFechaText,
	)
}
