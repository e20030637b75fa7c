package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// CiudadHandler ingests city-level average prices into sipsa_ciudad.
type CiudadHandler struct {
	source    StreamSource
	store     CiudadStore
	newParser func(io.Reader) CiudadIterator
	batchSize int
	logger    *slog.Logger
}

var _ Handler = (*CiudadHandler)(nil)

// NewCiudadHandler wires the city price handler.
func NewCiudadHandler(
	source StreamSource,
	store CiudadStore,
	newParser func(io.Reader) CiudadIterator,
	batchSize int,
	logger *slog.Logger,
) *CiudadHandler {
	return &CiudadHandler{
		source:    source,
		store:     store,
		newParser: newParser,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Method implements Handler.
func (h *CiudadHandler) Method() string {
	return MethodCiudad
}

// Execute implements Handler.
func (h *CiudadHandler) Execute(ctx context.Context, rc *RunContext) error {
	body, err := h.source.Stream(ctx, MethodCiudad)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	parser := h.newParser(body)
	batch := make([]*CiudadRecord, 0, h.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		result, flushErr := h.store.Flush(ctx, rc.RunID, time.Now(), batch)
		if flushErr != nil {
			return flushErr
		}

		rc.AddInserted(result.Inserted)

		h.logger.Debug("Flushed city price batch",
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
			// Stream-level failure terminates the run; keep partial progress.
			_ = flush()

			return nextErr
		}

		rc.IncrementSeen()

		if missing := missingFields([]fieldCheck{
			{"regId", record.RegID != nil},
			{"codProducto", record.CodProducto != nil},
			{"fechaCaptura", record.FechaCaptura != nil},
		}); missing != "" {
			rc.AddReject(ciudadRawData(record), "Missing: "+missing, false)

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

func ciudadRawData(r *CiudadRecord) string {
	return fmt.Sprintf(
		"regId=%s, codProducto=%s, fechaCaptura=%s",
		rawInt(r.RegID), rawInt(r.CodProducto), rawInt(r.FechaCaptura),
	)
}
