package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// AbasHandler ingests monthly supply volumes into
// sipsa_abastecimientos_mensual, deduping on tmpAbasMesId with the
// (artiId, fuenId, fechaMes) fallback.
type AbasHandler struct {
	source    StreamSource
	store     AbasStore
	newParser func(io.Reader) AbasIterator
	batchSize int
	logger    *slog.Logger
}

var _ Handler = (*AbasHandler)(nil)

// NewAbasHandler wires the monthly supply handler.
func NewAbasHandler(
	source StreamSource,
	store AbasStore,
	newParser func(io.Reader) AbasIterator,
	batchSize int,
	logger *slog.Logger,
) *AbasHandler {
	return &AbasHandler{
		source:    source,
		store:     store,
		newParser: newParser,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Method implements Handler.
func (h *AbasHandler) Method() string {
	return MethodAbas
}

// Execute implements Handler.
func (h *AbasHandler) Execute(ctx context.Context, rc *RunContext) error {
	body, err := h.source.Stream(ctx, MethodAbas)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	parser := h.newParser(body)
	withTmp := make([]*AbasRecord, 0, h.batchSize)
	fallback := make([]*AbasRecord, 0, h.batchSize)

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
			{"fechaMes", record.FechaMes != nil},
		}); missing != "" {
			rc.AddReject(abasRawData(record), "Missing: "+missing, false)

			continue
		}

		if record.TmpAbasMesID != nil {
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

func (h *AbasHandler) logBatch(rc *RunContext, strategy string, size int, result FlushResult) {
	h.logger.Debug("Flushed monthly supply batch",
		slog.Int64("run_id", rc.RunID),
		slog.String("strategy", strategy),
		slog.Int("batch_size", size),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
	)
}

func abasRawData(r *AbasRecord) string {
	return fmt.Sprintf(
		"artiId=%s, fuenId=%s, fechaMes=%s, tmpAbasMesId=%s",
		rawInt(r.ArtiID), rawInt(r.FuenID), rawInt(r.FechaMes), rawInt(r.TmpAbasMesID),
	)
}
