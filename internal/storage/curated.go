package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// millisToTime materializes an epoch-millisecond timestamp, preserving NULL.
func millisToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}

	t := time.UnixMilli(*v).UTC()

	return &t
}

// dedupKeepLast collapses in-batch duplicates by key, keeping the LAST
// occurrence's values at the FIRST occurrence's position. The upstream feed
// occasionally repeats a row with corrected values later in the same
// response; the correction wins. Returns the deduplicated batch and the
// number of collapsed rows.
func dedupKeepLast[T any](batch []*T, key func(*T) string) ([]*T, int) {
	deduped := make([]*T, 0, len(batch))
	index := make(map[string]int, len(batch))

	for _, record := range batch {
		k := key(record)
		if pos, seen := index[k]; seen {
			deduped[pos] = record

			continue
		}

		index[k] = len(deduped)
		deduped = append(deduped, record)
	}

	return deduped, len(batch) - len(deduped)
}

// execBatch runs one prepared skip-on-conflict insert per row inside a single
// transaction and counts insertions against conflict skips.
func execBatch(ctx context.Context, conn *Connection, query string, argRows [][]any) (ingestion.FlushResult, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: begin transaction: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return ingestion.FlushResult{}, fmt.Errorf("%w: prepare insert: %w", ErrCuratedStoreFailed, err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	var result ingestion.FlushResult

	for _, args := range argRows {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert row: %w", ErrCuratedStoreFailed, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return ingestion.FlushResult{}, fmt.Errorf("%w: insert row: %w", ErrCuratedStoreFailed, err)
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

	return result, nil
}
