package ingestion

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeSource hands out a static body, or fails before streaming starts.
type fakeSource struct {
	err error
}

func (s *fakeSource) Stream(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}

	return io.NopCloser(strings.NewReader("")), nil
}

// sliceCiudadIterator replays a scripted record sequence; a non-nil tail
// error is returned after the records instead of io.EOF.
type sliceCiudadIterator struct {
	records []*CiudadRecord
	tailErr error
	pos     int
}

func (it *sliceCiudadIterator) Next() (*CiudadRecord, error) {
	if it.pos < len(it.records) {
		record := it.records[it.pos]
		it.pos++

		return record, nil
	}

	if it.tailErr != nil {
		return nil, it.tailErr
	}

	return nil, io.EOF
}

// recordingCiudadStore captures each flushed batch size.
type recordingCiudadStore struct {
	batches  []int
	flushErr error
}

func (s *recordingCiudadStore) Flush(_ context.Context, _ int64, _ time.Time, batch []*CiudadRecord) (FlushResult, error) {
	if s.flushErr != nil {
		return FlushResult{}, s.flushErr
	}

	s.batches = append(s.batches, len(batch))

	return FlushResult{Inserted: len(batch)}, nil
}

func validCiudad(regID int64) *CiudadRecord {
	capture := int64(1741800000000)

	return &CiudadRecord{
		RegID:        &regID,
		CodProducto:  int64Ptr(5),
		FechaCaptura: &capture,
	}
}

func TestCiudadHandler_BatchingAtLimit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	records := make([]*CiudadRecord, 5)
	for i := range records {
		records[i] = validCiudad(int64(i + 1))
	}

	store := &recordingCiudadStore{}
	handler := NewCiudadHandler(
		&fakeSource{},
		store,
		func(io.Reader) CiudadIterator { return &sliceCiudadIterator{records: records} },
		2,
		discardLogger(),
	)

	rc := NewRunContext(MethodCiudad, "req-1", SourceScheduled, false)

	if err := handler.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 5 records at batch size 2: two full batches plus the final partial one.
	want := []int{2, 2, 1}
	if len(store.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", store.batches, want)
	}

	for i, size := range want {
		if store.batches[i] != size {
			t.Errorf("batch %d size = %d, want %d", i, store.batches[i], size)
		}
	}

	if rc.Seen() != 5 || rc.Inserted() != 5 || rc.Rejected() != 0 {
		t.Errorf("counters = seen %d inserted %d rejected %d, want 5/5/0",
			rc.Seen(), rc.Inserted(), rc.Rejected())
	}
}

func TestCiudadHandler_RejectsMissingFields(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	missingReg := validCiudad(1)
	missingReg.RegID = nil

	missingBoth := validCiudad(2)
	missingBoth.CodProducto = nil
	missingBoth.FechaCaptura = nil

	records := []*CiudadRecord{missingReg, validCiudad(3), missingBoth}

	store := &recordingCiudadStore{}
	handler := NewCiudadHandler(
		&fakeSource{},
		store,
		func(io.Reader) CiudadIterator { return &sliceCiudadIterator{records: records} },
		10,
		discardLogger(),
	)

	rc := NewRunContext(MethodCiudad, "req-1", SourceScheduled, false)

	if err := handler.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.Seen() != 3 || rc.Inserted() != 1 || rc.Rejected() != 2 {
		t.Errorf("counters = seen %d inserted %d rejected %d, want 3/1/2",
			rc.Seen(), rc.Inserted(), rc.Rejected())
	}

	rejects := rc.Rejects()
	if len(rejects) != 2 {
		t.Fatalf("rejects = %d, want 2", len(rejects))
	}

	if rejects[0].Reason != "Missing: regId" {
		t.Errorf("first reject reason = %q, want %q", rejects[0].Reason, "Missing: regId")
	}

	if rejects[1].Reason != "Missing: codProducto fechaCaptura" {
		t.Errorf("second reject reason = %q, want %q",
			rejects[1].Reason, "Missing: codProducto fechaCaptura")
	}

	if !strings.Contains(rejects[1].RawData, "regId=2") {
		t.Errorf("raw data %q should carry the present fields", rejects[1].RawData)
	}
}

func TestCiudadHandler_StreamFailureKeepsPartialProgress(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	records := []*CiudadRecord{validCiudad(1), validCiudad(2), validCiudad(3)}
	parseErr := &ExternalError{Kind: ErrSoapFault, FaultCode: "soap:Server", Message: "boom"}

	store := &recordingCiudadStore{}
	handler := NewCiudadHandler(
		&fakeSource{},
		store,
		func(io.Reader) CiudadIterator {
			return &sliceCiudadIterator{records: records, tailErr: parseErr}
		},
		10,
		discardLogger(),
	)

	rc := NewRunContext(MethodCiudad, "req-1", SourceScheduled, false)

	err := handler.Execute(context.Background(), rc)
	if !errors.Is(err, ErrSoapFault) {
		t.Fatalf("expected ErrSoapFault, got %v", err)
	}

	// The buffered batch is flushed before the failure surfaces.
	if len(store.batches) != 1 || store.batches[0] != 3 {
		t.Errorf("batches = %v, want [3]", store.batches)
	}

	if rc.Inserted() != 3 {
		t.Errorf("inserted = %d, want 3", rc.Inserted())
	}
}

func TestCiudadHandler_SourceFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sourceErr := &ExternalError{Kind: ErrExternalUnavailable, Message: "connect timeout"}

	handler := NewCiudadHandler(
		&fakeSource{err: sourceErr},
		&recordingCiudadStore{},
		func(io.Reader) CiudadIterator { return &sliceCiudadIterator{} },
		10,
		discardLogger(),
	)

	rc := NewRunContext(MethodCiudad, "req-1", SourceScheduled, false)

	err := handler.Execute(context.Background(), rc)
	if !errors.Is(err, ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
}

// Dual-strategy coverage for the weekly wholesale handler. The monthly
// wholesale and supply handlers share the same split logic.

type sliceSemanaIterator struct {
	records []*SemanaRecord
	pos     int
}

func (it *sliceSemanaIterator) Next() (*SemanaRecord, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}

	record := it.records[it.pos]
	it.pos++

	return record, nil
}

type recordingSemanaStore struct {
	tmpBatches      []int
	fallbackBatches []int
}

func (s *recordingSemanaStore) FlushTmp(_ context.Context, _ int64, _ time.Time, batch []*SemanaRecord) (FlushResult, error) {
	s.tmpBatches = append(s.tmpBatches, len(batch))

	return FlushResult{Inserted: len(batch)}, nil
}

func (s *recordingSemanaStore) FlushFallback(_ context.Context, _ int64, _ time.Time, batch []*SemanaRecord) (FlushResult, error) {
	s.fallbackBatches = append(s.fallbackBatches, len(batch))

	return FlushResult{Inserted: len(batch)}, nil
}

func validSemana(artiID int64, tmpID *int64) *SemanaRecord {
	fecha := int64(1741564800000)

	return &SemanaRecord{
		TmpMayoSemID: tmpID,
		ArtiID:       &artiID,
		FuenID:       int64Ptr(7),
		FechaIni:     &fecha,
	}
}

func TestSemanaHandler_DualStrategySplit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	records := []*SemanaRecord{
		validSemana(1, int64Ptr(100)),
		validSemana(2, nil),
		validSemana(3, int64Ptr(101)),
		validSemana(4, nil),
		validSemana(5, int64Ptr(102)),
	}

	store := &recordingSemanaStore{}
	handler := NewSemanaHandler(
		&fakeSource{},
		store,
		func(io.Reader) SemanaIterator { return &sliceSemanaIterator{records: records} },
		2,
		discardLogger(),
	)

	rc := NewRunContext(MethodSemana, "req-1", SourceScheduled, false)

	if err := handler.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 3 tmp records at batch size 2: one full batch mid-stream, one at EOF.
	if len(store.tmpBatches) != 2 || store.tmpBatches[0] != 2 || store.tmpBatches[1] != 1 {
		t.Errorf("tmp batches = %v, want [2 1]", store.tmpBatches)
	}

	// 2 fallback records never hit the limit, flushed once at EOF.
	if len(store.fallbackBatches) != 1 || store.fallbackBatches[0] != 2 {
		t.Errorf("fallback batches = %v, want [2]", store.fallbackBatches)
	}

	if rc.Seen() != 5 || rc.Inserted() != 5 {
		t.Errorf("counters = seen %d inserted %d, want 5/5", rc.Seen(), rc.Inserted())
	}
}

func TestSemanaHandler_RejectsMissingBusinessKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// A tmp id alone is not enough: the business key fields stay mandatory.
	broken := validSemana(1, int64Ptr(100))
	broken.FechaIni = nil

	records := []*SemanaRecord{broken, validSemana(2, nil)}

	store := &recordingSemanaStore{}
	handler := NewSemanaHandler(
		&fakeSource{},
		store,
		func(io.Reader) SemanaIterator { return &sliceSemanaIterator{records: records} },
		10,
		discardLogger(),
	)

	rc := NewRunContext(MethodSemana, "req-1", SourceScheduled, false)

	if err := handler.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.Rejected() != 1 || rc.Inserted() != 1 {
		t.Errorf("counters = rejected %d inserted %d, want 1/1", rc.Rejected(), rc.Inserted())
	}

	rejects := rc.Rejects()
	if rejects[0].Reason != "Missing: fechaIni" {
		t.Errorf("reject reason = %q, want %q", rejects[0].Reason, "Missing: fechaIni")
	}
}
