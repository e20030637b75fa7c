package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParsePageParams(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		query    string
		wantPage int
		wantSize int
		wantErr  bool
	}{
		{name: "defaults", query: "", wantPage: 1, wantSize: 100},
		{name: "explicit values", query: "page=3&pageSize=25", wantPage: 3, wantSize: 25},
		{name: "max page size", query: "pageSize=1000", wantPage: 1, wantSize: 1000},
		{name: "zero page", query: "page=0", wantErr: true},
		{name: "negative page", query: "page=-1", wantErr: true},
		{name: "non-numeric page", query: "page=two", wantErr: true},
		{name: "oversized page size", query: "pageSize=1001", wantErr: true},
		{name: "zero page size", query: "pageSize=0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ciudad?"+tt.query, nil)

			params, err := parsePageParams(r)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if params.page != tt.wantPage || params.pageSize != tt.wantSize {
				t.Errorf("params = %+v, want page %d size %d", params, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestParseFilter_DatesUseMarketTimezone(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}

	server := &Server{
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location: bogota,
	}

	r := httptest.NewRequest(http.MethodGet,
		"/api/v1/ciudad?startDate=2025-03-10&endDate=2025-03-12", nil)

	filter, err := server.parseFilter(r, pageParams{page: 2, pageSize: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantFrom := time.Date(2025, time.March, 10, 0, 0, 0, 0, bogota)
	if !filter.From.Equal(wantFrom) {
		t.Errorf("From = %v, want %v", filter.From, wantFrom)
	}

	// endDate is end-inclusive, so the bound is the following local midnight.
	wantTo := time.Date(2025, time.March, 13, 0, 0, 0, 0, bogota)
	if !filter.To.Equal(wantTo) {
		t.Errorf("To = %v, want %v", filter.To, wantTo)
	}

	if filter.Limit != 50 || filter.Offset != 50 {
		t.Errorf("paging = limit %d offset %d, want 50/50", filter.Limit, filter.Offset)
	}
}

func TestParseFilter_ExactDate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}

	server := &Server{
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location: bogota,
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/ciudad?fecha=2025-03-11", nil)

	filter, err := server.parseFilter(r, pageParams{page: 1, pageSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// fecha covers the full local day as a half-open range.
	wantFrom := time.Date(2025, time.March, 11, 0, 0, 0, 0, bogota)
	wantTo := time.Date(2025, time.March, 12, 0, 0, 0, 0, bogota)

	if filter.From == nil || !filter.From.Equal(wantFrom) {
		t.Errorf("From = %v, want %v", filter.From, wantFrom)
	}

	if filter.To == nil || !filter.To.Equal(wantTo) {
		t.Errorf("To = %v, want %v", filter.To, wantTo)
	}
}

func TestParseFilter_LegacyRangeAliases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := &Server{
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location: time.UTC,
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/ciudad?from=2025-03-10&to=2025-03-12", nil)

	filter, err := server.parseFilter(r, pageParams{page: 1, pageSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantFrom := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)

	if filter.From == nil || !filter.From.Equal(wantFrom) {
		t.Errorf("From = %v, want %v", filter.From, wantFrom)
	}

	if filter.To == nil || !filter.To.Equal(wantTo) {
		t.Errorf("To = %v, want %v", filter.To, wantTo)
	}
}

func TestParseFilter_Dimensions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := &Server{
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location: time.UTC,
	}

	r := httptest.NewRequest(http.MethodGet,
		"/api/v1/ciudad?artiId=712&fuenId=42&muniId=05001&codProducto=9&ciudad=Cali", nil)

	filter, err := server.parseFilter(r, pageParams{page: 1, pageSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if filter.ArtiID == nil || *filter.ArtiID != 712 {
		t.Errorf("ArtiID = %v, want 712", filter.ArtiID)
	}

	if filter.FuenID == nil || *filter.FuenID != 42 {
		t.Errorf("FuenID = %v, want 42", filter.FuenID)
	}

	if filter.MuniID == nil || *filter.MuniID != "05001" {
		t.Errorf("MuniID = %v, want 05001", filter.MuniID)
	}

	if filter.Producto == nil || *filter.Producto != 9 {
		t.Errorf("Producto = %v, want 9", filter.Producto)
	}

	if filter.Ciudad == nil || *filter.Ciudad != "Cali" {
		t.Errorf("Ciudad = %v, want Cali", filter.Ciudad)
	}
}

func TestParseFilter_InvalidInputs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := &Server{
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		location: time.UTC,
	}

	tests := []struct {
		name  string
		query string
	}{
		{name: "malformed startDate", query: "startDate=10-03-2025"},
		{name: "malformed endDate", query: "endDate=yesterday"},
		{name: "malformed fecha", query: "fecha=yesterday"},
		{name: "fecha combined with a range", query: "fecha=2025-03-11&startDate=2025-03-01"},
		{name: "non-numeric artiId", query: "artiId=abc"},
		{name: "non-numeric fuenId", query: "fuenId=abc"},
		{name: "non-numeric codProducto", query: "codProducto=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ciudad?"+tt.query, nil)

			if _, err := server.parseFilter(r, pageParams{page: 1, pageSize: 100}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPageEnvelope(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		total     int
		page      int
		pageSize  int
		wantPages int
		wantNext  *int
		wantPrev  *int
	}{
		{name: "single page", total: 5, page: 1, pageSize: 100, wantPages: 1},
		{name: "first of three", total: 250, page: 1, pageSize: 100, wantPages: 3, wantNext: intRef(2)},
		{name: "middle page", total: 250, page: 2, pageSize: 100, wantPages: 3, wantNext: intRef(3), wantPrev: intRef(1)},
		{name: "last page", total: 250, page: 3, pageSize: 100, wantPages: 3, wantPrev: intRef(2)},
		{name: "empty result", total: 0, page: 1, pageSize: 100, wantPages: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := page(nil, tt.total, pageParams{page: tt.page, pageSize: tt.pageSize})

			if response.Count != tt.total || response.Pages != tt.wantPages {
				t.Errorf("count/pages = %d/%d, want %d/%d",
					response.Count, response.Pages, tt.total, tt.wantPages)
			}

			if !intRefEqual(response.Next, tt.wantNext) {
				t.Errorf("Next = %v, want %v", response.Next, tt.wantNext)
			}

			if !intRefEqual(response.Prev, tt.wantPrev) {
				t.Errorf("Prev = %v, want %v", response.Prev, tt.wantPrev)
			}
		})
	}
}

func intRef(v int) *int { return &v }

func intRefEqual(got, want *int) bool {
	if got == nil || want == nil {
		return got == want
	}

	return *got == *want
}
