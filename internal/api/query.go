// Package api provides the HTTP API server for the SIPSA ingestion service.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/storage"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000

	dateLayout = "2006-01-02"
)

type (
	// PagedResponse is the envelope of every curated list endpoint. Pages are
	// 1-based; Next and Prev are absent on the last and first page.
	PagedResponse struct {
		Count   int  `json:"count"`
		Pages   int  `json:"pages"`
		Next    *int `json:"next"`
		Prev    *int `json:"prev"`
		Results any  `json:"results"`
	}

	// pageParams holds the parsed page/pageSize query parameters.
	pageParams struct {
		page     int
		pageSize int
	}
)

// parsePageParams reads page and pageSize with defaults and bounds.
func parsePageParams(r *http.Request) (pageParams, error) {
	params := pageParams{page: 1, pageSize: defaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return params, fmt.Errorf("page must be a positive integer, got %q", raw)
		}

		params.page = page
	}

	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxPageSize {
			return params, fmt.Errorf("pageSize must be between 1 and %d, got %q", maxPageSize, raw)
		}

		params.pageSize = size
	}

	return params, nil
}

// parseFilter builds the storage filter from query parameters. Dates are
// interpreted in the market timezone; end dates are inclusive and become an
// exclusive bound on the following midnight. "fecha" selects a single local
// day; "from"/"to" are accepted as aliases of "startDate"/"endDate".
func (s *Server) parseFilter(r *http.Request, params pageParams) (storage.RangeFilter, error) {
	filter := storage.RangeFilter{
		Limit:  params.pageSize,
		Offset: (params.page - 1) * params.pageSize,
	}

	query := r.URL.Query()

	start := firstQueryValue(query, "startDate", "from")
	end := firstQueryValue(query, "endDate", "to")

	if raw := query.Get("fecha"); raw != "" {
		if start != "" || end != "" {
			return filter, fmt.Errorf("fecha cannot be combined with a date range")
		}

		day, err := time.ParseInLocation(dateLayout, raw, s.location)
		if err != nil {
			return filter, fmt.Errorf("fecha must be a YYYY-MM-DD date, got %q", raw)
		}

		next := day.AddDate(0, 0, 1)
		filter.From = &day
		filter.To = &next
	}

	if start != "" {
		from, err := time.ParseInLocation(dateLayout, start, s.location)
		if err != nil {
			return filter, fmt.Errorf("startDate must be a YYYY-MM-DD date, got %q", start)
		}

		filter.From = &from
	}

	if end != "" {
		to, err := time.ParseInLocation(dateLayout, end, s.location)
		if err != nil {
			return filter, fmt.Errorf("endDate must be a YYYY-MM-DD date, got %q", end)
		}

		endBound := to.AddDate(0, 0, 1)
		filter.To = &endBound
	}

	if raw := query.Get("artiId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("artiId must be an integer, got %q", raw)
		}

		filter.ArtiID = &id
	}

	if raw := query.Get("fuenId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("fuenId must be an integer, got %q", raw)
		}

		filter.FuenID = &id
	}

	if raw := query.Get("muniId"); raw != "" {
		muniID := raw
		filter.MuniID = &muniID
	}

	if raw := query.Get("codProducto"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("codProducto must be an integer, got %q", raw)
		}

		filter.Producto = &id
	}

	if raw := query.Get("ciudad"); raw != "" {
		ciudad := raw
		filter.Ciudad = &ciudad
	}

	return filter, nil
}

// firstQueryValue returns the first non-empty value among the given
// parameter names.
func firstQueryValue(query url.Values, names ...string) string {
	for _, name := range names {
		if value := query.Get(name); value != "" {
			return value
		}
	}

	return ""
}

// page assembles the pagination envelope for one result page.
func page(results any, total int, params pageParams) PagedResponse {
	pages := (total + params.pageSize - 1) / params.pageSize

	response := PagedResponse{
		Count:   total,
		Pages:   pages,
		Results: results,
	}

	if params.page < pages {
		next := params.page + 1
		response.Next = &next
	}

	if params.page > 1 {
		prev := params.page - 1
		response.Prev = &prev
	}

	return response
}

// listEndpoint runs the shared parse-query-respond flow of the curated list
// handlers around the entity-specific query function.
func listEndpoint(
	s *Server,
	w http.ResponseWriter,
	r *http.Request,
	entity string,
	query func(filter storage.RangeFilter) (any, int, error),
) {
	params, err := parsePageParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter, err := s.parseFilter(r, params)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	results, total, err := query(filter)
	if err != nil {
		s.logger.Error("Failed to query curated data",
			slog.String("entity", entity),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query "+entity))

		return
	}

	s.writeJSON(w, r, http.StatusOK, page(results, total, params))
}

// handleListCiudad serves city-level average prices.
func (s *Server) handleListCiudad(w http.ResponseWriter, r *http.Request) {
	listEndpoint(s, w, r, "ciudad", func(filter storage.RangeFilter) (any, int, error) {
		rows, total, err := s.reads.ListCiudad(r.Context(), filter)

		return rows, total, err
	})
}

// handleListParcial serves partial market surveys.
func (s *Server) handleListParcial(w http.ResponseWriter, r *http.Request) {
	listEndpoint(s, w, r, "parcial", func(filter storage.RangeFilter) (any, int, error) {
		rows, total, err := s.reads.ListParcial(r.Context(), filter)

		return rows, total, err
	})
}

// handleListMayoristasSemanal serves weekly wholesale prices.
func (s *Server) handleListMayoristasSemanal(w http.ResponseWriter, r *http.Request) {
	listEndpoint(s, w, r, "mayoristas semanal", func(filter storage.RangeFilter) (any, int, error) {
		rows, total, err := s.reads.ListMayoristasSemanal(r.Context(), filter)

		return rows, total, err
	})
}

// handleListMayoristasMensual serves monthly wholesale prices.
func (s *Server) handleListMayoristasMensual(w http.ResponseWriter, r *http.Request) {
	listEndpoint(s, w, r, "mayoristas mensual", func(filter storage.RangeFilter) (any, int, error) {
		rows, total, err := s.reads.ListMayoristasMensual(r.Context(), filter)

		return rows, total, err
	})
}

// handleListAbastecimientos serves monthly supply volumes.
func (s *Server) handleListAbastecimientos(w http.ResponseWriter, r *http.Request) {
	listEndpoint(s, w, r, "abastecimientos", func(filter storage.RangeFilter) (any, int, error) {
		rows, total, err := s.reads.ListAbastecimientos(r.Context(), filter)

		return rows, total, err
	})
}
