// Package api provides the HTTP API server for the SIPSA ingestion service.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// AuditTrail is the response of the per-request audit lookup.
type AuditTrail struct {
	RequestID  string                 `json:"requestId"`
	EventCount int                    `json:"eventCount"`
	FirstEvent time.Time              `json:"firstEvent"`
	LastEvent  time.Time              `json:"lastEvent"`
	Events     []ingestion.AuditEvent `json:"events"`
}

// handleAuditByRequest returns the audit timeline of one request id,
// oldest first.
func (s *Server) handleAuditByRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	if requestID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("requestId is required"))

		return
	}

	events, err := s.reads.AuditByRequestID(r.Context(), requestID)
	if err != nil {
		s.logger.Error("Failed to load audit timeline",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load audit timeline"))

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No audit events for request "+requestID))

		return
	}

	s.writeJSON(w, r, http.StatusOK, AuditTrail{
		RequestID:  requestID,
		EventCount: len(events),
		FirstEvent: events[0].OccurredAt,
		LastEvent:  events[len(events)-1].OccurredAt,
		Events:     events,
	})
}

// handleAuditByRun returns the audit timeline of one run id, oldest first.
func (s *Server) handleAuditByRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.PathValue("runId"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("runId must be an integer"))

		return
	}

	events, err := s.reads.AuditByRunID(r.Context(), runID)
	if err != nil {
		s.logger.Error("Failed to load audit timeline",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load audit timeline"))

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No audit events for run "+r.PathValue("runId")))

		return
	}

	s.writeJSON(w, r, http.StatusOK, events)
}

// handleAuditRecent returns the newest audit events across all runs.
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteErrorResponse(w, r, s.logger, BadRequest("limit must be a positive integer"))

			return
		}

		limit = parsed
	}

	events, err := s.reads.RecentAudit(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load recent audit events",
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load recent audit events"))

		return
	}

	if events == nil {
		events = []ingestion.AuditEvent{}
	}

	s.writeJSON(w, r, http.StatusOK, events)
}
