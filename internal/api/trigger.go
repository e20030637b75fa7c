// Package api provides the HTTP API server for the SIPSA ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dalejandrov/sipsa-ingest/internal/api/middleware"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
	"github.com/dalejandrov/sipsa-ingest/internal/storage"
)

// triggerTimeout bounds a background ingestion run kicked off by the trigger
// endpoint. Full pulls of the largest feed finish well inside an hour.
const triggerTimeout = time.Hour

type (
	// TriggerRequest is the payload of the manual ingestion trigger.
	TriggerRequest struct {
		Method string `json:"method"`
		Force  bool   `json:"force"`
	}

	// TriggerAccepted is the 202 response of the trigger endpoint. Processing
	// continues asynchronously; the requestId keys the audit trail.
	TriggerAccepted struct {
		RequestID string `json:"requestId"`
		Status    string `json:"status"`
		Method    string `json:"method"`
		Force     bool   `json:"force"`
	}

	// TriggerRejected is the 400 response for an unknown method.
	TriggerRejected struct {
		Error            string   `json:"error"`
		AvailableMethods []string `json:"availableMethods"`
		RequestID        string   `json:"requestId"`
	}

	// MethodList is the response of the method listing endpoint.
	MethodList struct {
		Methods []string `json:"methods"`
		Count   int      `json:"count"`
	}
)

// handleTriggerIngestion accepts a manual ingestion request, records it on
// the audit trail and hands it to a background goroutine. The HTTP response
// reports acceptance only; window checks, duplicate checks and the run
// outcome land in the audit trail under the returned requestId.
func (s *Server) handleTriggerIngestion(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	requestID := uuid.NewString()

	if s.runner == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Ingestion trigger not configured"))

		return
	}

	req, err := parseTriggerRequest(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	s.recorder.RequestReceived(r.Context(), req.Method, requestID, ingestion.SourceManual, req.Force)

	if !s.isKnownMethod(req.Method) {
		s.recorder.RequestRejected(r.Context(), req.Method, requestID, ingestion.SourceManual, "unknown method")

		s.writeJSON(w, r, http.StatusBadRequest, TriggerRejected{
			Error:            "Unknown ingestion method: " + req.Method,
			AvailableMethods: s.runner.Methods(),
			RequestID:        requestID,
		})

		return
	}

	s.recorder.RequestAccepted(r.Context(), req.Method, requestID, ingestion.SourceManual, req.Force)

	s.logger.Info("Ingestion request accepted",
		slog.String("method", req.Method),
		slog.Bool("force", req.Force),
		slog.String("request_id", requestID),
		slog.String("correlation_id", correlationID),
	)

	// The run outlives the HTTP request; it gets its own context.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()

		if err := s.runner.Run(ctx, req.Method, req.Force, requestID, ingestion.SourceManual); err != nil {
			s.logger.Warn("Triggered ingestion did not complete",
				slog.String("method", req.Method),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
	}()

	s.writeJSON(w, r, http.StatusAccepted, TriggerAccepted{
		RequestID: requestID,
		Status:    "ACCEPTED",
		Method:    req.Method,
		Force:     req.Force,
	})
}

// parseTriggerRequest reads the trigger parameters from the query string,
// falling back to a JSON body when the method parameter is absent.
func parseTriggerRequest(r *http.Request) (TriggerRequest, error) {
	var req TriggerRequest

	if method := r.URL.Query().Get("method"); method != "" {
		req.Method = strings.TrimSpace(method)
		req.Force = r.URL.Query().Get("force") == "true"

		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("Invalid JSON payload: " + err.Error())
	}

	req.Method = strings.TrimSpace(req.Method)

	return req, nil
}

// handleListMethods returns the registered ingestion method names.
func (s *Server) handleListMethods(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Ingestion trigger not configured"))

		return
	}

	methods := s.runner.Methods()

	s.writeJSON(w, r, http.StatusOK, MethodList{Methods: methods, Count: len(methods)})
}

// handleGetRun returns the control-plane view of one ingestion run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.PathValue("runId"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("runId must be an integer"))

		return
	}

	run, err := s.reads.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No ingestion run with id "+r.PathValue("runId")))

			return
		}

		s.logger.Error("Failed to load ingestion run",
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load ingestion run"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, run)
}

// isKnownMethod reports whether method is registered with the runner.
func (s *Server) isKnownMethod(method string) bool {
	for _, known := range s.runner.Methods() {
		if known == method {
			return true
		}
	}

	return false
}

// writeJSON marshals v and writes it with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
