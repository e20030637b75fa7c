package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventType is the closed audit event taxonomy.
type EventType string

// Audit event types. The set is closed; new types require a schema review.
const (
	EventRequestReceived    EventType = "REQUEST_RECEIVED"
	EventRequestAccepted    EventType = "REQUEST_ACCEPTED"
	EventRequestRejected    EventType = "REQUEST_REJECTED"
	EventIngestionStarted   EventType = "INGESTION_STARTED"
	EventIngestionRunning   EventType = "INGESTION_RUNNING"
	EventIngestionSucceeded EventType = "INGESTION_SUCCEEDED"
	EventIngestionFailed    EventType = "INGESTION_FAILED"
	EventSkippedWindow      EventType = "INGESTION_SKIPPED_WINDOW"
	EventSkippedDuplicate   EventType = "INGESTION_SKIPPED_DUPLICATE"
	EventRecordsProcessed   EventType = "RECORDS_PROCESSED"
	EventRecordInserted     EventType = "RECORD_INSERTED"
	EventRecordUpdated      EventType = "RECORD_UPDATED"
	EventRecordRejected     EventType = "RECORD_REJECTED"
	EventErrorValidation    EventType = "ERROR_VALIDATION"
	EventErrorParse         EventType = "ERROR_PARSE"
	EventErrorDatabase      EventType = "ERROR_DATABASE"
	EventErrorSoap          EventType = "ERROR_SOAP"
	EventErrorThreshold     EventType = "ERROR_THRESHOLD"
	EventForceRestart       EventType = "FORCE_RESTART"
	EventMetricsUpdated     EventType = "METRICS_UPDATED"
)

// RequestSource is the logical origin of an ingestion request.
type RequestSource string

// Request sources.
const (
	SourceManual    RequestSource = "MANUAL"
	SourceScheduled RequestSource = "SCHEDULED"
	SourceSystem    RequestSource = "SYSTEM"
)

// AuditEvent is one immutable entry on the audit timeline.
type AuditEvent struct {
	AuditID    int64         `json:"auditId"`
	RunID      *int64        `json:"runId,omitempty"`
	RequestID  string        `json:"requestId"`
	Source     RequestSource `json:"requestSource"`
	Type       EventType     `json:"eventType"`
	Message    string        `json:"message"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// AuditPublisher mirrors audit events onto an external bus. Implementations
// must be best-effort; the recorder never escalates publish failures.
type AuditPublisher interface {
	Publish(ctx context.Context, event AuditEvent) error
}

// Recorder writes audit events to the control store and optionally mirrors
// them to a publisher. Audit failures are logged and swallowed: the audit
// subsystem must never break ingestion.
type Recorder struct {
	store     ControlStore
	publisher AuditPublisher
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. publisher may be nil.
func NewRecorder(store ControlStore, publisher AuditPublisher, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Record persists one audit event, best-effort.
func (r *Recorder) Record(ctx context.Context, event AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := r.store.AppendAudit(ctx, event); err != nil {
		r.logger.Error("Failed to persist audit event",
			slog.String("event_type", string(event.Type)),
			slog.String("request_id", event.RequestID),
			slog.String("error", err.Error()),
		)
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("Failed to publish audit event",
				slog.String("event_type", string(event.Type)),
				slog.String("request_id", event.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RequestReceived records the synchronous arrival of a trigger request.
func (r *Recorder) RequestReceived(ctx context.Context, method, requestID string, source RequestSource, force bool) {
	r.Record(ctx, AuditEvent{
		RequestID: requestID,
		Source:    source,
		Type:      EventRequestReceived,
		Message:   fmt.Sprintf("Method: %s, Force: %t", method, force),
	})
}

// RequestAccepted records the async handoff of a validated trigger request.
func (r *Recorder) RequestAccepted(ctx context.Context, method, requestID string, source RequestSource, force bool) {
	r.Record(ctx, AuditEvent{
		RequestID: requestID,
		Source:    source,
		Type:      EventRequestAccepted,
		Message:   fmt.Sprintf("Request accepted for async processing - Method: %s, Force: %t", method, force),
	})
}

// RequestRejected records a trigger request that failed validation.
func (r *Recorder) RequestRejected(ctx context.Context, method, requestID string, source RequestSource, reason string) {
	r.Record(ctx, AuditEvent{
		RequestID: requestID,
		Source:    source,
		Type:      EventRequestRejected,
		Message:   fmt.Sprintf("Method: %s - %s", method, reason),
	})
}

// Started records the creation of a run.
func (r *Recorder) Started(ctx context.Context, rc *RunContext) {
	r.Record(ctx, AuditEvent{
		RunID:     &rc.RunID,
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventIngestionStarted,
		Message:   fmt.Sprintf("Method: %s, Window: %s, Force: %t", rc.Method, rc.WindowKey, rc.Force),
	})
}

// Running records the transition into data processing.
func (r *Recorder) Running(ctx context.Context, rc *RunContext) {
	r.Record(ctx, AuditEvent{
		RunID:     &rc.RunID,
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventIngestionRunning,
		Message:   "Starting data ingestion for method: " + rc.Method,
	})
}

// Succeeded records the successful terminal state with the final counters.
func (r *Recorder) Succeeded(ctx context.Context, rc *RunContext) {
	r.Record(ctx, AuditEvent{
		RunID:     &rc.RunID,
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventIngestionSucceeded,
		Message: fmt.Sprintf(
			"Completed successfully - Seen: %d, Inserted: %d, Updated: %d, Rejected: %d",
			rc.Seen(), rc.Inserted(), rc.Updated(), rc.Rejected(),
		),
	})
}

// Failed records the failed terminal state.
func (r *Recorder) Failed(ctx context.Context, rc *RunContext, cause error) {
	r.Record(ctx, AuditEvent{
		RunID:     &rc.RunID,
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventIngestionFailed,
		Message:   "Error: " + cause.Error(),
	})
}

// SkippedWindow records a request refused by the window policy. No run row
// exists, so RunID stays nil.
func (r *Recorder) SkippedWindow(ctx context.Context, rc *RunContext, reason string) {
	r.Record(ctx, AuditEvent{
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventSkippedWindow,
		Message:   fmt.Sprintf("Method: %s - %s", rc.Method, reason),
	})
}

// SkippedDuplicate records a request refused because the window is already
// complete or claimed. reason is optional.
func (r *Recorder) SkippedDuplicate(ctx context.Context, rc *RunContext, reason string) {
	message := fmt.Sprintf("Method: %s, Window: %s", rc.Method, rc.WindowKey)
	if reason != "" {
		message += " - " + reason
	}

	r.Record(ctx, AuditEvent{
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventSkippedDuplicate,
		Message:   message,
	})
}

// MetricsUpdated records the terminal counter snapshot. Always the last
// event of a run.
func (r *Recorder) MetricsUpdated(ctx context.Context, rc *RunContext) {
	r.Record(ctx, AuditEvent{
		RunID:     &rc.RunID,
		RequestID: rc.RequestID,
		Source:    rc.Source,
		Type:      EventMetricsUpdated,
		Message: fmt.Sprintf(
			"Seen: %d, Inserted: %d, Updated: %d, Rejected: %d",
			rc.Seen(), rc.Inserted(), rc.Updated(), rc.Rejected(),
		),
	})
}
