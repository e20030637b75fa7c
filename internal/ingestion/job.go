package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Job is the ingestion orchestrator. One Run call drives a single execution
// through the full state machine:
//
//	window check -> duplicate check -> create/restart run -> STARTED ->
//	RUNNING -> handler -> threshold check -> SUCCEEDED | FAILED
//
// followed by an unconditional finalization step that persists metrics,
// flushes buffered rejects and appends METRICS_UPDATED.
//
// Job is safe for concurrent use; invocations racing on the same
// (method, windowKey) are serialized by the control store's unique
// constraint, with the loser exiting on a duplicate outcome.
type Job struct {
	policy   *WindowPolicy
	control  ControlStore
	registry *Registry
	recorder *Recorder
	cfg      *Config
	logger   *slog.Logger
}

// NewJob wires the orchestrator.
func NewJob(
	policy *WindowPolicy,
	control ControlStore,
	registry *Registry,
	recorder *Recorder,
	cfg *Config,
	logger *slog.Logger,
) *Job {
	return &Job{
		policy:   policy,
		control:  control,
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Methods returns the registered method names.
func (j *Job) Methods() []string {
	return j.registry.Methods()
}

// Run executes one ingestion for method. The returned error reports the
// terminal outcome to the caller (scheduler or async trigger goroutine); all
// durable consequences are already persisted when Run returns.
func (j *Job) Run(ctx context.Context, method string, force bool, requestID string, source RequestSource) error {
	handler, ok := j.registry.Lookup(method)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	rc := NewRunContext(method, requestID, source, force)

	windowKey, err := j.policy.ValidateAndKey(method, force)
	if err != nil {
		j.recorder.SkippedWindow(ctx, rc, err.Error())
		j.logger.Info("Ingestion skipped, outside window",
			slog.String("method", method),
			slog.String("request_id", requestID),
			slog.String("reason", err.Error()),
		)

		return err
	}

	rc.WindowKey = windowKey

	if !force {
		complete, completeErr := j.control.IsWindowComplete(ctx, method, windowKey)
		if completeErr != nil {
			return fmt.Errorf("window completeness check: %w", completeErr)
		}

		if complete {
			j.recorder.SkippedDuplicate(ctx, rc, "window already completed successfully")
			j.logger.Info("Ingestion skipped, window already complete",
				slog.String("method", method),
				slog.String("window_key", windowKey),
				slog.String("request_id", requestID),
			)

			return fmt.Errorf("%w: %s %s", ErrRunAlreadySucceeded, method, windowKey)
		}
	}

	runID, err := j.control.CreateOrRestartRun(ctx, CreateRunRequest{
		Method:    method,
		WindowKey: windowKey,
		RequestID: requestID,
		Source:    source,
		Force:     force,
	})
	if err != nil {
		if IsDuplicateRun(err) {
			j.recorder.SkippedDuplicate(ctx, rc, err.Error())
			j.logger.Info("Ingestion skipped, duplicate run",
				slog.String("method", method),
				slog.String("window_key", windowKey),
				slog.String("request_id", requestID),
				slog.String("reason", err.Error()),
			)

			return err
		}

		return fmt.Errorf("create run: %w", err)
	}

	rc.RunID = runID

	j.recorder.Started(ctx, rc)
	j.logger.Info("Ingestion run started",
		slog.Int64("run_id", runID),
		slog.String("method", method),
		slog.String("window_key", windowKey),
		slog.String("request_id", requestID),
		slog.Bool("force", force),
	)

	runErr := j.process(ctx, handler, rc)

	if runErr == nil {
		if err := j.control.UpdateStatus(ctx, runID, StatusSucceeded); err != nil {
			runErr = fmt.Errorf("finalize succeeded status: %w", err)
		} else {
			j.recorder.Succeeded(ctx, rc)
		}
	}

	if runErr != nil {
		j.recordFailure(ctx, rc, runErr)
	}

	j.finalize(ctx, rc)

	return runErr
}

// process runs the RUNNING phase: status transition, handler execution and
// threshold validation.
func (j *Job) process(ctx context.Context, handler Handler, rc *RunContext) error {
	if err := j.control.UpdateStatus(ctx, rc.RunID, StatusRunning); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}

	j.recorder.Running(ctx, rc)

	if err := handler.Execute(ctx, rc); err != nil {
		return err
	}

	return j.validateThresholds(rc)
}

// validateThresholds enforces the reject quality limits on the accumulated
// counters.
func (j *Job) validateThresholds(rc *RunContext) error {
	if rc.Rejected() > j.cfg.MaxRejectCount {
		return fmt.Errorf(
			"%w: %d rejects exceed limit %d",
			ErrThresholdExceeded, rc.Rejected(), j.cfg.MaxRejectCount,
		)
	}

	if rc.Seen() > 0 {
		rate := float64(rc.Rejected()) / float64(rc.Seen())
		if rate > j.cfg.MaxRejectRate {
			return fmt.Errorf(
				"%w: reject rate %.4f exceeds limit %.4f",
				ErrThresholdExceeded, rate, j.cfg.MaxRejectRate,
			)
		}
	}

	return nil
}

// recordFailure persists the error detail, moves the run to FAILED and
// appends the failure audit event.
func (j *Job) recordFailure(ctx context.Context, rc *RunContext, cause error) {
	runErr := RunError{Message: cause.Error()}

	var external *ExternalError
	if errors.As(cause, &external) {
		if external.HTTPStatus != 0 {
			status := external.HTTPStatus
			runErr.HTTPStatus = &status
		}

		if external.FaultCode != "" {
			code := external.FaultCode
			runErr.FaultCode = &code
		}
	}

	if err := j.control.LogError(ctx, rc.RunID, runErr); err != nil {
		j.logger.Error("Failed to persist run error",
			slog.Int64("run_id", rc.RunID),
			slog.String("error", err.Error()),
		)
	}

	if err := j.control.UpdateStatus(ctx, rc.RunID, StatusFailed); err != nil {
		j.logger.Error("Failed to transition run to failed",
			slog.Int64("run_id", rc.RunID),
			slog.String("error", err.Error()),
		)
	}

	j.recorder.Failed(ctx, rc, cause)
	j.logger.Error("Ingestion run failed",
		slog.Int64("run_id", rc.RunID),
		slog.String("method", rc.Method),
		slog.String("window_key", rc.WindowKey),
		slog.String("error", cause.Error()),
	)
}

// finalize always runs after a terminal outcome: metrics, best-effort reject
// flush, METRICS_UPDATED.
func (j *Job) finalize(ctx context.Context, rc *RunContext) {
	err := j.control.UpdateMetrics(ctx, rc.RunID, rc.Seen(), rc.Inserted(), rc.Updated(), rc.Rejected())
	if err != nil {
		j.logger.Error("Failed to persist run metrics",
			slog.Int64("run_id", rc.RunID),
			slog.String("error", err.Error()),
		)
	}

	if rejects := rc.Rejects(); len(rejects) > 0 {
		if err := j.control.AppendRejects(ctx, rc.RunID, rejects); err != nil {
			j.logger.Error("Failed to persist rejected records",
				slog.Int64("run_id", rc.RunID),
				slog.Int("reject_count", len(rejects)),
				slog.String("error", err.Error()),
			)
		}
	}

	j.recorder.MetricsUpdated(ctx, rc)
}
