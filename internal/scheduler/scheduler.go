package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Runner executes one ingestion for a method. Satisfied by *ingestion.Job.
type Runner interface {
	Run(ctx context.Context, method string, force bool, requestID string, source ingestion.RequestSource) error
}

// Scheduler fires ingestion runs on the configured cron schedules in the
// market timezone. Window enforcement stays in the orchestrator; the
// scheduler deliberately fires a little inside each window so a drifting
// clock trips the window check rather than silently shifting the key.
type Scheduler struct {
	cfg    *Config
	runner Runner
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Scheduler whose cron entries evaluate in location.
func New(cfg *Config, runner Runner, location *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(cron.WithLocation(location)),
		logger: logger,
	}
}

// Start registers the cron entries and starts the scheduler goroutine.
// Returns without side effects when the scheduler is disabled.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("Scheduler disabled")

		return nil
	}

	entries := []struct {
		schedule string
		methods  []string
	}{
		{s.cfg.DailySchedule, ingestion.DailyMethods()},
		{s.cfg.MonthlyMayoristasSchedule, []string{ingestion.MethodMes}},
		{s.cfg.MonthlyAbastosSchedule, []string{ingestion.MethodAbas}},
	}

	for _, entry := range entries {
		methods := entry.methods

		_, err := s.cron.AddFunc(entry.schedule, func() {
			s.runAll(methods)
		})
		if err != nil {
			return err
		}

		s.logger.Info("Registered ingestion schedule",
			slog.String("schedule", entry.schedule),
			slog.Any("methods", methods),
		)
	}

	s.cron.Start()

	return nil
}

// Stop halts the scheduler and waits for any in-flight cron-triggered run to
// return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runAll executes the given methods sequentially. Each method gets its own
// request id and failures do not stop the remaining methods.
func (s *Scheduler) runAll(methods []string) {
	for _, method := range methods {
		requestID := uuid.NewString()

		s.logger.Info("Scheduled ingestion triggered",
			slog.String("method", method),
			slog.String("request_id", requestID),
		)

		err := s.runner.Run(context.Background(), method, false, requestID, ingestion.SourceScheduled)
		if err != nil {
			s.logger.Warn("Scheduled ingestion did not complete",
				slog.String("method", method),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
	}
}
