package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// DefaultSchedule sweeps at the top of every hour
const DefaultSchedule = "0 * * * *"

// Sweeper runs one sweep
type Sweeper interface {
	RunSweep(ctx context.Context) (*SweepResult, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Logger       *slog.Logger
	Sweeper      Sweeper
	Schedule     string
	RunOnStartup bool
}

// Scheduler wraps robfig/cron and fires sweeps on a fixed cadence
type Scheduler struct {
	cron         *cron.Cron
	sweeper      Sweeper
	schedule     string
	runOnStartup bool
	logger       *slog.Logger
}

// NewScheduler creates a Scheduler for a standard five-field cron expression
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelDebug))

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		sweeper:      cfg.Sweeper,
		schedule:     schedule,
		runOnStartup: cfg.RunOnStartup,
		logger:       cfg.Logger,
	}, nil
}

// Start registers the sweep and starts the cron loop. With RunOnStartup a
// first sweep is started immediately without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to register sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.String("schedule", s.schedule),
		slog.Bool("run_on_startup", s.runOnStartup),
	)

	if s.runOnStartup {
		go s.runSweep(ctx)
	}

	return nil
}

// Stop stops the cron loop and waits for a running tick to return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := s.sweeper.RunSweep(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSweepInProgress):
		s.logger.Info("Scheduled sweep skipped, previous sweep still running")
	default:
		s.logger.Error("Scheduled sweep failed",
			slog.Any("error", err),
		)
	}
}
