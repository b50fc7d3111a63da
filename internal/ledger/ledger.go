// Package ledger maintains the per-source import run record. Batch outcomes
// from concurrent workers converge here; counters are only ever changed by a
// single conditional increment in the store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// RunStore persists import runs. IncrementRun must apply the whole outcome
// atomically and only while the run is PROCESSING; CompleteRun must be a
// compare-and-set that reports true to exactly one caller.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.ImportRun) error
	SetRunFetched(ctx context.Context, runID string, count int, now time.Time) error
	IncrementRun(ctx context.Context, runID string, outcome domain.BatchOutcome, now time.Time) error
	CompleteRun(ctx context.Context, runID string, now time.Time) (bool, error)
	FailRun(ctx context.Context, runID string, reason domain.FailureReason, now time.Time) error
	SetProcessingTime(ctx context.Context, runID string, ms int64) error
	GetRun(ctx context.Context, runID string) (*domain.ImportRun, error)
}

const annotateTimeout = 10 * time.Second

// Ledger creates and updates import runs
type Ledger struct {
	store  RunStore
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewLedger creates a new Ledger
func NewLedger(store RunStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartRun creates a PENDING run for source
func (l *Ledger) StartRun(ctx context.Context, source *domain.Source) (*domain.ImportRun, error) {
	now := l.now()
	run := &domain.ImportRun{
		ID:             uuid.NewString(),
		SourceURL:      source.URL,
		SourceName:     source.Name(),
		StartedAt:      now,
		FailureReasons: domain.FailureReasons{},
		Status:         domain.RunStatusPending,
		UpdatedAt:      now,
	}

	if err := l.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create import run: %w", err)
	}

	l.logger.Info("Import run started",
		slog.String("run_id", run.ID),
		slog.String("source", run.SourceURL),
	)

	return run, nil
}

// RecordFetched sets the fetched total once and moves the run to PROCESSING,
// or straight to COMPLETED when nothing was fetched
func (l *Ledger) RecordFetched(ctx context.Context, runID string, count int) error {
	if count < 0 {
		return fmt.Errorf("invalid fetched count %d", count)
	}

	if err := l.store.SetRunFetched(ctx, runID, count, l.now()); err != nil {
		return fmt.Errorf("failed to record fetched count: %w", err)
	}

	l.logger.Info("Import run fetched",
		slog.String("run_id", runID),
		slog.Int("total_fetched", count),
	)

	return nil
}

// ApplyBatchOutcome adds one batch outcome to the run and closes it when every
// fetched job is accounted for. It reports whether this call completed the run.
// Outcomes for terminal runs are discarded with ErrRunTerminal; outcomes that
// would push the counters past the fetched total are discarded with
// ErrOutcomeOverflow.
func (l *Ledger) ApplyBatchOutcome(ctx context.Context, runID string, outcome domain.BatchOutcome) (bool, error) {
	err := l.store.IncrementRun(ctx, runID, outcome, l.now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunTerminal):
		l.logger.Warn("Batch outcome discarded, import run is terminal",
			slog.String("run_id", runID),
			slog.Int("jobs", outcome.Total()),
		)
		return false, err
	case errors.Is(err, domain.ErrOutcomeOverflow):
		l.logger.Warn("Batch outcome discarded, counters would exceed total fetched",
			slog.String("run_id", runID),
			slog.Int("jobs", outcome.Total()),
		)
		completed, completeErr := l.complete(ctx, runID)
		if completeErr != nil {
			return false, errors.Join(err, completeErr)
		}
		return completed, err
	default:
		return false, fmt.Errorf("failed to apply batch outcome: %w", err)
	}

	return l.complete(ctx, runID)
}

func (l *Ledger) complete(ctx context.Context, runID string) (bool, error) {
	completed, err := l.store.CompleteRun(ctx, runID, l.now())
	if err != nil {
		return false, fmt.Errorf("failed to complete import run: %w", err)
	}

	if completed {
		l.logger.Info("Import run completed",
			slog.String("run_id", runID),
		)
	}

	return completed, nil
}

// MarkFailed moves a run straight to FAILED with one failure reason
func (l *Ledger) MarkFailed(ctx context.Context, runID string, reason domain.FailureReason) error {
	if err := l.store.FailRun(ctx, runID, reason, l.now()); err != nil {
		return fmt.Errorf("failed to mark import run failed: %w", err)
	}

	l.logger.Warn("Import run failed",
		slog.String("run_id", runID),
		slog.String("reason", reason.Reason),
		slog.String("detail", reason.Detail),
	)

	return nil
}

// RecordProcessingTime annotates the run in the background. Failures are logged only.
func (l *Ledger) RecordProcessingTime(runID string, ms int64) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), annotateTimeout)
		defer cancel()

		if err := l.store.SetProcessingTime(ctx, runID, ms); err != nil {
			l.logger.Error("Failed to record processing time",
				slog.String("run_id", runID),
				slog.Int64("processing_time_ms", ms),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until background annotations have finished
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// GetRun returns a snapshot of the run
func (l *Ledger) GetRun(ctx context.Context, runID string) (*domain.ImportRun, error) {
	return l.store.GetRun(ctx, runID)
}
