package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// JobStore upserts job records keyed by (externalId, source)
type JobStore interface {
	UpsertJob(ctx context.Context, record *domain.JobRecord) (domain.UpsertResult, error)
}

// OutcomeRecorder receives per-batch outcomes
type OutcomeRecorder interface {
	ApplyBatchOutcome(ctx context.Context, runID string, outcome domain.BatchOutcome) (bool, error)
}

// Processor upserts the jobs of one batch and reports the outcome to the run ledger
type Processor struct {
	store  JobStore
	ledger OutcomeRecorder
	logger *slog.Logger
}

// NewProcessor creates a new Processor
func NewProcessor(store JobStore, ledger OutcomeRecorder, logger *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		ledger: ledger,
		logger: logger,
	}
}

// ProcessBatch validates and upserts every job in item. Invalid or rejected
// jobs are recorded in the outcome and never abort the batch; a storage
// failure does, with a RetryableError, and nothing is reported to the ledger.
func (p *Processor) ProcessBatch(ctx context.Context, item domain.BatchWorkItem) (domain.BatchOutcome, error) {
	var outcome domain.BatchOutcome

	for i := range item.Jobs {
		job := &item.Jobs[i]

		if err := ctx.Err(); err != nil {
			return outcome, domain.NewRetryableError(fmt.Errorf("batch interrupted: %w", err))
		}

		if err := job.Validate(); err != nil {
			var validationErr *domain.ValidationError
			if errors.As(err, &validationErr) {
				outcome.AddFailure(job.Ref(), validationErr.Reason, validationErr.Field+" is required")
				continue
			}
			outcome.AddFailure(job.Ref(), err.Error(), err.Error())
			continue
		}

		result, err := p.store.UpsertJob(ctx, domain.NewJobRecord(*job, item.SourceKey))
		if err != nil {
			if errors.Is(err, domain.ErrJobRejected) {
				outcome.AddFailure(job.Ref(), domain.ReasonJobRejected, err.Error())
				continue
			}
			return outcome, domain.NewRetryableError(fmt.Errorf("failed to upsert job %s: %w", job.Ref(), err))
		}

		if result.IsNew() {
			outcome.NewCount++
		} else {
			outcome.UpdatedCount++
		}
	}

	p.logger.Info("Batch processed",
		slog.String("run_id", item.RunID),
		slog.String("source", item.SourceKey),
		slog.Int("batch_index", item.BatchIndex),
		slog.Int("new", outcome.NewCount),
		slog.Int("updated", outcome.UpdatedCount),
		slog.Int("failed", outcome.FailedCount),
	)

	p.report(ctx, item.RunID, outcome)
	return outcome, nil
}

// HandleExhausted accounts for a batch that ran out of delivery attempts:
// every job in it is recorded as failed so the run can still close.
func (p *Processor) HandleExhausted(ctx context.Context, item domain.BatchWorkItem, cause error) domain.BatchOutcome {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}

	var outcome domain.BatchOutcome
	for i := range item.Jobs {
		outcome.AddFailure(item.Jobs[i].Ref(), domain.ReasonRetriesExhausted, detail)
	}

	p.logger.Error("Batch retries exhausted",
		slog.String("run_id", item.RunID),
		slog.String("source", item.SourceKey),
		slog.Int("batch_index", item.BatchIndex),
		slog.Int("jobs", len(item.Jobs)),
		slog.Any("error", cause),
	)

	p.report(ctx, item.RunID, outcome)
	return outcome
}

// report applies the outcome to the ledger. Ledger errors are logged and
// never fail the batch, so a ledger problem cannot cause a redelivery.
func (p *Processor) report(ctx context.Context, runID string, outcome domain.BatchOutcome) {
	if runID == "" || p.ledger == nil {
		return
	}

	if _, err := p.ledger.ApplyBatchOutcome(ctx, runID, outcome); err != nil {
		p.logger.Error("Failed to apply batch outcome",
			slog.String("run_id", runID),
			slog.Int("jobs", outcome.Total()),
			slog.Any("error", err),
		)
	}
}
