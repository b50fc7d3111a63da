// Package dispatch slices normalized jobs into fixed-size batches and
// publishes each batch as one queue work item.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

// Publisher enqueues one message on the work queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// Dispatcher publishes batch work items
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		logger:    logger,
	}
}

// Batches splits jobs into contiguous slices of at most size elements, in input order
func Batches(jobs []domain.CanonicalJob, size int) [][]domain.CanonicalJob {
	if size <= 0 {
		size = domain.DefaultBatchSize
	}

	batches := make([][]domain.CanonicalJob, 0, (len(jobs)+size-1)/size)
	for start := 0; start < len(jobs); start += size {
		end := min(start+size, len(jobs))
		batches = append(batches, jobs[start:end])
	}
	return batches
}

// MessageID identifies one batch of a run on the queue
func MessageID(runID string, index int) string {
	return fmt.Sprintf("%s:%d", runID, index)
}

// Dispatch enqueues ceil(len(jobs)/batchSize) work items tagged with runID and
// returns one message id per batch. It does not wait for processing. An empty
// job list is a no-op; the caller closes the run itself.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []domain.CanonicalJob, sourceKey, runID string, batchSize int) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	batches := Batches(jobs, batchSize)
	handles := make([]string, 0, len(batches))

	for i, batch := range batches {
		item := domain.BatchWorkItem{
			Jobs:       batch,
			SourceKey:  sourceKey,
			RunID:      runID,
			BatchIndex: i,
			BatchCount: len(batches),
		}

		body, err := json.Marshal(item)
		if err != nil {
			return handles, fmt.Errorf("failed to marshal batch %d: %w", i, err)
		}

		msg := rabbitmq.Message{
			Body:      body,
			MessageID: MessageID(runID, i),
		}
		if err := d.publisher.PublishWithRetry(ctx, msg); err != nil {
			return handles, fmt.Errorf("failed to publish batch %d of %d: %w", i+1, len(batches), err)
		}

		handles = append(handles, msg.MessageID)
	}

	d.logger.Info("Batches dispatched",
		slog.String("run_id", runID),
		slog.String("source", sourceKey),
		slog.Int("jobs", len(jobs)),
		slog.Int("batches", len(batches)),
	)

	return handles, nil
}
