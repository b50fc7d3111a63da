package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case task := <-w.jobsChan:
			if task.message.Redelivered {
				w.logger.Warn("Batch redelivered by broker",
					slog.String("worker_name", workerName),
					slog.String("message_id", task.message.MessageID),
				)
			}

			err := w.processTask(ctx, task)
			w.settle(ctx, workerName, task, err)
		}
	}
}

// processTask runs one batch under the batch timeout. Shutdown does not cancel
// a batch that has already started.
func (w *Worker) processTask(ctx context.Context, task *batchTask) error {
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.batchTimeout)
	defer cancel()

	_, err := w.handler.ProcessBatch(batchCtx, task.message.Item)
	return err
}

// settle acks, schedules a retry, or accounts for an exhausted batch
func (w *Worker) settle(ctx context.Context, workerName string, task *batchTask, err error) {
	msg := task.message

	if err == nil {
		w.ack(workerName, task)
		return
	}

	w.logger.Error("Batch processing failed",
		slog.String("worker_name", workerName),
		slog.String("message_id", msg.MessageID),
		slog.Int("attempt", msg.Attempt),
		slog.Any("error", err),
	)

	if w.shouldRetry(err) && msg.Attempt < w.maxAttempts {
		if retryErr := w.scheduleRetry(ctx, task); retryErr != nil {
			w.logger.Error("Failed to schedule batch retry, requeueing",
				slog.String("message_id", msg.MessageID),
				slog.Any("error", retryErr),
			)
			w.nack(workerName, task, true)
			return
		}
		w.ack(workerName, task)
		return
	}

	accountCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.batchTimeout)
	defer cancel()
	w.handler.HandleExhausted(accountCtx, msg.Item, err)
	w.ack(workerName, task)
}

// scheduleRetry republishes the batch to the retry queue with exponential backoff
func (w *Worker) scheduleRetry(ctx context.Context, task *batchTask) error {
	msg := task.message
	delay := rabbitmq.BackoffDelay(w.retryBackoff, 2, msg.Attempt-1)

	headers := amqp.Table{}
	for k, v := range task.delivery.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(msg.Attempt + 1)

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.batchTimeout)
	defer cancel()

	err := w.broker.PublishDelayed(publishCtx, rabbitmq.Message{
		Body:        task.delivery.Body,
		ContentType: task.delivery.ContentType,
		MessageID:   msg.MessageID,
		Headers:     headers,
	}, delay)
	if err != nil {
		return err
	}

	w.logger.Info("Batch scheduled for retry",
		slog.String("message_id", msg.MessageID),
		slog.Int("next_attempt", msg.Attempt+1),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("delay", delay),
	)
	return nil
}

// shouldRetry determines if a batch should be retried based on the error type
func (w *Worker) shouldRetry(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}
	return domain.IsRetryable(err)
}

func (w *Worker) ack(workerName string, task *batchTask) {
	if err := task.delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("message_id", task.message.MessageID),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) nack(workerName string, task *batchTask, requeue bool) {
	if err := task.delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("message_id", task.message.MessageID),
			slog.Any("error", err),
		)
	}
}
