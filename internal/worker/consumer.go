package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// AttemptHeader carries the 1-based delivery attempt of a batch
const AttemptHeader = "x-attempt"

// setupConsumer sets QoS and starts consuming
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.broker.SetPrefetch(w.prefetchCount); err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool. It
// reports true when the broker closed the delivery channel.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return true
			}

			msg, err := decodeDelivery(delivery)
			if err != nil {
				w.logger.Error("Failed to decode batch message",
					slog.String("message_id", delivery.MessageId),
					slog.Any("error", err),
				)
				// malformed payloads are never retried
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &batchTask{message: msg, delivery: delivery}:
				w.logger.Debug("Batch dispatched to worker pool",
					slog.String("message_id", msg.MessageID),
					slog.Int("attempt", msg.Attempt),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching batch")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return false
			}
		}
	}
}

func decodeDelivery(delivery amqp.Delivery) (domain.BatchMessage, error) {
	var item domain.BatchWorkItem
	if err := json.Unmarshal(delivery.Body, &item); err != nil {
		return domain.BatchMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if item.RunID == "" {
		return domain.BatchMessage{}, fmt.Errorf("%w: missing runId", domain.ErrInvalidPayload)
	}

	return domain.BatchMessage{
		MessageID:   delivery.MessageId,
		Item:        item,
		Attempt:     attemptFromHeaders(delivery.Headers),
		Redelivered: delivery.Redelivered,
	}, nil
}

// attemptFromHeaders reads AttemptHeader; a missing or unreadable header means first attempt
func attemptFromHeaders(headers amqp.Table) int {
	var attempt int
	switch v := headers[AttemptHeader].(type) {
	case int:
		attempt = v
	case int8:
		attempt = int(v)
	case int16:
		attempt = int(v)
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case uint8:
		attempt = int(v)
	case uint16:
		attempt = int(v)
	case uint32:
		attempt = int(v)
	}
	if attempt < 1 {
		return 1
	}
	return attempt
}
