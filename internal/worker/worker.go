// Package worker consumes batch work items from RabbitMQ and upserts their jobs
// through a bounded pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

// Broker is the slice of the RabbitMQ client the worker uses
type Broker interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	PublishDelayed(ctx context.Context, msg rabbitmq.Message, delay time.Duration) error
}

// BatchHandler processes batches and accounts for batches that ran out of attempts
type BatchHandler interface {
	ProcessBatch(ctx context.Context, item domain.BatchWorkItem) (domain.BatchOutcome, error)
	HandleExhausted(ctx context.Context, item domain.BatchWorkItem, cause error) domain.BatchOutcome
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Handler       BatchHandler
	Concurrency   int
	PrefetchCount int
	MaxAttempts   int
	RetryBackoff  time.Duration
	BatchTimeout  time.Duration
	QueueName     string
}

// Worker represents the batch consumer
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	handler       BatchHandler
	workerID      string
	concurrency   int
	prefetchCount int
	maxAttempts   int
	retryBackoff  time.Duration
	batchTimeout  time.Duration
	queueName     string
	jobsChan      chan *batchTask
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// batchTask is one decoded delivery waiting for a pool goroutine
type batchTask struct {
	message  domain.BatchMessage
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency * 2
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 2 * time.Minute
	}

	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		handler:       cfg.Handler,
		workerID:      "worker-" + uuid.NewString()[:8],
		concurrency:   concurrency,
		prefetchCount: prefetch,
		maxAttempts:   maxAttempts,
		retryBackoff:  cfg.RetryBackoff,
		batchTimeout:  batchTimeout,
		queueName:     cfg.QueueName,
		jobsChan:      make(chan *batchTask),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes deliveries until ctx is canceled or the broker closes the
// delivery channel
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("batch_timeout", w.batchTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if closed := w.startMessageDispatcher(ctx, deliveries); closed {
		return fmt.Errorf("delivery channel closed by broker")
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop waits for in-flight batches to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
