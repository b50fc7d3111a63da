// Package app wires configuration into the clients and components shared by
// the api-service and worker-service binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/feed-importer/internal/config"
	"github.com/cuongbtq/feed-importer/internal/ledger"
	"github.com/cuongbtq/feed-importer/internal/storage"
	"github.com/cuongbtq/feed-importer/internal/storage/memory"
	"github.com/cuongbtq/feed-importer/internal/storage/postgres"
	"github.com/cuongbtq/feed-importer/internal/worker"
	"github.com/cuongbtq/feed-importer/shared/logger"
	"github.com/cuongbtq/feed-importer/shared/postgresql"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// RabbitMQConfig maps the yaml section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryQueueName:     cfg.Queue.RetryName,
		DeadLetterExchange: cfg.Exchange.DeadLetter,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// InitStorage opens the configured backend. The returned cleanup closes any
// connection it opened.
func InitStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewStore(), func() {}, nil

	case config.StorageDriverPostgres:
		dbClient, err := InitPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		store := postgres.NewStorage(dbClient, logger)
		if cfg.Database.ApplySchema {
			if err := store.Migrate(ctx); err != nil {
				dbClient.Close()
				return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
			}
		}

		logger.Info("Database connection established")
		return store, func() { dbClient.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
	}
}

// NewBatchWorker builds the queue consumer that upserts batches into store and
// reports outcomes to runs
func NewBatchWorker(cfg *config.Config, store worker.JobStore, runs *ledger.Ledger, broker worker.Broker, logger *slog.Logger) *worker.Worker {
	processor := worker.NewProcessor(store, runs, logger)

	return worker.NewWorker(&worker.Config{
		Logger:        logger,
		Broker:        broker,
		Handler:       processor,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		RetryBackoff:  cfg.Worker.RetryBackoff,
		BatchTimeout:  cfg.Worker.BatchTimeout,
		QueueName:     cfg.RabbitMQ.Queue.Name,
	})
}

// StopWithTimeout runs stop and gives up waiting after timeout
func StopWithTimeout(stop func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
