package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/feed-importer/internal/api/handler"
	"github.com/cuongbtq/feed-importer/internal/api/router"
	"github.com/cuongbtq/feed-importer/internal/app"
	"github.com/cuongbtq/feed-importer/internal/config"
	"github.com/cuongbtq/feed-importer/internal/coordinator"
	"github.com/cuongbtq/feed-importer/internal/dispatch"
	"github.com/cuongbtq/feed-importer/internal/feed"
	"github.com/cuongbtq/feed-importer/internal/ledger"
	"github.com/cuongbtq/feed-importer/internal/lock"
	"github.com/cuongbtq/feed-importer/internal/storage"
	"github.com/cuongbtq/feed-importer/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStorage, err := app.InitStorage(ctx, cfg, appLogger.Component("storage"))
	if err != nil {
		return err
	}
	defer closeStorage()

	// Initialize RabbitMQ client
	rabbitClient, err := app.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	seeds := cfg.Ingest.SeedSources
	if len(seeds) == 0 {
		seeds = coordinator.DefaultSeedSources
	}
	if err := coordinator.SeedSources(ctx, store, seeds, appLogger.Logger); err != nil {
		return err
	}

	runs := ledger.NewLedger(store, appLogger.Component("ledger"))

	lease, closeLease, err := initLease(ctx, &cfg.Redis, appLogger.Component("lock"))
	if err != nil {
		return err
	}
	defer closeLease()

	coord := coordinator.NewCoordinator(&coordinator.Config{
		Logger:     appLogger.Component("coordinator"),
		Sources:    store,
		Fetcher:    initFetcher(&cfg.Ingest, appLogger.Component("fetcher")),
		Dispatcher: dispatch.NewDispatcher(rabbitClient, appLogger.Component("dispatcher")),
		Ledger:     runs,
		Lease:      lease,
		BatchSize:  cfg.Ingest.BatchSize,
		FanOut:     cfg.Ingest.SourceFanOut,
	})

	scheduler, err := coordinator.NewScheduler(&coordinator.SchedulerConfig{
		Logger:       appLogger.Component("scheduler"),
		Sweeper:      coord,
		Schedule:     cfg.Ingest.Schedule,
		RunOnStartup: cfg.Ingest.RunOnStartup,
	})
	if err != nil {
		return err
	}

	workerErr := make(chan error, 1)
	stopWorker := func() {}
	if cfg.Worker.Embedded {
		stopWorker, err = startEmbeddedWorker(ctx, cfg, store, runs, appLogger.Component("worker"), workerErr)
		if err != nil {
			return err
		}
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	// Initialize router
	r := initRouter(cfg.App, appLogger.Logger, store, coord, rabbitClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	case err := <-workerErr:
		appLogger.Error("Embedded worker failed", slog.Any("error", err))
		runErr = err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// in-flight fetches are canceled; queued batches and ledger writes are drained
	cancel()

	drain := func() {
		scheduler.Stop()
		coord.Wait()
		stopWorker()
		runs.Wait()
	}
	if !app.StopWithTimeout(drain, cfg.Worker.ShutdownTimeout) {
		appLogger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("API service shutdown complete")
	return runErr
}

// initFetcher builds the HTTP feed fetcher
func initFetcher(cfg *config.IngestConfig, logger *slog.Logger) *feed.Fetcher {
	return feed.NewFetcher(&feed.Config{
		Timeout:      cfg.FetchTimeout,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
	})
}

// initLease returns the Redis sweep lease, or nil when Redis is disabled
func initLease(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (coordinator.Lease, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	client, err := lock.NewRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	logger.Info("Redis sweep lease enabled",
		slog.String("key", cfg.LockKey),
		slog.Duration("ttl", cfg.LockTTL),
	)

	return lock.NewRedisLease(client, cfg.LockKey, cfg.LockTTL, logger), func() { closeRedis(client, logger) }, nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("Failed to close Redis client", slog.Any("error", err))
	}
}

// startEmbeddedWorker runs a batch consumer on its own RabbitMQ channel in this process
func startEmbeddedWorker(ctx context.Context, cfg *config.Config, store storage.Store, runs *ledger.Ledger, logger *slog.Logger, errChan chan<- error) (func(), error) {
	consumerClient, err := rabbitmq.NewClient(app.RabbitMQConfig(&cfg.RabbitMQ), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker RabbitMQ client: %w", err)
	}

	w := app.NewBatchWorker(cfg, store, runs, consumerClient, logger)

	go func() {
		if err := w.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	return func() {
		w.Stop()
		consumerClient.Close()
	}, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(appCfg config.AppConfig, logger *slog.Logger, store storage.Store, coord *coordinator.Coordinator, broker *rabbitmq.Client) *gin.Engine {
	// Set Gin mode based on environment
	if appCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:      logger,
		ServiceName: appCfg.Name,
		Sources:     store,
		Runs:        store,
		Jobs:        store,
		Sweeps:      coord,
		Storage:     store,
		Broker:      broker,
	}

	return router.SetupRouter(handlerDeps)
}
