// Package coordinator owns source sweeps: it fans out over active sources with
// bounded concurrency, fetches and dispatches each feed, and guarantees that at
// most one sweep runs at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// SourceStore lists sources and records fetch attempts
type SourceStore interface {
	ListActiveSources(ctx context.Context) ([]domain.Source, error)
	MarkFetched(ctx context.Context, id string, at time.Time) error
}

// FeedFetcher fetches and normalizes one feed
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]domain.CanonicalJob, error)
}

// BatchDispatcher enqueues normalized jobs as batches
type BatchDispatcher interface {
	Dispatch(ctx context.Context, jobs []domain.CanonicalJob, sourceKey, runID string, batchSize int) ([]string, error)
}

// RunLedger records the lifecycle of each source fetch
type RunLedger interface {
	StartRun(ctx context.Context, source *domain.Source) (*domain.ImportRun, error)
	RecordFetched(ctx context.Context, runID string, count int) error
	MarkFailed(ctx context.Context, runID string, reason domain.FailureReason) error
	RecordProcessingTime(runID string, ms int64)
}

// Lease is an optional cross-process sweep lock
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sweep states
const (
	stateIdle int32 = iota
	stateSweeping
)

// DefaultFanOut is the number of sources fetched concurrently
const DefaultFanOut = 3

// Config holds coordinator configuration
type Config struct {
	Logger     *slog.Logger
	Sources    SourceStore
	Fetcher    FeedFetcher
	Dispatcher BatchDispatcher
	Ledger     RunLedger
	Lease      Lease
	BatchSize  int
	FanOut     int
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Sources   int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Coordinator runs sweeps over active sources
type Coordinator struct {
	logger     *slog.Logger
	sources    SourceStore
	fetcher    FeedFetcher
	dispatcher BatchDispatcher
	ledger     RunLedger
	lease      Lease
	batchSize  int
	fanOut     int
	now        func() time.Time
	state      atomic.Int32
	background sync.WaitGroup
}

// NewCoordinator creates a new Coordinator in the Idle state
func NewCoordinator(cfg *Config) *Coordinator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = domain.DefaultBatchSize
	}
	fanOut := cfg.FanOut
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	return &Coordinator{
		logger:     cfg.Logger,
		sources:    cfg.Sources,
		fetcher:    cfg.Fetcher,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		lease:      cfg.Lease,
		batchSize:  batchSize,
		fanOut:     fanOut,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweeping reports whether a sweep is in progress on this instance
func (c *Coordinator) Sweeping() bool {
	return c.state.Load() == stateSweeping
}

// RunSweep runs one sweep and blocks until every source has been processed.
// A request that arrives while a sweep is running is dropped with ErrSweepInProgress.
func (c *Coordinator) RunSweep(ctx context.Context) (*SweepResult, error) {
	if !c.state.CompareAndSwap(stateIdle, stateSweeping) {
		c.logger.Info("Sweep request dropped, sweep already in progress")
		return nil, domain.ErrSweepInProgress
	}
	defer c.state.Store(stateIdle)

	return c.sweep(ctx)
}

// TriggerSweep starts a sweep in the background. It returns false when a sweep
// is already running.
func (c *Coordinator) TriggerSweep(ctx context.Context) bool {
	if !c.state.CompareAndSwap(stateIdle, stateSweeping) {
		c.logger.Info("Sweep trigger dropped, sweep already in progress")
		return false
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer c.state.Store(stateIdle)

		if _, err := c.sweep(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, domain.ErrSweepInProgress) {
			c.logger.Error("Triggered sweep failed",
				slog.Any("error", err),
			)
		}
	}()
	return true
}

// Wait blocks until background sweeps started by TriggerSweep have finished
func (c *Coordinator) Wait() {
	c.background.Wait()
}

func (c *Coordinator) sweep(ctx context.Context) (*SweepResult, error) {
	if c.lease != nil {
		acquired, err := c.lease.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lease: %w", err)
		}
		if !acquired {
			c.logger.Info("Sweep dropped, lease held by another instance")
			return nil, domain.ErrSweepInProgress
		}
		defer func() {
			if err := c.lease.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("Failed to release sweep lease",
					slog.Any("error", err),
				)
			}
		}()
	}

	start := time.Now()

	sources, err := c.sources.ListActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}

	c.logger.Info("Sweep started",
		slog.Int("sources", len(sources)),
		slog.Int("fan_out", c.fanOut),
	)

	var failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(c.fanOut)

	for i := range sources {
		src := sources[i]
		g.Go(func() error {
			if err := c.processSource(ctx, &src); err != nil {
				failed.Add(1)
			}
			// one source failing never stops the others
			return nil
		})
	}
	_ = g.Wait()

	result := &SweepResult{
		Sources:   len(sources),
		Failed:    int(failed.Load()),
		Succeeded: len(sources) - int(failed.Load()),
		Duration:  time.Since(start),
	}

	c.logger.Info("Sweep finished",
		slog.Int("sources", result.Sources),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// processSource runs one source through start run, fetch, record and dispatch
func (c *Coordinator) processSource(ctx context.Context, src *domain.Source) error {
	start := time.Now()
	log := c.logger.With(slog.String("source", src.URL))

	run, err := c.ledger.StartRun(ctx, src)
	if err != nil {
		log.Error("Failed to start import run", slog.Any("error", err))
		return err
	}
	defer func() {
		c.ledger.RecordProcessingTime(run.ID, time.Since(start).Milliseconds())
	}()

	jobs, err := c.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		log.Warn("Source fetch failed",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
		c.fail(ctx, run.ID, domain.ReasonSourceFetch, err)
		return err
	}

	if err := c.ledger.RecordFetched(ctx, run.ID, len(jobs)); err != nil {
		log.Error("Failed to record fetched count",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
		c.fail(ctx, run.ID, domain.ReasonRunAccounting, err)
		return err
	}

	if err := c.sources.MarkFetched(ctx, src.ID, c.now()); err != nil {
		log.Warn("Failed to update source last fetched time",
			slog.String("source_id", src.ID),
			slog.Any("error", err),
		)
	}

	if _, err := c.dispatcher.Dispatch(ctx, jobs, src.URL, run.ID, c.batchSize); err != nil {
		log.Error("Batch dispatch failed",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
		c.fail(ctx, run.ID, domain.ReasonDispatch, err)
		return err
	}

	return nil
}

func (c *Coordinator) fail(ctx context.Context, runID, reason string, cause error) {
	err := c.ledger.MarkFailed(ctx, runID, domain.FailureReason{
		JobRef: domain.SourceJobRef,
		Reason: reason,
		Detail: cause.Error(),
	})
	if err != nil {
		c.logger.Error("Failed to mark import run failed",
			slog.String("run_id", runID),
			slog.Any("error", err),
		)
	}
}
