package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/internal/ledger"
	"github.com/cuongbtq/feed-importer/internal/storage/memory"
	"github.com/cuongbtq/feed-importer/shared/logger"
)

const testSource = "https://jobicy.com/?feed=job_feed"

type processorFixture struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	processor *Processor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	log := logger.NewDefault().Logger
	store := memory.NewStore()
	l := ledger.NewLedger(store, log)
	return &processorFixture{
		store:     store,
		ledger:    l,
		processor: NewProcessor(store, l, log),
	}
}

func (f *processorFixture) startRun(t *testing.T, fetched int) string {
	t.Helper()
	ctx := context.Background()
	run, err := f.ledger.StartRun(ctx, &domain.Source{URL: testSource})
	require.NoError(t, err)
	require.NoError(t, f.ledger.RecordFetched(ctx, run.ID, fetched))
	return run.ID
}

func makeBatch(runID string, n int) domain.BatchWorkItem {
	jobs := make([]domain.CanonicalJob, n)
	for i := range jobs {
		jobs[i] = domain.CanonicalJob{
			ExternalID: fmt.Sprintf("job-%d", i),
			Title:      fmt.Sprintf("Job %d", i),
			URL:        fmt.Sprintf("https://jobicy.com/jobs/%d", i),
		}
	}
	return domain.BatchWorkItem{Jobs: jobs, SourceKey: testSource, RunID: runID, BatchCount: 1}
}

func TestProcessBatch_MissingTitle(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	runID := f.startRun(t, 10)

	item := makeBatch(runID, 10)
	item.Jobs[4].Title = ""

	outcome, err := f.processor.ProcessBatch(ctx, item)
	require.NoError(t, err)

	assert.Equal(t, 9, outcome.NewCount)
	assert.Equal(t, 0, outcome.UpdatedCount)
	assert.Equal(t, 1, outcome.FailedCount)
	require.Len(t, outcome.FailureReasons, 1)
	assert.Equal(t, domain.FailureReason{
		JobRef: "job-4",
		Reason: domain.ReasonMissingTitle,
		Detail: "title is required",
	}, outcome.FailureReasons[0])

	run, err := f.ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 9, run.TotalImported)
}

func TestProcessBatch_MissingExternalID(t *testing.T) {
	f := newProcessorFixture(t)

	item := makeBatch("", 2)
	item.Jobs[0].ExternalID = ""

	outcome, err := f.processor.ProcessBatch(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.NewCount)
	require.Len(t, outcome.FailureReasons, 1)
	assert.Equal(t, domain.UnknownJobRef, outcome.FailureReasons[0].JobRef)
	assert.Equal(t, domain.ReasonMissingExternalID, outcome.FailureReasons[0].Reason)
}

func TestProcessBatch_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	runID := f.startRun(t, 5)
	item := makeBatch(runID, 5)

	first, err := f.processor.ProcessBatch(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 5, first.NewCount)

	before := make(map[string]domain.JobRecord)
	for _, job := range item.Jobs {
		rec, err := f.store.GetJob(ctx, job.ExternalID, testSource)
		require.NoError(t, err)
		before[job.ExternalID] = *rec
	}

	second, err := f.processor.ProcessBatch(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, 5, second.UpdatedCount)

	stats, err := f.store.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalJobs)

	for _, job := range item.Jobs {
		rec, err := f.store.GetJob(ctx, job.ExternalID, testSource)
		require.NoError(t, err)
		want := before[job.ExternalID]
		assert.Equal(t, want.ID, rec.ID)
		assert.Equal(t, want.Title, rec.Title)
		assert.Equal(t, want.CreatedAt, rec.CreatedAt)
	}

	run, err := f.ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 5, run.Processed(), "second outcome hits a terminal run and is discarded")
}

func TestProcessBatch_UpdateClassification(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)

	_, err := f.processor.ProcessBatch(ctx, makeBatch("", 3))
	require.NoError(t, err)

	item := makeBatch("", 5)
	item.Jobs[0].Title = "Renamed"

	outcome, err := f.processor.ProcessBatch(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.NewCount)
	assert.Equal(t, 3, outcome.UpdatedCount)

	rec, err := f.store.GetJob(ctx, "job-0", testSource)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Title)
}

type scriptedJobStore struct {
	*memory.Store
	fail map[string]error
}

func (s *scriptedJobStore) UpsertJob(ctx context.Context, record *domain.JobRecord) (domain.UpsertResult, error) {
	if err, ok := s.fail[record.ExternalID]; ok {
		return domain.UpsertResult{}, err
	}
	return s.Store.UpsertJob(ctx, record)
}

func TestProcessBatch_StorageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected record is a per-job failure", func(t *testing.T) {
		f := newProcessorFixture(t)
		runID := f.startRun(t, 3)
		store := &scriptedJobStore{Store: f.store, fail: map[string]error{
			"job-1": fmt.Errorf("%w: invalid byte sequence", domain.ErrJobRejected),
		}}
		processor := NewProcessor(store, f.ledger, logger.NewDefault().Logger)

		outcome, err := processor.ProcessBatch(ctx, makeBatch(runID, 3))
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.NewCount)
		require.Len(t, outcome.FailureReasons, 1)
		assert.Equal(t, domain.ReasonJobRejected, outcome.FailureReasons[0].Reason)
		assert.Equal(t, "job-1", outcome.FailureReasons[0].JobRef)
	})

	t.Run("infrastructure error aborts the batch", func(t *testing.T) {
		f := newProcessorFixture(t)
		runID := f.startRun(t, 3)
		store := &scriptedJobStore{Store: f.store, fail: map[string]error{
			"job-2": errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
		}}
		processor := NewProcessor(store, f.ledger, logger.NewDefault().Logger)

		_, err := processor.ProcessBatch(ctx, makeBatch(runID, 3))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))

		run, err := f.ledger.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, 0, run.Processed(), "nothing reported for an aborted batch")
		assert.Equal(t, domain.RunStatusProcessing, run.Status)
	})

	t.Run("canceled context aborts the batch", func(t *testing.T) {
		f := newProcessorFixture(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.processor.ProcessBatch(canceled, makeBatch("", 2))
		assert.True(t, domain.IsRetryable(err))
	})
}

func TestProcessBatch_LedgerErrorDoesNotFailBatch(t *testing.T) {
	f := newProcessorFixture(t)

	outcome, err := f.processor.ProcessBatch(context.Background(), makeBatch("missing-run", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.NewCount)
}

func TestHandleExhausted(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	runID := f.startRun(t, 250)

	_, err := f.processor.ProcessBatch(ctx, makeBatch(runID, 100))
	require.NoError(t, err)
	_, err = f.processor.ProcessBatch(ctx, makeBatch(runID, 100))
	require.NoError(t, err)

	outcome := f.processor.HandleExhausted(ctx, makeBatch(runID, 50), errors.New("database unavailable"))
	assert.Equal(t, 50, outcome.FailedCount)
	assert.Equal(t, domain.ReasonRetriesExhausted, outcome.FailureReasons[0].Reason)
	assert.Equal(t, "database unavailable", outcome.FailureReasons[0].Detail)

	run, err := f.ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 100, run.NewCount)
	assert.Equal(t, 100, run.UpdatedCount)
	assert.Equal(t, 50, run.FailedCount)
}
