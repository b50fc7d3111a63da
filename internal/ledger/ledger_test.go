package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/internal/storage/memory"
	"github.com/cuongbtq/feed-importer/shared/logger"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewLedger(store, logger.NewDefault().Logger), store
}

func startProcessingRun(t *testing.T, l *Ledger, fetched int) *domain.ImportRun {
	t.Helper()
	ctx := context.Background()

	run, err := l.StartRun(ctx, &domain.Source{URL: "https://jobicy.com/?feed=job_feed", DisplayName: "jobicy.com"})
	require.NoError(t, err)
	require.NoError(t, l.RecordFetched(ctx, run.ID, fetched))
	return run
}

func outcome(newCount, updated, failed int) domain.BatchOutcome {
	o := domain.BatchOutcome{NewCount: newCount, UpdatedCount: updated}
	for i := 0; i < failed; i++ {
		o.AddFailure(fmt.Sprintf("job-%d", i), domain.ReasonMissingTitle, domain.ReasonMissingTitle)
	}
	return o
}

func TestLedger_StartRun(t *testing.T) {
	l, _ := newTestLedger(t)

	run, err := l.StartRun(context.Background(), &domain.Source{URL: "https://www.higheredjobs.com/rss/articleFeed.cfm"})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusPending, run.Status)
	assert.Equal(t, "https://www.higheredjobs.com/rss/articleFeed.cfm", run.SourceName, "name falls back to url")
	assert.Nil(t, run.TotalFetched)
	assert.False(t, run.StartedAt.IsZero())
}

func TestLedger_RecordFetched(t *testing.T) {
	ctx := context.Background()

	t.Run("zero jobs completes immediately", func(t *testing.T) {
		l, _ := newTestLedger(t)
		run := startProcessingRun(t, l, 0)

		got, err := l.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.Equal(t, 0, got.Processed())
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("same value twice is a no-op", func(t *testing.T) {
		l, _ := newTestLedger(t)
		run := startProcessingRun(t, l, 10)

		require.NoError(t, l.RecordFetched(ctx, run.ID, 10))

		got, err := l.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusProcessing, got.Status)
		assert.Equal(t, 10, got.Fetched())
	})

	t.Run("different value conflicts", func(t *testing.T) {
		l, _ := newTestLedger(t)
		run := startProcessingRun(t, l, 10)

		err := l.RecordFetched(ctx, run.ID, 11)
		assert.ErrorIs(t, err, domain.ErrFetchedConflict)
	})

	t.Run("unknown run", func(t *testing.T) {
		l, _ := newTestLedger(t)
		err := l.RecordFetched(ctx, "missing", 1)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})
}

func TestLedger_ApplyBatchOutcome_CompletesAfterAllBatches(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	run := startProcessingRun(t, l, 250)

	completed, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(98, 2, 0))
	require.NoError(t, err)
	assert.False(t, completed)

	completed, err = l.ApplyBatchOutcome(ctx, run.ID, outcome(97, 1, 2))
	require.NoError(t, err)
	assert.False(t, completed)

	completed, err = l.ApplyBatchOutcome(ctx, run.ID, outcome(45, 2, 3))
	require.NoError(t, err)
	assert.True(t, completed)

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 240, got.NewCount)
	assert.Equal(t, 5, got.UpdatedCount)
	assert.Equal(t, 5, got.FailedCount)
	assert.Equal(t, 245, got.TotalImported)
	assert.Len(t, got.FailureReasons, 5)
}

func TestLedger_ApplyBatchOutcome_TerminalRunDiscards(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	run := startProcessingRun(t, l, 10)

	require.NoError(t, l.MarkFailed(ctx, run.ID, domain.FailureReason{
		JobRef: domain.SourceJobRef,
		Reason: domain.ReasonDispatch,
		Detail: "broker down",
	}))

	completed, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(10, 0, 0))
	assert.ErrorIs(t, err, domain.ErrRunTerminal)
	assert.False(t, completed)

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, 0, got.Processed())
	require.Len(t, got.FailureReasons, 1)
	assert.Equal(t, domain.ReasonDispatch, got.FailureReasons[0].Reason)
}

func TestLedger_ApplyBatchOutcome_OverflowIsDiscarded(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	run := startProcessingRun(t, l, 150)

	_, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(100, 0, 0))
	require.NoError(t, err)

	// redelivered batch
	completed, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(0, 100, 0))
	assert.ErrorIs(t, err, domain.ErrOutcomeOverflow)
	assert.False(t, completed)

	completed, err = l.ApplyBatchOutcome(ctx, run.ID, outcome(50, 0, 0))
	require.NoError(t, err)
	assert.True(t, completed)

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, got.Processed())
	assert.LessOrEqual(t, got.Processed(), got.Fetched())
}

func TestLedger_ApplyBatchOutcome_ConcurrentIsCommutative(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	const batches = 50
	run := startProcessingRun(t, l, batches*10)

	var completions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			completed, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(i%7, 10-i%7-1, 1))
			assert.NoError(t, err)
			if completed {
				completions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)

	wantNew := 0
	for i := 0; i < batches; i++ {
		wantNew += i % 7
	}
	assert.Equal(t, wantNew, got.NewCount)
	assert.Equal(t, batches*9-wantNew, got.UpdatedCount)
	assert.Equal(t, batches, got.FailedCount)
	assert.Len(t, got.FailureReasons, batches)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, int32(1), completions.Load(), "exactly one caller observes completion")
}

func TestLedger_SimultaneousClosingBatches(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		l, _ := newTestLedger(t)
		run := startProcessingRun(t, l, 20)

		var completions atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				completed, err := l.ApplyBatchOutcome(ctx, run.ID, outcome(10, 0, 0))
				assert.NoError(t, err)
				if completed {
					completions.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), completions.Load())
	}
}

func TestLedger_MarkFailed(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	run, err := l.StartRun(ctx, &domain.Source{URL: "https://unreachable.invalid/feed"})
	require.NoError(t, err)

	require.NoError(t, l.MarkFailed(ctx, run.ID, domain.FailureReason{
		JobRef: domain.SourceJobRef,
		Reason: domain.ReasonSourceFetch,
		Detail: "dial tcp: no such host",
	}))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Nil(t, got.TotalFetched)
	require.Len(t, got.FailureReasons, 1)
	assert.Equal(t, domain.SourceJobRef, got.FailureReasons[0].JobRef)

	err = l.MarkFailed(ctx, run.ID, domain.FailureReason{Reason: "again"})
	assert.ErrorIs(t, err, domain.ErrRunTerminal)

	err = l.RecordFetched(ctx, run.ID, 5)
	assert.ErrorIs(t, err, domain.ErrRunTerminal)
}

type failingAnnotationStore struct {
	*memory.Store
	calls atomic.Int32
}

func (s *failingAnnotationStore) SetProcessingTime(ctx context.Context, runID string, ms int64) error {
	s.calls.Add(1)
	return errors.New("database unavailable")
}

func TestLedger_RecordProcessingTime(t *testing.T) {
	ctx := context.Background()

	t.Run("annotates in background", func(t *testing.T) {
		l, _ := newTestLedger(t)
		run := startProcessingRun(t, l, 1)

		l.RecordProcessingTime(run.ID, 1234)
		l.Wait()

		got, err := l.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ProcessingTimeMs)
		assert.Equal(t, int64(1234), *got.ProcessingTimeMs)
	})

	t.Run("failures are logged only", func(t *testing.T) {
		store := &failingAnnotationStore{Store: memory.NewStore()}
		l := NewLedger(store, logger.NewDefault().Logger)

		done := make(chan struct{})
		go func() {
			l.RecordProcessingTime("run-1", time.Second.Milliseconds())
			l.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("RecordProcessingTime did not finish")
		}
		assert.Equal(t, int32(1), store.calls.Load())
	})
}
