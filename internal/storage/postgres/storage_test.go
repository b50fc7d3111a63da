package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/logger"
	"github.com/cuongbtq/feed-importer/shared/postgresql"
)

func TestIsDataError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "invalid json", err: &pq.Error{Code: "22P02"}, want: true},
		{name: "null byte in text", err: &pq.Error{Code: "22021"}, want: true},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, want: false},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, want: false},
		{name: "wrapped data error", err: fmt.Errorf("exec: %w", &pq.Error{Code: "23502"}), want: true},
		{name: "plain error", err: errors.New("driver: bad connection"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDataError(tt.err))
		})
	}
}

func TestRejectJob(t *testing.T) {
	err := rejectJob(&pq.Error{Code: "22P02", Message: "invalid input syntax for type json"})
	assert.ErrorIs(t, err, domain.ErrJobRejected)
	assert.Contains(t, err.Error(), "invalid input syntax")
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS import_runs")
	assert.Contains(t, Schema, "UNIQUE (external_id, source)")
}

// newIntegrationStorage connects to the database named by TEST_POSTGRES_HOST and friends
func newIntegrationStorage(t *testing.T) *Storage {
	t.Helper()

	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set, skipping PostgreSQL integration test")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT"))
	if port == 0 {
		port = 5432
	}

	log := logger.NewDefault().Logger
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:         host,
		Port:         port,
		User:         os.Getenv("TEST_POSTGRES_USER"),
		Password:     os.Getenv("TEST_POSTGRES_PASSWORD"),
		Database:     os.Getenv("TEST_POSTGRES_DB"),
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	storage := NewStorage(client, log)
	require.NoError(t, storage.Migrate(context.Background()))
	return storage
}

func TestIntegration_UpsertJob(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()

	source := "https://example.test/" + uuid.NewString()
	record := &domain.JobRecord{
		ExternalID:  "job-1",
		Source:      source,
		Title:       "Backend Engineer",
		PublishedAt: time.Now().UTC(),
		Raw:         []byte(`{"id":"job-1"}`),
	}

	first, err := s.UpsertJob(ctx, record)
	require.NoError(t, err)
	assert.True(t, first.IsNew())

	record.Title = "Senior Backend Engineer"
	second, err := s.UpsertJob(ctx, record)
	require.NoError(t, err)
	assert.False(t, second.IsNew())

	jobs, err := s.ListJobs(ctx, domain.JobFilter{Source: source, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Senior Backend Engineer", jobs[0].Title)

	record.Raw = []byte(`not json`)
	_, err = s.UpsertJob(ctx, record)
	assert.ErrorIs(t, err, domain.ErrJobRejected)
}

func TestIntegration_RunLifecycle(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := &domain.ImportRun{
		ID:         uuid.NewString(),
		SourceURL:  "https://example.test/feed",
		SourceName: "example.test",
		StartedAt:  now,
		Status:     domain.RunStatusPending,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.SetRunFetched(ctx, run.ID, 40, now))
	require.NoError(t, s.SetRunFetched(ctx, run.ID, 40, now))
	assert.ErrorIs(t, s.SetRunFetched(ctx, run.ID, 41, now), domain.ErrFetchedConflict)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		completions int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := domain.BatchOutcome{NewCount: 9}
			outcome.AddFailure(fmt.Sprintf("job-%d", i), domain.ReasonMissingTitle, "")

			assert.NoError(t, s.IncrementRun(ctx, run.ID, outcome, time.Now().UTC()))
			completed, err := s.CompleteRun(ctx, run.ID, time.Now().UTC())
			assert.NoError(t, err)
			if completed {
				mu.Lock()
				completions++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, completions)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 36, got.NewCount)
	assert.Equal(t, 4, got.FailedCount)
	assert.Len(t, got.FailureReasons, 4)

	err = s.IncrementRun(ctx, run.ID, domain.BatchOutcome{NewCount: 1}, now)
	assert.ErrorIs(t, err, domain.ErrRunTerminal)
}
