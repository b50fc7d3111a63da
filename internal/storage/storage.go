// Package storage names the full persistence surface shared by the PostgreSQL
// and in-memory backends.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/internal/storage/memory"
	"github.com/cuongbtq/feed-importer/internal/storage/postgres"
)

// Store is implemented by every backend
type Store interface {
	Ping(ctx context.Context) error

	ListSources(ctx context.Context) ([]domain.Source, error)
	ListActiveSources(ctx context.Context) ([]domain.Source, error)
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	CreateSource(ctx context.Context, src *domain.Source) error
	SeedSource(ctx context.Context, url, displayName string) (*domain.Source, error)
	UpdateSource(ctx context.Context, id string, update domain.SourceUpdate) (*domain.Source, error)
	DeleteSource(ctx context.Context, id string) error
	MarkFetched(ctx context.Context, id string, at time.Time) error

	UpsertJob(ctx context.Context, record *domain.JobRecord) (domain.UpsertResult, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.JobRecord, error)
	JobStats(ctx context.Context) (*domain.JobStats, error)

	CreateRun(ctx context.Context, run *domain.ImportRun) error
	SetRunFetched(ctx context.Context, runID string, count int, now time.Time) error
	IncrementRun(ctx context.Context, runID string, outcome domain.BatchOutcome, now time.Time) error
	CompleteRun(ctx context.Context, runID string, now time.Time) (bool, error)
	FailRun(ctx context.Context, runID string, reason domain.FailureReason, now time.Time) error
	SetProcessingTime(ctx context.Context, runID string, ms int64) error
	GetRun(ctx context.Context, runID string) (*domain.ImportRun, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ImportRun, error)
	RunStats(ctx context.Context) (*domain.RunStats, error)
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Storage)(nil)
)
