// Package memory is a mutex-guarded in-process store. It backs the test suites
// and the "memory" storage driver for running the pipeline without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

type jobKey struct {
	externalID string
	source     string
}

// Store keeps sources, jobs and import runs in memory
type Store struct {
	mu        sync.RWMutex
	sources   map[string]*domain.Source
	jobs      map[jobKey]*domain.JobRecord
	runs      map[string]*domain.ImportRun
	nextJobID int64
	now       func() time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		sources: make(map[string]*domain.Source),
		jobs:    make(map[jobKey]*domain.JobRecord),
		runs:    make(map[string]*domain.ImportRun),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// ---- sources ----

// ListSources returns every source, newest first
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, *src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].CreatedAt.Equal(sources[j].CreatedAt) {
			return sources[i].URL < sources[j].URL
		}
		return sources[i].CreatedAt.After(sources[j].CreatedAt)
	})
	return sources, nil
}

// ListActiveSources returns active sources ordered by URL
func (s *Store) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if src.Active {
			sources = append(sources, *src)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].URL < sources[j].URL })
	return sources, nil
}

// GetSource returns one source by id
func (s *Store) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	c := *src
	return &c, nil
}

func (s *Store) findSourceByURL(url string) *domain.Source {
	for _, src := range s.sources {
		if src.URL == url {
			return src
		}
	}
	return nil
}

// CreateSource registers a new source; the URL must be unique
func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findSourceByURL(src.URL) != nil {
		return domain.ErrSourceExists
	}

	now := s.now()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.FetchIntervalHint == 0 {
		src.FetchIntervalHint = domain.DefaultFetchIntervalHint
	}
	src.CreatedAt = now
	src.UpdatedAt = now

	c := *src
	s.sources[src.ID] = &c
	return nil
}

// SeedSource inserts the URL or re-activates the existing source with that URL
func (s *Store) SeedSource(ctx context.Context, url, displayName string) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing := s.findSourceByURL(url); existing != nil {
		existing.DisplayName = displayName
		existing.Active = true
		existing.UpdatedAt = now
		c := *existing
		return &c, nil
	}

	src := &domain.Source{
		ID:                uuid.NewString(),
		URL:               url,
		DisplayName:       displayName,
		Active:            true,
		FetchIntervalHint: domain.DefaultFetchIntervalHint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.sources[src.ID] = src
	c := *src
	return &c, nil
}

// UpdateSource changes the display name and/or active flag
func (s *Store) UpdateSource(ctx context.Context, id string, update domain.SourceUpdate) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	update.Apply(src, s.now())
	c := *src
	return &c, nil
}

// DeleteSource removes a source; its runs and jobs are kept
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return domain.ErrSourceNotFound
	}
	delete(s.sources, id)
	return nil
}

// MarkFetched stamps lastFetchedAt
func (s *Store) MarkFetched(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return domain.ErrSourceNotFound
	}
	t := at
	src.LastFetchedAt = &t
	src.UpdatedAt = s.now()
	return nil
}

// ---- jobs ----

// UpsertJob replaces every field of the (externalId, source) record, inserting it when absent
func (s *Store) UpsertJob(ctx context.Context, record *domain.JobRecord) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := jobKey{externalID: record.ExternalID, source: record.Source}

	if existing, ok := s.jobs[key]; ok {
		replacement := *record
		replacement.ID = existing.ID
		replacement.CreatedAt = existing.CreatedAt
		replacement.UpdatedAt = now
		s.jobs[key] = &replacement
		return domain.UpsertResult{
			InsertKnown: true,
			CreatedAt:   replacement.CreatedAt,
			UpdatedAt:   replacement.UpdatedAt,
		}, nil
	}

	s.nextJobID++
	inserted := *record
	inserted.ID = s.nextJobID
	inserted.CreatedAt = now
	inserted.UpdatedAt = now
	s.jobs[key] = &inserted

	return domain.UpsertResult{
		Inserted:    true,
		InsertKnown: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetJob returns the record stored under (externalID, source)
func (s *Store) GetJob(ctx context.Context, externalID, source string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobKey{externalID: externalID, source: source}]
	if !ok {
		return nil, fmt.Errorf("job %s/%s not found", source, externalID)
	}
	c := *job
	return &c, nil
}

// ListJobs returns up to PageSize+1 jobs ordered by (updated_at, id) descending
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category := strings.ToLower(filter.Category)
	search := strings.ToLower(filter.Search)

	jobs := make([]domain.JobRecord, 0)
	for _, job := range s.jobs {
		if filter.Source != "" && job.Source != filter.Source {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(job.Category), category) {
			continue
		}
		if search != "" && !containsAny(search, job.Title, job.Description, job.Company) {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.UpdatedAt.After(c.UpdatedAt) || (job.UpdatedAt.Equal(c.UpdatedAt) && job.ID >= c.ID) {
				continue
			}
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].UpdatedAt.Equal(jobs[j].UpdatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})

	return limit(jobs, filter.PageSize), nil
}

// JobStats counts jobs, distinct sources and distinct non-empty categories
func (s *Store) JobStats(ctx context.Context) (*domain.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make(map[string]struct{})
	categories := make(map[string]struct{})
	for _, job := range s.jobs {
		sources[job.Source] = struct{}{}
		if job.Category != "" {
			categories[job.Category] = struct{}{}
		}
	}

	return &domain.JobStats{
		TotalJobs:     len(s.jobs),
		UniqueSources: len(sources),
		Categories:    len(categories),
	}, nil
}

// ---- import runs ----

// CreateRun stores a new run
func (s *Store) CreateRun(ctx context.Context, run *domain.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("import run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// SetRunFetched records the fetched total once
func (s *Store) SetRunFetched(ctx context.Context, runID string, count int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	return run.SetFetched(count, now)
}

// IncrementRun adds the outcome to the counters of a PROCESSING run
func (s *Store) IncrementRun(ctx context.Context, runID string, outcome domain.BatchOutcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	return run.Apply(outcome, now)
}

// CompleteRun moves the run to COMPLETED once every fetched job is accounted for
func (s *Store) CompleteRun(ctx context.Context, runID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, domain.ErrRunNotFound
	}
	if !run.ReadyToComplete() {
		return false, nil
	}
	return run.Complete(now), nil
}

// FailRun moves a non-terminal run to FAILED
func (s *Store) FailRun(ctx context.Context, runID string, reason domain.FailureReason, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	return run.Fail(reason, now)
}

// SetProcessingTime annotates the run
func (s *Store) SetProcessingTime(ctx context.Context, runID string, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	v := ms
	run.ProcessingTimeMs = &v
	return nil
}

// GetRun returns a copy of the run
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns returns up to PageSize+1 runs ordered by (started_at, id) descending
func (s *Store) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := strings.ToLower(filter.Source)

	runs := make([]domain.ImportRun, 0)
	for _, run := range s.runs {
		if source != "" && !containsAny(source, run.SourceName, run.SourceURL) {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if run.StartedAt.After(c.StartedAt) || (run.StartedAt.Equal(c.StartedAt) && run.ID >= c.RunID) {
				continue
			}
		}
		runs = append(runs, *run.Clone())
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return limit(runs, filter.PageSize), nil
}

// RunStats sums counters across every run
func (s *Store) RunStats(ctx context.Context) (*domain.RunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.RunStats{TotalRuns: len(s.runs)}
	for _, run := range s.runs {
		stats.TotalFetched += run.Fetched()
		stats.TotalImported += run.TotalImported
		stats.TotalNew += run.NewCount
		stats.TotalUpdated += run.UpdatedCount
		stats.TotalFailed += run.FailedCount
	}
	return stats, nil
}

func containsAny(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// limit keeps one row past pageSize so callers can tell whether another page exists
func limit[T any](rows []T, pageSize int) []T {
	if pageSize > 0 && len(rows) > pageSize+1 {
		return rows[:pageSize+1]
	}
	return rows
}
