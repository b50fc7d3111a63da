package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

// UpsertJob replaces every field of the (external_id, source) row, inserting it
// when absent. xmax is zero only for a freshly inserted tuple, which gives the
// insert flag without a second round trip. Rows Postgres refuses on their own
// merits come back as domain.ErrJobRejected.
func (s *Storage) UpsertJob(ctx context.Context, record *domain.JobRecord) (domain.UpsertResult, error) {
	query := `
		INSERT INTO jobs (
			external_id, source, title, description, company, location,
			category, job_type, salary, url, published_at, raw
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (external_id, source) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    company = EXCLUDED.company,
		    location = EXCLUDED.location,
		    category = EXCLUDED.category,
		    job_type = EXCLUDED.job_type,
		    salary = EXCLUDED.salary,
		    url = EXCLUDED.url,
		    published_at = EXCLUDED.published_at,
		    raw = EXCLUDED.raw,
		    updated_at = NOW()
		RETURNING (xmax = 0) AS inserted, created_at, updated_at
	`

	raw := string(record.Raw)
	if raw == "" {
		raw = "{}"
	}

	var row struct {
		Inserted  bool      `db:"inserted"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := s.db.QueryRowxContext(ctx, query,
		record.ExternalID,
		record.Source,
		record.Title,
		record.Description,
		record.Company,
		record.Location,
		record.Category,
		record.JobType,
		record.Salary,
		record.URL,
		record.PublishedAt,
		raw,
	).StructScan(&row)
	if err != nil {
		if isDataError(err) {
			return domain.UpsertResult{}, rejectJob(err)
		}
		return domain.UpsertResult{}, fmt.Errorf("failed to upsert job: %w", err)
	}

	return domain.UpsertResult{
		Inserted:    row.Inserted,
		InsertKnown: true,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

const jobColumns = `
	id, external_id, source, title, description, company, location,
	category, job_type, salary, url, published_at, raw, created_at, updated_at
`

// ListJobs returns up to PageSize+1 jobs ordered by (updated_at, id) descending
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, filter.Source)
		argIdx++
	}

	if filter.Category != "" {
		query += fmt.Sprintf(" AND category ILIKE $%d", argIdx)
		args = append(args, "%"+filter.Category+"%")
		argIdx++
	}

	if filter.Search != "" {
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d OR company ILIKE $%d)", argIdx, argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (updated_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.UpdatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY updated_at DESC, id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.JobRecord
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// JobStats counts jobs, distinct sources and distinct non-empty categories
func (s *Storage) JobStats(ctx context.Context) (*domain.JobStats, error) {
	query := `
		SELECT COUNT(*) AS total_jobs,
		       COUNT(DISTINCT source) AS unique_sources,
		       COUNT(DISTINCT NULLIF(category, '')) AS categories
		FROM jobs
	`

	var stats domain.JobStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &stats, nil
}
