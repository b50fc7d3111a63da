package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

const runColumns = `
	id, source_url, source_name, started_at, total_fetched, total_imported,
	new_count, updated_count, failed_count, failure_reasons, status,
	processing_time_ms, finished_at, updated_at
`

// CreateRun inserts a new run
func (s *Storage) CreateRun(ctx context.Context, run *domain.ImportRun) error {
	query := `
		INSERT INTO import_runs (
			id, source_url, source_name, started_at, failure_reasons, status, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.SourceURL,
		run.SourceName,
		run.StartedAt,
		run.FailureReasons,
		run.Status,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

// SetRunFetched records the fetched total once. A zero total closes the run.
func (s *Storage) SetRunFetched(ctx context.Context, runID string, count int, now time.Time) error {
	query := `
		UPDATE import_runs
		SET total_fetched = $2::integer,
		    status = CASE WHEN $2::integer = 0 THEN $4 ELSE $5 END,
		    finished_at = CASE WHEN $2::integer = 0 THEN $3::timestamptz ELSE NULL END,
		    updated_at = $3::timestamptz
		WHERE id = $1
		  AND status = $6
		  AND total_fetched IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		runID,
		count,
		now,
		domain.RunStatusCompleted,
		domain.RunStatusProcessing,
		domain.RunStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to set total fetched: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.TotalFetched != nil {
		if *run.TotalFetched == count {
			return nil
		}
		return fmt.Errorf("%w: have %d, got %d", domain.ErrFetchedConflict, *run.TotalFetched, count)
	}
	return domain.ErrRunTerminal
}

// IncrementRun adds the outcome to a PROCESSING run in one conditional
// statement. Concurrent workers never read-modify-write the counters.
func (s *Storage) IncrementRun(ctx context.Context, runID string, outcome domain.BatchOutcome, now time.Time) error {
	query := `
		UPDATE import_runs
		SET new_count = new_count + $2,
		    updated_count = updated_count + $3,
		    failed_count = failed_count + $4,
		    total_imported = total_imported + $5,
		    failure_reasons = failure_reasons || $6::jsonb,
		    updated_at = $7
		WHERE id = $1
		  AND status = $8
		  AND new_count + updated_count + failed_count + $9 <= total_fetched
	`

	reasons := domain.FailureReasons(outcome.FailureReasons)
	result, err := s.db.ExecContext(ctx, query,
		runID,
		outcome.NewCount,
		outcome.UpdatedCount,
		outcome.FailedCount,
		outcome.NewCount+outcome.UpdatedCount,
		reasons,
		now,
		domain.RunStatusProcessing,
		outcome.Total(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment import run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusProcessing {
		return domain.ErrRunTerminal
	}
	return domain.ErrOutcomeOverflow
}

// CompleteRun moves the run to COMPLETED once every fetched job is accounted
// for. Only the caller whose statement flips the status gets true.
func (s *Storage) CompleteRun(ctx context.Context, runID string, now time.Time) (bool, error) {
	query := `
		UPDATE import_runs
		SET status = $2,
		    finished_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
		  AND total_fetched > 0
		  AND new_count + updated_count + failed_count >= total_fetched
	`

	result, err := s.db.ExecContext(ctx, query,
		runID,
		domain.RunStatusCompleted,
		now,
		domain.RunStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete import run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// FailRun moves a non-terminal run to FAILED and appends the reason
func (s *Storage) FailRun(ctx context.Context, runID string, reason domain.FailureReason, now time.Time) error {
	query := `
		UPDATE import_runs
		SET status = $2,
		    failure_reasons = failure_reasons || $3::jsonb,
		    finished_at = $4,
		    updated_at = $4
		WHERE id = $1
		  AND status IN ($5, $6)
	`

	result, err := s.db.ExecContext(ctx, query,
		runID,
		domain.RunStatusFailed,
		domain.FailureReasons{reason},
		now,
		domain.RunStatusPending,
		domain.RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark import run failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return domain.ErrRunTerminal
}

// SetProcessingTime annotates the run
func (s *Storage) SetProcessingTime(ctx context.Context, runID string, ms int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET processing_time_ms = $2, updated_at = NOW() WHERE id = $1`,
		runID, ms,
	)
	if err != nil {
		return fmt.Errorf("failed to set processing time: %w", err)
	}
	return expectOneRow(result, domain.ErrRunNotFound)
}

// GetRun returns one run by id
func (s *Storage) GetRun(ctx context.Context, runID string) (*domain.ImportRun, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE id = $1`

	var run domain.ImportRun
	if err := s.db.GetContext(ctx, &run, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	return &run, nil
}

// ListRuns returns up to PageSize+1 runs ordered by (started_at, id) descending
func (s *Storage) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ImportRun, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(" AND (source_name ILIKE $%d OR source_url ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+filter.Source+"%")
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY started_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []domain.ImportRun
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	return runs, nil
}

// RunStats sums counters across every run
func (s *Storage) RunStats(ctx context.Context) (*domain.RunStats, error) {
	query := `
		SELECT COUNT(*) AS total_runs,
		       COALESCE(SUM(total_fetched), 0) AS total_fetched,
		       COALESCE(SUM(total_imported), 0) AS total_imported,
		       COALESCE(SUM(new_count), 0) AS total_new,
		       COALESCE(SUM(updated_count), 0) AS total_updated,
		       COALESCE(SUM(failed_count), 0) AS total_failed
		FROM import_runs
	`

	var stats domain.RunStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get import run stats: %w", err)
	}
	return &stats, nil
}
