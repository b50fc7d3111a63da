package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

const sourceColumns = `
	id, url, display_name, active, last_fetched_at,
	fetch_interval_hint, created_at, updated_at
`

// ListSources returns every source, newest first
func (s *Storage) ListSources(ctx context.Context) ([]domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at DESC, url`

	var sources []domain.Source
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// ListActiveSources returns active sources ordered by URL
func (s *Storage) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE active ORDER BY url`

	var sources []domain.Source
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	return sources, nil
}

// GetSource returns one source by id
func (s *Storage) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	var src domain.Source
	if err := s.db.GetContext(ctx, &src, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// CreateSource registers a new source; the URL must be unique
func (s *Storage) CreateSource(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.FetchIntervalHint == 0 {
		src.FetchIntervalHint = domain.DefaultFetchIntervalHint
	}

	query := `
		INSERT INTO sources (id, url, display_name, active, fetch_interval_hint)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowxContext(ctx, query,
		src.ID,
		src.URL,
		src.DisplayName,
		src.Active,
		src.FetchIntervalHint,
	).Scan(&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSourceExists
		}
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

// SeedSource inserts the URL or re-activates the existing source with that URL
func (s *Storage) SeedSource(ctx context.Context, url, displayName string) (*domain.Source, error) {
	query := `
		INSERT INTO sources (id, url, display_name, active, fetch_interval_hint)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (url) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    active = TRUE,
		    updated_at = NOW()
		RETURNING ` + sourceColumns

	var src domain.Source
	err := s.db.GetContext(ctx, &src, query,
		uuid.NewString(),
		url,
		displayName,
		domain.DefaultFetchIntervalHint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to seed source: %w", err)
	}
	return &src, nil
}

// UpdateSource changes the display name and/or active flag
func (s *Storage) UpdateSource(ctx context.Context, id string, update domain.SourceUpdate) (*domain.Source, error) {
	query := `
		UPDATE sources
		SET display_name = COALESCE($2::text, display_name),
		    active = COALESCE($3::boolean, active),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sourceColumns

	var src domain.Source
	if err := s.db.GetContext(ctx, &src, query, id, update.DisplayName, update.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to update source: %w", err)
	}
	return &src, nil
}

// DeleteSource removes a source; its runs and jobs are kept
func (s *Storage) DeleteSource(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return expectOneRow(result, domain.ErrSourceNotFound)
}

// MarkFetched stamps lastFetchedAt
func (s *Storage) MarkFetched(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE sources
		SET last_fetched_at = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark source fetched: %w", err)
	}
	return expectOneRow(result, domain.ErrSourceNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
