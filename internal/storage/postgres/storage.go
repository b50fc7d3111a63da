// Package postgres implements source, job and import run persistence on
// PostgreSQL through sqlx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/feed-importer/internal/domain"
	"github.com/cuongbtq/feed-importer/shared/postgresql"
)

//go:embed schema.sql
var Schema string

// Storage handles all database operations for the pipeline
type Storage struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(client *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

// Migrate applies the embedded schema
func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.client.ApplySchema(ctx, Schema); err != nil {
		return err
	}
	s.logger.Info("Database schema applied")
	return nil
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

// isDataError reports whether Postgres refused the statement because of the
// row itself (class 22 data exception, class 23 integrity violation) rather
// than because the database is unavailable
func isDataError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// rejectJob marks a per-row failure so the worker records it instead of retrying the batch
func rejectJob(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w: %s", domain.ErrJobRejected, pqErr.Message)
	}
	return fmt.Errorf("%w: %v", domain.ErrJobRejected, err)
}
