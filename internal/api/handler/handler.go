package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/dto"
	"github.com/cuongbtq/feed-importer/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SourceStore manages feed sources
type SourceStore interface {
	ListSources(ctx context.Context) ([]domain.Source, error)
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	CreateSource(ctx context.Context, src *domain.Source) error
	UpdateSource(ctx context.Context, id string, update domain.SourceUpdate) (*domain.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

// RunStore reads the import run ledger
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*domain.ImportRun, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ImportRun, error)
	RunStats(ctx context.Context) (*domain.RunStats, error)
}

// JobStore reads persisted jobs
type JobStore interface {
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.JobRecord, error)
	JobStats(ctx context.Context) (*domain.JobStats, error)
}

// SweepTrigger starts sweeps on demand
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) bool
	Sweeping() bool
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports whether the message broker connection is up
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Sources     SourceStore
	Runs        RunStore
	Jobs        JobStore
	Sweeps      SweepTrigger
	Storage     Pinger
	Broker      BrokerStatus
}

// Handler serves the admin API
type Handler struct {
	logger      *slog.Logger
	serviceName string
	sources     SourceStore
	runs        RunStore
	jobs        JobStore
	sweeps      SweepTrigger
	storage     Pinger
	broker      BrokerStatus
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		logger:      deps.Logger,
		serviceName: deps.ServiceName,
		sources:     deps.Sources,
		runs:        deps.Runs,
		jobs:        deps.Jobs,
		sweeps:      deps.Sweeps,
		storage:     deps.Storage,
		broker:      deps.Broker,
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.storage != nil {
		if err := h.storage.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.serviceName,
			})
			return
		}
	}

	if h.broker != nil && !h.broker.IsConnected() {
		h.logger.Error("Health check failed", slog.String("error", "broker disconnected"))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": h.serviceName,
			"broker":  "disconnected",
		})
		return
	}

	resp := gin.H{
		"status":   "healthy",
		"service":  h.serviceName,
		"sweeping": h.sweeps != nil && h.sweeps.Sweeping(),
	}
	if h.broker != nil {
		resp["broker"] = "connected"
	}
	c.JSON(http.StatusOK, resp)
}

func pageSize(requested int) int {
	if requested <= 0 {
		return defaultPageSize
	}
	if requested > maxPageSize {
		return maxPageSize
	}
	return requested
}

func (h *Handler) abort(c *gin.Context, status int, message string, err error) {
	if err != nil {
		h.logger.Error(message,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, dto.ErrorResponse{Error: message})
}
