package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/dto"
	"github.com/cuongbtq/feed-importer/internal/domain"
)

// ListRuns handles GET /api/v1/import-runs
// Lists import runs newest first with keyset pagination
func (h *Handler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.abort(c, http.StatusBadRequest, "Invalid query parameters", nil)
		return
	}

	status := domain.RunStatus(req.Status)
	switch status {
	case "", domain.RunStatusPending, domain.RunStatusProcessing, domain.RunStatusCompleted, domain.RunStatusFailed:
	default:
		h.abort(c, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.abort(c, http.StatusBadRequest, "Invalid cursor", nil)
		return
	}

	size := pageSize(req.PageSize)
	runs, err := h.runs.ListRuns(c.Request.Context(), domain.RunFilter{
		Source:   req.Source,
		Status:   status,
		PageSize: size,
		Cursor:   cursor,
	})
	if err != nil {
		h.abort(c, http.StatusInternalServerError, "Failed to list import runs", err)
		return
	}

	hasMore := len(runs) > size
	if hasMore {
		runs = runs[:size]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = dto.NewRunDTO(&runs[i])
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&domain.RunCursor{
			StartedAt: last.StartedAt,
			RunID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// GetRun handles GET /api/v1/import-runs/:run_id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			h.abort(c, http.StatusNotFound, "Import run not found", nil)
			return
		}
		h.abort(c, http.StatusInternalServerError, "Failed to get import run", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewRunDTO(run))
}

// RunStats handles GET /api/v1/import-runs/stats/summary
func (h *Handler) RunStats(c *gin.Context) {
	stats, err := h.runs.RunStats(c.Request.Context())
	if err != nil {
		h.abort(c, http.StatusInternalServerError, "Failed to get import run stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
