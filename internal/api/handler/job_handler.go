package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/dto"
	"github.com/cuongbtq/feed-importer/internal/domain"
)

// ListJobs handles GET /api/v1/jobs
// Lists imported jobs with optional filtering and pagination
func (h *Handler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.abort(c, http.StatusBadRequest, "Invalid query parameters", nil)
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.abort(c, http.StatusBadRequest, "Invalid cursor", nil)
		return
	}

	size := pageSize(req.PageSize)
	jobs, err := h.jobs.ListJobs(c.Request.Context(), domain.JobFilter{
		Source:   req.Source,
		Category: req.Category,
		Search:   req.Search,
		PageSize: size,
		Cursor:   cursor,
	})
	if err != nil {
		h.abort(c, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}

	hasMore := len(jobs) > size
	if hasMore {
		jobs = jobs[:size]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&domain.JobCursor{
			UpdatedAt: last.UpdatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// JobStats handles GET /api/v1/jobs/stats
func (h *Handler) JobStats(c *gin.Context) {
	stats, err := h.jobs.JobStats(c.Request.Context())
	if err != nil {
		h.abort(c, http.StatusInternalServerError, "Failed to get job stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
