package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/dto"
	"github.com/cuongbtq/feed-importer/internal/domain"
)

// ListSources handles GET /api/v1/sources
func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		h.abort(c, http.StatusInternalServerError, "Failed to list sources", err)
		return
	}

	resp := dto.ListSourcesResponse{Sources: make([]dto.SourceDTO, len(sources))}
	for i := range sources {
		resp.Sources[i] = dto.NewSourceDTO(&sources[i])
	}

	c.JSON(http.StatusOK, resp)
}

// CreateSource handles POST /api/v1/sources
func (h *Handler) CreateSource(c *gin.Context) {
	var req dto.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		h.abort(c, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	url := strings.TrimSpace(req.URL)
	src := &domain.Source{
		URL:         url,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Active:      true,
	}
	if src.DisplayName == "" {
		src.DisplayName = domain.DisplayNameFromURL(url)
	}
	if req.Active != nil {
		src.Active = *req.Active
	}

	if err := h.sources.CreateSource(c.Request.Context(), src); err != nil {
		if errors.Is(err, domain.ErrSourceExists) {
			h.abort(c, http.StatusConflict, "Source already exists", nil)
			return
		}
		h.abort(c, http.StatusInternalServerError, "Failed to create source", err)
		return
	}

	h.logger.Info("Source created",
		slog.String("source_id", src.ID),
		slog.String("url", src.URL),
	)

	c.JSON(http.StatusCreated, dto.NewSourceDTO(src))
}

// UpdateSource handles PUT /api/v1/sources/:source_id
func (h *Handler) UpdateSource(c *gin.Context) {
	sourceID := c.Param("source_id")

	var req dto.UpdateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		h.abort(c, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	src, err := h.sources.UpdateSource(c.Request.Context(), sourceID, domain.SourceUpdate{
		DisplayName: req.DisplayName,
		Active:      req.Active,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			h.abort(c, http.StatusNotFound, "Source not found", nil)
			return
		}
		h.abort(c, http.StatusInternalServerError, "Failed to update source", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSourceDTO(src))
}

// DeleteSource handles DELETE /api/v1/sources/:source_id
func (h *Handler) DeleteSource(c *gin.Context) {
	sourceID := c.Param("source_id")

	if err := h.sources.DeleteSource(c.Request.Context(), sourceID); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			h.abort(c, http.StatusNotFound, "Source not found", nil)
			return
		}
		h.abort(c, http.StatusInternalServerError, "Failed to delete source", err)
		return
	}

	h.logger.Info("Source deleted", slog.String("source_id", sourceID))
	c.Status(http.StatusNoContent)
}
