package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/dto"
)

// TriggerSweep handles POST /api/v1/sweeps
// Starts a sweep in the background; started is false when one is already running
func (h *Handler) TriggerSweep(c *gin.Context) {
	started := h.sweeps.TriggerSweep(c.Request.Context())

	h.logger.Info("Manual sweep requested",
		slog.Bool("started", started),
	)

	c.JSON(http.StatusAccepted, dto.SweepResponse{Started: started})
}
