package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/feed-importer/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.NewHandler(deps)

	r.GET("/health", h.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		sources := v1.Group("/sources")
		{
			sources.GET("", h.ListSources)
			sources.POST("", h.CreateSource)
			sources.PUT("/:source_id", h.UpdateSource)
			sources.DELETE("/:source_id", h.DeleteSource)
		}

		runs := v1.Group("/import-runs")
		{
			runs.GET("", h.ListRuns)
			// registered before /:run_id so "stats" is never taken as an id
			runs.GET("/stats/summary", h.RunStats)
			runs.GET("/:run_id", h.GetRun)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobs)
			jobs.GET("/stats", h.JobStats)
		}

		// POST /api/v1/sweeps - start a sweep now
		v1.POST("/sweeps", h.TriggerSweep)
	}

	return r
}
