package api

import (
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *log.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(RequestLogger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		metrics := v1.Group("/metrics")
		{
			metrics.GET("/latest", handler.GetLatestMetrics)
			metrics.GET("/history", handler.GetMetricsHistory)
			metrics.GET("/trend", handler.GetMetricsTrend)
		}

		// Live reads served through the cache
		v1.GET("/repository", handler.GetRepository)
		v1.GET("/activity", handler.GetRecentActivity)

		// Scheduler control
		v1.GET("/scheduler/status", handler.GetSchedulerStatus)
		v1.POST("/scheduler", handler.ControlScheduler)
	}

	return router
}
