package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/repopulse/repopulse/internal/cache"
	"github.com/repopulse/repopulse/internal/collector"
	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/scheduler"
	"github.com/repopulse/repopulse/internal/storage"
)

// cache keys for the read-through endpoints
const (
	cacheKeyLatest     = "metrics:latest"
	cacheKeyRepository = "repository"
)

// CacheTTLs holds the per-category lifetimes for cached responses
type CacheTTLs struct {
	Metadata time.Duration
	Activity time.Duration
	Metrics  time.Duration
}

// Handler handles API requests
type Handler struct {
	store     storage.Storage
	github    collector.GitHubClient
	scheduler scheduler.Scheduler
	cache     *cache.Cache
	ttls      CacheTTLs
	logger    *log.Logger
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, github collector.GitHubClient, sched scheduler.Scheduler, c *cache.Cache, ttls CacheTTLs, logger *log.Logger) *Handler {
	return &Handler{
		store:     store,
		github:    github,
		scheduler: sched,
		cache:     c,
		ttls:      ttls,
		logger:    logger,
	}
}

// GetLatestMetrics returns the most recent snapshot
// GET /api/v1/metrics/latest
func (h *Handler) GetLatestMetrics(c *gin.Context) {
	if cached, ok := h.cache.Get(cacheKeyLatest); ok {
		c.JSON(http.StatusOK, gin.H{
			"data": cached,
		})
		return
	}

	snapshot, err := h.store.GetLatestMetrics(c.Request.Context())
	if err != nil {
		// reads degrade to an empty response, the dashboard renders a
		// blank state instead of an error page
		h.logger.Warn("latest metrics read failed", "err", err)
		snapshot = nil
	}
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{
			"data":    nil,
			"message": "no data yet",
		})
		return
	}

	h.cache.Set(cacheKeyLatest, snapshot, h.ttls.Metrics)
	c.JSON(http.StatusOK, gin.H{
		"data": snapshot,
	})
}

// GetMetricsHistory returns snapshots in an inclusive date range, ascending
// GET /api/v1/metrics/history?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) GetMetricsHistory(c *gin.Context) {
	start, end := parseDateRange(c)

	snapshots, err := h.store.GetMetricsInRange(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Warn("metrics history read failed", "err", err)
		snapshots = nil
	}
	if snapshots == nil {
		snapshots = []*domain.MetricsSnapshot{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  snapshots,
		"count": len(snapshots),
	})
}

// GetMetricsTrend compares the newest snapshot against one from before the
// given window
// GET /api/v1/metrics/trend?days=30
func (h *Handler) GetMetricsTrend(c *gin.Context) {
	days := parseIntQuery(c, "days", 30)

	key := "metrics:trend:" + strconv.Itoa(days)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, gin.H{
			"data": cached,
		})
		return
	}

	trend, err := h.store.GetTimeRangeMetrics(c.Request.Context(), days)
	if err != nil {
		h.logger.Warn("metrics trend read failed", "err", err)
		trend = nil
	}
	if trend == nil {
		c.JSON(http.StatusOK, gin.H{
			"data":    nil,
			"message": "no data yet",
		})
		return
	}

	h.cache.Set(key, trend, h.ttls.Metrics)
	c.JSON(http.StatusOK, gin.H{
		"data": trend,
	})
}

// GetRepository returns the live repository overview
// GET /api/v1/repository
func (h *Handler) GetRepository(c *gin.Context) {
	if cached, ok := h.cache.Get(cacheKeyRepository); ok {
		c.JSON(http.StatusOK, gin.H{
			"data": cached,
		})
		return
	}

	overview, err := h.github.GetRepository(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	h.cache.Set(cacheKeyRepository, overview, h.ttls.Metadata)
	c.JSON(http.StatusOK, gin.H{
		"data": overview,
	})
}

// GetRecentActivity returns the most recent commits
// GET /api/v1/activity?limit=10
func (h *Handler) GetRecentActivity(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 10)

	key := "activity:" + strconv.Itoa(limit)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, gin.H{
			"data": cached,
		})
		return
	}

	commits, err := h.github.RecentCommits(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if commits == nil {
		commits = []*domain.CommitActivity{}
	}

	h.cache.Set(key, commits, h.ttls.Activity)
	c.JSON(http.StatusOK, gin.H{
		"data":  commits,
		"count": len(commits),
	})
}

// GetSchedulerStatus returns the scheduler counters, configuration, and health
// GET /api/v1/scheduler/status
func (h *Handler) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"stats":   h.scheduler.Stats(),
			"config":  h.scheduler.GetConfig(),
			"healthy": h.scheduler.IsHealthy(),
		},
	})
}

// schedulerCommand is the POST /api/v1/scheduler request body
type schedulerCommand struct {
	Action string                  `json:"action" binding:"required"`
	Config *scheduler.ConfigUpdate `json:"config,omitempty"`
}

// ControlScheduler starts, stops, reconfigures, or triggers the scheduler
// POST /api/v1/scheduler
func (h *Handler) ControlScheduler(c *gin.Context) {
	var cmd schedulerCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "BAD_REQUEST",
				"message": "request body must include an action",
			},
		})
		return
	}

	switch cmd.Action {
	case "start":
		if err := h.scheduler.Start(); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{"status": "started"},
		})
	case "stop":
		h.scheduler.Stop()
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{"status": "stopped"},
		})
	case "collect":
		snapshot, err := h.scheduler.CollectNow(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		h.cache.Delete(cacheKeyLatest)
		c.JSON(http.StatusOK, gin.H{
			"data": snapshot,
		})
	case "configure":
		if cmd.Config == nil {
			respondError(c, apperrors.NewBadRequestError("configure requires a config object"))
			return
		}
		cfg, err := h.scheduler.UpdateConfig(*cmd.Config)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data": cfg,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_ACTION",
				"message": "action must be one of: start, stop, collect, configure",
			},
		})
	}
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	status := "ok"

	storeHealth, err := h.store.GetHealthStatus(c.Request.Context())
	if err != nil {
		h.logger.Warn("store health check failed", "err", err)
		status = "degraded"
		storeHealth = &domain.StoreHealth{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"store":             storeHealth,
		"scheduler_healthy": h.scheduler.IsHealthy(),
	})
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// parseDateRange parses start/end query parameters, defaulting to the last
// 30 days. Unparsable values fall back to the defaults.
func parseDateRange(c *gin.Context) (string, string) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -30).Format(domain.SnapshotDateLayout)
	end := now.Format(domain.SnapshotDateLayout)

	if v := c.Query("start"); v != "" {
		if _, err := time.Parse(domain.SnapshotDateLayout, v); err == nil {
			start = v
		}
	}
	if v := c.Query("end"); v != "" {
		if _, err := time.Parse(domain.SnapshotDateLayout, v); err == nil {
			end = v
		}
	}
	return start, end
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeValidation:
			status = http.StatusUnprocessableEntity
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeNetwork, apperrors.ErrCodeUpstream:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
