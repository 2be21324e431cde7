package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/service"
)

// BacklogRunner retries placeholders and backfills embeddings.
type BacklogRunner interface {
	Run(ctx context.Context) (*service.ReprocessStats, error)
}

// AdminHandler exposes maintenance jobs.
type AdminHandler struct {
	runner BacklogRunner

	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.ReprocessStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - runner: reprocess job.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(runner BacklogRunner) *AdminHandler {
	return &AdminHandler{runner: runner}
}

// ReprocessResponse represents the reprocess API response.
type ReprocessResponse struct {
	Message string                  `json:"message"`
	Stats   *service.ReprocessStats `json:"stats,omitempty"`
}

// ReprocessStatusResponse represents the reprocess job status.
type ReprocessStatusResponse struct {
	IsRunning     bool                    `json:"is_running"`
	LastRunTime   string                  `json:"last_run_time,omitempty"`
	LastRunStatus string                  `json:"last_run_status,omitempty"`
	CurrentStats  *service.ReprocessStats `json:"current_stats,omitempty"`
}

// TriggerReprocess handles POST /admin/reprocess.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerReprocess(c *gin.Context) {
	ctx := c.Request.Context()

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Reprocess request rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "Reprocess is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting reprocess: client_ip=%s", c.ClientIP())

	// Keep running if the HTTP client gives up.
	startTime := time.Now()
	stats, err := h.runner.Run(context.WithoutCancel(ctx))
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Reprocess failed: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.Analyzed + stats.Embedded,
	}).Info(ctx, "Reprocess completed: pending=%d, analyzed=%d, embedded=%d, failed=%d",
		stats.Pending, stats.Analyzed, stats.Embedded, stats.FailedItems)

	c.JSON(http.StatusOK, ReprocessResponse{
		Message: "Reprocess completed successfully",
		Stats:   stats,
	})
}

// GetReprocessStatus returns the state of the last reprocess run.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) GetReprocessStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := ReprocessStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
