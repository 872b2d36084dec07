package http

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
)

// JobRequest is the body of POST /runs/:run_id.
type JobRequest struct {
	GithubURL string `json:"github_url"`
}

// StartRun kicks off an analysis run, or reports at_capacity.
// POST /runs/:run_id → 202 started | 503 at_capacity
func (h *Handler) StartRun(c echo.Context) error {
	runID := c.Param("run_id")

	var job JobRequest
	if err := c.Bind(&job); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	result := h.runner.StartRun(runID, map[string]string{"github_url": job.GithubURL})
	switch result.Status {
	case domain.AdmitStarted:
		return c.JSON(http.StatusAccepted, map[string]string{
			"status": string(domain.AdmitStarted),
			"run_id": runID,
		})
	case domain.AdmitAtCapacity:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  string(domain.AdmitAtCapacity),
			"message": result.Message,
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unexpected status from run manager"})
	}
}

// GetRunStatus checks status for a specific run.
// GET /runs/:run_id/status
func (h *Handler) GetRunStatus(c echo.Context) error {
	runID := c.Param("run_id")

	status := h.registry.RunStatus(runID)
	if status == domain.RunStatusNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"run_id": runID,
		"status": string(status),
	})
}

// CancelRun cancels an active run and notifies its connections to close.
// DELETE /runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")

	if h.runner.CancelRun(runID) {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Run %s cancelled", runID),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": false,
		"message": "Run not found or already completed",
	})
}

// GetSystemStatus returns the capacity snapshot.
// GET /system/status
func (h *Handler) GetSystemStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.SystemStatus())
}

// GetIdleStatus reports idle tracking for every run with live activity.
// GET /system/idle-status
func (h *Handler) GetIdleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"idle_timeout_seconds": int(h.cfg.IdleTimeout.Seconds()),
		"runs":                 h.hub.IdleStatus(),
	})
}
