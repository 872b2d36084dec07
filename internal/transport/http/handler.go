// Package http provides the HTTP handlers for the run coordinator.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kristenwon/shepherd-mvp/internal/config"
	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/registry"
	"github.com/kristenwon/shepherd-mvp/internal/runner"
	"github.com/kristenwon/shepherd-mvp/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	cfg      *config.Config
	registry *registry.Registry
	hub      *hub.Hub
	runner   *runner.Runner
	store    store.Store
}

// NewHandler creates a new handler.
func NewHandler(cfg *config.Config, reg *registry.Registry, h *hub.Hub, run *runner.Runner, db store.Store) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: reg,
		hub:      h,
		runner:   run,
		store:    db,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run management
	e.POST("/runs/:run_id", h.StartRun)
	e.GET("/runs/:run_id/status", h.GetRunStatus)
	e.DELETE("/runs/:run_id/cancel", h.CancelRun)

	// System status
	e.GET("/system/status", h.GetSystemStatus)
	e.GET("/system/idle-status", h.GetIdleStatus)

	// Repository analysis records
	e.POST("/api/repository-analysis", h.CreateAnalysis)
	e.GET("/api/repository-analysis/:run_id", h.GetAnalysis)
	e.PUT("/api/repository-analysis/:run_id", h.UpdateAnalysis)
	e.DELETE("/api/repository-analysis/:run_id", h.DeleteAnalysis)
	e.GET("/api/my-repositories", h.ListMyRepositories)

	// Waitlist
	e.POST("/save-waitlist-email", h.SaveWaitlistEmail)

	e.GET("/health", h.Health)
	e.GET("/settings", h.Settings)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "shepherd-mvp",
	})
}

// Settings exposes the effective run-management configuration.
func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"MAX_CONCURRENT_RUNS":  h.cfg.MaxConcurrentRuns,
		"IDLE_TIMEOUT_SECONDS": int(h.cfg.IdleTimeout.Seconds()),
	})
}
