package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
)

// AnalysisRequest is the body of POST /api/repository-analysis.
type AnalysisRequest struct {
	RepositoryURL      string   `json:"repository_url"`
	ProjectDescription string   `json:"project_description"`
	Environment        string   `json:"environment"`
	UserID             string   `json:"user_id,omitempty"`
	ReferenceFiles     []string `json:"reference_files,omitempty"`
}

// AnalysisUpdateRequest is the body of PUT /api/repository-analysis/:run_id.
type AnalysisUpdateRequest struct {
	RepositoryURL      *string   `json:"repository_url,omitempty"`
	ProjectDescription *string   `json:"project_description,omitempty"`
	Environment        *string   `json:"environment,omitempty"`
	ReferenceFiles     *[]string `json:"reference_files,omitempty"`
}

// CreateAnalysis stores a new repository analysis request.
// POST /api/repository-analysis
func (h *Handler) CreateAnalysis(c echo.Context) error {
	var req AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !domain.ValidEnvironment(req.Environment) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Environment must be 'local' or 'testnet'"})
	}

	now := time.Now().UTC()
	analysis := &domain.Analysis{
		RunID:              uuid.New().String(),
		RepositoryURL:      req.RepositoryURL,
		ProjectDescription: req.ProjectDescription,
		Environment:        req.Environment,
		UserID:             req.UserID,
		ReferenceFiles:     req.ReferenceFiles,
		Status:             "pending",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.store.CreateAnalysis(c.Request().Context(), analysis); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create repository analysis"})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"run_id":  analysis.RunID,
		"message": "Repository analysis created successfully",
		"data":    analysis,
	})
}

// GetAnalysis returns a stored analysis by run id.
// GET /api/repository-analysis/:run_id
func (h *Handler) GetAnalysis(c echo.Context) error {
	analysis, err := h.store.GetAnalysis(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch repository analysis"})
	}
	if analysis == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Repository analysis not found"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    analysis,
	})
}

// UpdateAnalysis applies a partial update to a stored analysis.
// PUT /api/repository-analysis/:run_id
func (h *Handler) UpdateAnalysis(c echo.Context) error {
	runID := c.Param("run_id")
	ctx := c.Request().Context()

	var req AnalysisUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Environment != nil && !domain.ValidEnvironment(*req.Environment) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Environment must be 'local' or 'testnet'"})
	}

	existing, err := h.store.GetAnalysis(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch repository analysis"})
	}
	if existing == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Repository analysis not found"})
	}

	update := domain.AnalysisUpdate{
		RepositoryURL:      req.RepositoryURL,
		ProjectDescription: req.ProjectDescription,
		Environment:        req.Environment,
		ReferenceFiles:     req.ReferenceFiles,
	}
	if err := h.store.UpdateAnalysis(ctx, runID, update); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update repository analysis"})
	}

	updated, err := h.store.GetAnalysis(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch repository analysis"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Repository analysis updated successfully",
		"data":    updated,
	})
}

// DeleteAnalysis removes a stored analysis.
// DELETE /api/repository-analysis/:run_id
func (h *Handler) DeleteAnalysis(c echo.Context) error {
	deleted, err := h.store.DeleteAnalysis(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete repository analysis"})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Repository analysis not found"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Repository analysis deleted successfully",
	})
}

// repositoryView is one entry in the my-repositories listing.
type repositoryView struct {
	RunID          string    `json:"run_id"`
	RepositoryURL  string    `json:"repository_url"`
	RepositoryName string    `json:"repository_name"`
	Environment    string    `json:"environment"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListMyRepositories lists a user's analyses for the UI.
// GET /api/my-repositories?user_id=...&limit=...
func (h *Handler) ListMyRepositories(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = "@0xps"
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	analyses, err := h.store.ListUserAnalyses(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch repositories"})
	}

	repos := make([]repositoryView, 0, len(analyses))
	for _, a := range analyses {
		repos = append(repos, repositoryView{
			RunID:          a.RunID,
			RepositoryURL:  a.RepositoryURL,
			RepositoryName: repositoryName(a.RepositoryURL),
			Environment:    a.Environment,
			Status:         a.Status,
			CreatedAt:      a.CreatedAt,
			UpdatedAt:      a.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    repos,
	})
}

// WaitlistRequest is the body of POST /save-waitlist-email.
type WaitlistRequest struct {
	Email string `json:"email"`
}

// SaveWaitlistEmail stores an email from the at-capacity popup.
// POST /save-waitlist-email
func (h *Handler) SaveWaitlistEmail(c echo.Context) error {
	var req WaitlistRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email is required"})
	}
	if err := h.store.SaveWaitlistEmail(c.Request().Context(), req.Email); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save email"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Email saved to waitlist",
	})
}

// repositoryName extracts the display name from a repository URL.
func repositoryName(url string) string {
	if url == "" {
		return "Unknown"
	}
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	return parts[len(parts)-1]
}
