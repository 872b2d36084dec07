package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristenwon/shepherd-mvp/internal/config"
	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/pidfile"
	"github.com/kristenwon/shepherd-mvp/internal/registry"
	"github.com/kristenwon/shepherd-mvp/internal/runner"
	"github.com/kristenwon/shepherd-mvp/internal/store"
)

// blockingLauncher keeps runs active until released.
type blockingLauncher struct {
	release chan struct{}
}

func (l *blockingLauncher) Launch(ctx context.Context, runID string, job map[string]string, input runner.InputFunc, sink runner.Sink) (runner.Result, error) {
	<-l.release
	return runner.Result{Success: true}, nil
}

type noopSupervisor struct{}

func (noopSupervisor) Alive(int) bool     { return false }
func (noopSupervisor) Terminate(int) bool { return true }

func newTestHandler(t *testing.T, maxConcurrent int) (*Handler, *blockingLauncher) {
	t.Helper()

	cfg := &config.Config{
		MaxConcurrentRuns: maxConcurrent,
		IdleTimeout:       10 * time.Minute,
	}
	reg := registry.New(maxConcurrent, noopSupervisor{}, pidfile.New(t.TempDir()))
	connectionHub := hub.New(cfg.IdleTimeout)
	launch := &blockingLauncher{release: make(chan struct{})}
	run := runner.New(reg, connectionHub, launch)

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	t.Cleanup(func() {
		select {
		case <-launch.release:
		default:
			close(launch.release)
		}
	})

	return NewHandler(cfg, reg, connectionHub, run, db), launch
}

func doRequest(t *testing.T, h func(echo.Context) error, method, target, body string, params ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}

	require.NoError(t, h(c))

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestStartRunAndCapacity(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, body := doRequest(t, h.StartRun, http.MethodPost, "/runs/a", `{"github_url":"https://github.com/acme/repo"}`, "run_id", "a")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "a", body["run_id"])

	rec, body = doRequest(t, h.StartRun, http.MethodPost, "/runs/b", `{"github_url":"https://github.com/acme/other"}`, "run_id", "b")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "at_capacity", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestGetRunStatus(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, _ := doRequest(t, h.GetRunStatus, http.MethodGet, "/runs/ghost/status", "", "run_id", "ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doRequest(t, h.StartRun, http.MethodPost, "/runs/a", `{"github_url":"u"}`, "run_id", "a")

	rec, body := doRequest(t, h.GetRunStatus, http.MethodGet, "/runs/a/status", "", "run_id", "a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
}

func TestCancelRun(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	doRequest(t, h.StartRun, http.MethodPost, "/runs/a", `{"github_url":"u"}`, "run_id", "a")

	rec, body := doRequest(t, h.CancelRun, http.MethodDelete, "/runs/a/cancel", "", "run_id", "a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = doRequest(t, h.CancelRun, http.MethodDelete, "/runs/a/cancel", "", "run_id", "a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, body = doRequest(t, h.GetRunStatus, http.MethodGet, "/runs/a/status", "", "run_id", "a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])
}

func TestSystemStatus(t *testing.T) {
	h, _ := newTestHandler(t, 2)

	doRequest(t, h.StartRun, http.MethodPost, "/runs/a", `{"github_url":"u"}`, "run_id", "a")

	rec, body := doRequest(t, h.GetSystemStatus, http.MethodGet, "/system/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["max_concurrent"])
	assert.Equal(t, float64(1), body["active_runs_count"])
	assert.Equal(t, float64(1), body["available_slots"])
	assert.Equal(t, "available", body["system_status"])
}

func TestIdleStatus(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, body := doRequest(t, h.GetIdleStatus, http.MethodGet, "/system/idle-status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(600), body["idle_timeout_seconds"])
	assert.NotNil(t, body["runs"])
}

func TestSettings(t *testing.T) {
	h, _ := newTestHandler(t, 3)

	rec, body := doRequest(t, h.Settings, http.MethodGet, "/settings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["MAX_CONCURRENT_RUNS"])
	assert.Equal(t, float64(600), body["IDLE_TIMEOUT_SECONDS"])
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, body := doRequest(t, h.Health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestAnalysisCRUD(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	// Create
	rec, body := doRequest(t, h.CreateAnalysis, http.MethodPost, "/api/repository-analysis",
		`{"repository_url":"https://github.com/acme/repo","project_description":"audit","environment":"local","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, true, body["success"])
	runID, ok := body["run_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, runID)

	// Invalid environment
	rec, _ = doRequest(t, h.CreateAnalysis, http.MethodPost, "/api/repository-analysis",
		`{"repository_url":"u","project_description":"d","environment":"mainnet"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Get
	rec, body = doRequest(t, h.GetAnalysis, http.MethodGet, "/api/repository-analysis/"+runID, "", "run_id", runID)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "https://github.com/acme/repo", data["repository_url"])

	// Update
	rec, body = doRequest(t, h.UpdateAnalysis, http.MethodPut, "/api/repository-analysis/"+runID,
		`{"project_description":"deeper audit"}`, "run_id", runID)
	assert.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]any)
	assert.Equal(t, "deeper audit", data["project_description"])
	assert.Equal(t, "local", data["environment"])

	// List
	rec, body = doRequest(t, h.ListMyRepositories, http.MethodGet, "/api/my-repositories?user_id=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	repos := body["data"].([]any)
	require.Len(t, repos, 1)
	repo := repos[0].(map[string]any)
	assert.Equal(t, "repo", repo["repository_name"])

	// Delete
	rec, _ = doRequest(t, h.DeleteAnalysis, http.MethodDelete, "/api/repository-analysis/"+runID, "", "run_id", runID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, h.GetAnalysis, http.MethodGet, "/api/repository-analysis/"+runID, "", "run_id", runID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAnalysisNotFound(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, _ := doRequest(t, h.UpdateAnalysis, http.MethodPut, "/api/repository-analysis/missing",
		`{"project_description":"x"}`, "run_id", "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveWaitlistEmail(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	rec, body := doRequest(t, h.SaveWaitlistEmail, http.MethodPost, "/save-waitlist-email", `{"email":"user@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, _ = doRequest(t, h.SaveWaitlistEmail, http.MethodPost, "/save-waitlist-email", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
