// Package domain defines the core domain models for the run coordinator.
package domain

import "time"

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusNotFound is only ever reported by status lookups, never stored.
	RunStatusNotFound RunStatus = "not_found"
)

// Terminal reports whether the status is one of the three end states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run is one admitted execution of an external analysis job.
type Run struct {
	RunID       string            `json:"run_id"`
	Status      RunStatus         `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	JobData     map[string]string `json:"job_data,omitempty"`
}

// GithubURL returns the job's target repository URL, if present.
func (r *Run) GithubURL() string {
	return r.JobData["github_url"]
}

// ActiveRunInfo is one entry in the system status view of active runs.
type ActiveRunInfo struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	GithubURL string    `json:"github_url,omitempty"`
}

// CompletedRunInfo is one entry in the recent-completed view.
type CompletedRunInfo struct {
	RunID       string     `json:"run_id"`
	Status      RunStatus  `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	GithubURL   string     `json:"github_url,omitempty"`
}

// SystemStatus is a deep-copied snapshot of the registry state.
type SystemStatus struct {
	MaxConcurrent   int                `json:"max_concurrent"`
	ActiveRunsCount int                `json:"active_runs_count"`
	AvailableSlots  int                `json:"available_slots"`
	SystemStatus    string             `json:"system_status"`
	ActiveRuns      []ActiveRunInfo    `json:"active_runs"`
	RecentCompleted []CompletedRunInfo `json:"recent_completed"`
}

// AdmitStatus is the outcome of an admission attempt.
type AdmitStatus string

const (
	AdmitStarted    AdmitStatus = "started"
	AdmitAtCapacity AdmitStatus = "at_capacity"
)

// AdmitResult is returned by RunRegistry.Admit.
type AdmitResult struct {
	Status  AdmitStatus `json:"status"`
	RunID   string      `json:"run_id,omitempty"`
	Message string      `json:"message,omitempty"`
}
