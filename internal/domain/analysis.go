package domain

import "time"

// Analysis is the stored metadata for a repository analysis request.
type Analysis struct {
	RunID              string    `json:"run_id"`
	RepositoryURL      string    `json:"repository_url"`
	ProjectDescription string    `json:"project_description"`
	Environment        string    `json:"environment"` // "local" or "testnet"
	UserID             string    `json:"user_id,omitempty"`
	ReferenceFiles     []string  `json:"reference_files,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ValidEnvironment reports whether env is an accepted analysis environment.
func ValidEnvironment(env string) bool {
	return env == "local" || env == "testnet"
}

// AnalysisUpdate carries partial updates to an analysis record. Nil fields
// are left unchanged.
type AnalysisUpdate struct {
	RepositoryURL      *string
	ProjectDescription *string
	Environment        *string
	ReferenceFiles     *[]string
	Status             *string
}
