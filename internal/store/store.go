// Package store defines the record persistence interface and its SQLite
// implementation. The rest of the coordinator treats it as an opaque
// document store.
package store

import (
	"context"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
)

// Store defines the interface for analysis metadata and waitlist persistence.
type Store interface {
	// Analysis operations
	CreateAnalysis(ctx context.Context, analysis *domain.Analysis) error
	GetAnalysis(ctx context.Context, runID string) (*domain.Analysis, error)
	ListUserAnalyses(ctx context.Context, userID string, limit int) ([]domain.Analysis, error)
	UpdateAnalysis(ctx context.Context, runID string, update domain.AnalysisUpdate) error
	DeleteAnalysis(ctx context.Context, runID string) (bool, error)

	// Waitlist operations
	SaveWaitlistEmail(ctx context.Context, email string) error

	// Lifecycle
	Close() error
}
