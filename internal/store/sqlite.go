package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			run_id TEXT PRIMARY KEY,
			repository_url TEXT NOT NULL,
			project_description TEXT NOT NULL,
			environment TEXT NOT NULL,
			user_id TEXT,
			reference_files TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_user ON analyses(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS waitlist (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateAnalysis inserts a new analysis record.
func (s *SQLiteStore) CreateAnalysis(ctx context.Context, analysis *domain.Analysis) error {
	refFiles, err := marshalRefFiles(analysis.ReferenceFiles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (run_id, repository_url, project_description, environment, user_id, reference_files, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		analysis.RunID, analysis.RepositoryURL, analysis.ProjectDescription,
		analysis.Environment, analysis.UserID, refFiles, analysis.Status,
		analysis.CreatedAt, analysis.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns an analysis by run id, or nil if not found.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, runID string) (*domain.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, repository_url, project_description, environment, user_id, reference_files, status, created_at, updated_at
		 FROM analyses WHERE run_id = ?`, runID)
	analysis, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return analysis, nil
}

// ListUserAnalyses returns a user's analyses, newest first.
func (s *SQLiteStore) ListUserAnalyses(ctx context.Context, userID string, limit int) ([]domain.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, repository_url, project_description, environment, user_id, reference_files, status, created_at, updated_at
		 FROM analyses WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []domain.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, *analysis)
	}
	return analyses, rows.Err()
}

// UpdateAnalysis applies the non-nil fields of update to a record.
func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, runID string, update domain.AnalysisUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.RepositoryURL != nil {
		sets = append(sets, "repository_url = ?")
		args = append(args, *update.RepositoryURL)
	}
	if update.ProjectDescription != nil {
		sets = append(sets, "project_description = ?")
		args = append(args, *update.ProjectDescription)
	}
	if update.Environment != nil {
		sets = append(sets, "environment = ?")
		args = append(args, *update.Environment)
	}
	if update.ReferenceFiles != nil {
		refFiles, err := marshalRefFiles(*update.ReferenceFiles)
		if err != nil {
			return err
		}
		sets = append(sets, "reference_files = ?")
		args = append(args, refFiles)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}

	args = append(args, runID)
	query := "UPDATE analyses SET " + strings.Join(sets, ", ") + " WHERE run_id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	return nil
}

// DeleteAnalysis removes a record, reporting whether one existed.
func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE run_id = ?`, runID)
	if err != nil {
		return false, fmt.Errorf("failed to delete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete analysis: %w", err)
	}
	return n > 0, nil
}

// SaveWaitlistEmail stores an email captured from the at-capacity popup.
func (s *SQLiteStore) SaveWaitlistEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO waitlist (id, email, created_at) VALUES (?, ?, ?)`,
		uuid.New().String(), email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save waitlist email: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.Analysis, error) {
	var analysis domain.Analysis
	var userID sql.NullString
	var refFiles sql.NullString
	err := row.Scan(&analysis.RunID, &analysis.RepositoryURL, &analysis.ProjectDescription,
		&analysis.Environment, &userID, &refFiles, &analysis.Status,
		&analysis.CreatedAt, &analysis.UpdatedAt)
	if err != nil {
		return nil, err
	}
	analysis.UserID = userID.String
	if refFiles.Valid && refFiles.String != "" {
		if err := json.Unmarshal([]byte(refFiles.String), &analysis.ReferenceFiles); err != nil {
			return nil, fmt.Errorf("failed to parse reference files: %w", err)
		}
	}
	return &analysis, nil
}

func marshalRefFiles(files []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reference files: %w", err)
	}
	return string(data), nil
}
