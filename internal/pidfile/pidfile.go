// Package pidfile persists the {run_id: pid} table of live analysis
// processes so a restart can reap orphans left by a crash.
package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes the pid document as a single JSON file.
type Store struct {
	path string
}

// New creates a store rooted at dir. The file is dir/active_pids.json.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, "active_pids.json")}
}

// Path returns the on-disk location of the pid document.
func (s *Store) Path() string {
	return s.path
}

// Save writes the full pid table, creating the parent directory if needed.
func (s *Store) Save(pids map[string]int) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	data, err := json.Marshal(pids)
	if err != nil {
		return fmt.Errorf("failed to marshal pids: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Load reads the pid table. A missing file yields an empty table.
func (s *Store) Load() (map[string]int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("failed to read pid file: %w", err)
	}
	pids := map[string]int{}
	if err := json.Unmarshal(data, &pids); err != nil {
		return nil, fmt.Errorf("failed to parse pid file: %w", err)
	}
	return pids, nil
}

// Remove deletes the pid document. Removing an absent file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Exists reports whether a pid document is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
