// Package registry implements admission control and the run state machine.
package registry

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
	"github.com/kristenwon/shepherd-mvp/internal/pidfile"
	"github.com/kristenwon/shepherd-mvp/internal/proc"
)

// Registry tracks active and completed runs under a fixed concurrency
// ceiling and supervises the OS process backing each run. All state lives
// behind one mutex; no other component touches these tables directly.
type Registry struct {
	mu            sync.Mutex
	maxConcurrent int
	active        map[string]*domain.Run
	completed     map[string]*domain.Run
	pids          map[string]int

	pidStore   *pidfile.Store
	supervisor proc.Supervisor
}

// New creates a registry with the given concurrency ceiling.
func New(maxConcurrent int, supervisor proc.Supervisor, pidStore *pidfile.Store) *Registry {
	return &Registry{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*domain.Run),
		completed:     make(map[string]*domain.Run),
		pids:          make(map[string]int),
		pidStore:      pidStore,
		supervisor:    supervisor,
	}
}

// Admit starts tracking a new run if capacity allows. The count check and
// the insert happen atomically so concurrent callers can never push the
// active count past the ceiling.
func (r *Registry) Admit(runID string, jobData map[string]string) domain.AdmitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.maxConcurrent {
		return domain.AdmitResult{
			Status:  domain.AdmitAtCapacity,
			Message: "At capacity, please come back and try again.",
		}
	}

	r.active[runID] = &domain.Run{
		RunID:     runID,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		JobData:   jobData,
	}
	return domain.AdmitResult{Status: domain.AdmitStarted, RunID: runID}
}

// Complete moves an active run to the completed table with status Completed
// or Failed. Completing a run that is no longer active is a no-op; the run
// may already have been cancelled.
func (r *Registry) Complete(runID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.active[runID]
	if !ok {
		return
	}
	delete(r.active, runID)

	now := time.Now().UTC()
	run.CompletedAt = &now
	if success {
		run.Status = domain.RunStatusCompleted
	} else {
		run.Status = domain.RunStatusFailed
	}
	r.completed[runID] = run
}

// Cancel terminates the run's process if one is registered, then moves the
// run to the completed table with status Cancelled. Returns whether a run
// was found in either the process table or the active set; cancelling an
// already-terminal or unknown run returns false.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	if pid, ok := r.pids[runID]; ok {
		found = true
		if r.supervisor.Terminate(pid) {
			log.Printf("Killed process %d for run %s", pid, shortID(runID))
		}
		delete(r.pids, runID)
		r.persistPidsLocked()
	}

	if run, ok := r.active[runID]; ok {
		delete(r.active, runID)
		now := time.Now().UTC()
		run.Status = domain.RunStatusCancelled
		run.CompletedAt = &now
		r.completed[runID] = run
		return true
	}

	return found
}

// RegisterProcess records the pid backing a run and persists the table so a
// crash-restart can reap the process.
func (r *Registry) RegisterProcess(runID string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids[runID] = pid
	r.persistPidsLocked()
}

// UnregisterProcess drops a run's pid from tracking.
func (r *Registry) UnregisterProcess(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pids[runID]; !ok {
		return
	}
	delete(r.pids, runID)
	r.persistPidsLocked()
}

// persistPidsLocked writes the pid table through to disk on every mutation.
// Mutations are rare, so durability wins over throughput. Caller holds mu.
func (r *Registry) persistPidsLocked() {
	pids := make(map[string]int, len(r.pids))
	for id, pid := range r.pids {
		pids[id] = pid
	}
	if err := r.pidStore.Save(pids); err != nil {
		log.Printf("ERROR: could not save pids: %v", err)
	}
}

// RecoverOrphans terminates processes recorded by a previous instance and
// deletes the persisted record. Called once at startup before admissions.
func (r *Registry) RecoverOrphans() error {
	orphans, err := r.pidStore.Load()
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		log.Printf("Found %d potentially orphaned processes", len(orphans))
	}
	for runID, pid := range orphans {
		if r.supervisor.Alive(pid) {
			log.Printf("Killing orphaned process %d from run %s", pid, shortID(runID))
			r.supervisor.Terminate(pid)
		} else {
			log.Printf("Process %d already dead", pid)
		}
	}
	return r.pidStore.Remove()
}

// SystemStatus returns a deep-copied snapshot: ceiling, counts, active runs
// and the 5 most recently completed runs, newest first.
func (r *Registry) SystemStatus() domain.SystemStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	activeInfo := make([]domain.ActiveRunInfo, 0, len(r.active))
	for _, run := range r.active {
		activeInfo = append(activeInfo, domain.ActiveRunInfo{
			RunID:     run.RunID,
			Status:    run.Status,
			StartedAt: run.StartedAt,
			GithubURL: run.GithubURL(),
		})
	}
	sort.Slice(activeInfo, func(i, j int) bool {
		return activeInfo[i].StartedAt.Before(activeInfo[j].StartedAt)
	})

	completed := make([]*domain.Run, 0, len(r.completed))
	for _, run := range r.completed {
		completed = append(completed, run)
	}
	sort.Slice(completed, func(i, j int) bool {
		ti, tj := completed[i].CompletedAt, completed[j].CompletedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if len(completed) > 5 {
		completed = completed[:5]
	}
	recent := make([]domain.CompletedRunInfo, 0, len(completed))
	for _, run := range completed {
		var completedAt *time.Time
		if run.CompletedAt != nil {
			t := *run.CompletedAt
			completedAt = &t
		}
		recent = append(recent, domain.CompletedRunInfo{
			RunID:       run.RunID,
			Status:      run.Status,
			CompletedAt: completedAt,
			GithubURL:   run.GithubURL(),
		})
	}

	systemStatus := "available"
	if len(r.active) >= r.maxConcurrent {
		systemStatus = "at_capacity"
	}

	return domain.SystemStatus{
		MaxConcurrent:   r.maxConcurrent,
		ActiveRunsCount: len(r.active),
		AvailableSlots:  r.maxConcurrent - len(r.active),
		SystemStatus:    systemStatus,
		ActiveRuns:      activeInfo,
		RecentCompleted: recent,
	}
}

// RunStatus reports running, a terminal status, or not_found.
func (r *Registry) RunStatus(runID string) domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[runID]; ok {
		return domain.RunStatusRunning
	}
	if run, ok := r.completed[runID]; ok {
		return run.Status
	}
	return domain.RunStatusNotFound
}

// Shutdown forcibly terminates every still-registered process and removes
// the persisted pid record. Runs are not waited on.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pids) > 0 {
		log.Printf("Killing %d active analysis processes...", len(r.pids))
	}
	for runID, pid := range r.pids {
		r.supervisor.Terminate(pid)
		log.Printf("Killed process %d for run %s", pid, shortID(runID))
		delete(r.pids, runID)
	}
	if err := r.pidStore.Remove(); err != nil {
		log.Printf("ERROR: could not remove pid file: %v", err)
	}
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
