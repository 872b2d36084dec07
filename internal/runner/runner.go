// Package runner wires admitted runs to the external analysis launcher, the
// registry bookkeeping, and a per-run input channel.
package runner

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/kristenwon/shepherd-mvp/internal/domain"
	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/protocol"
	"github.com/kristenwon/shepherd-mvp/internal/registry"
)

// ErrRunEnded is returned by the input handler once the run's input channel
// has been discarded.
var ErrRunEnded = errors.New("run ended")

// InputFunc pulls the next client-submitted input line, blocking until one
// arrives or the run is torn down.
type InputFunc func(ctx context.Context) (string, error)

// Sink receives output from the external process for fan-out to clients.
type Sink interface {
	Broadcast(runID string, msg protocol.Message)
}

// Result is what a launcher reports when the external process finishes.
type Result struct {
	// PID of the launched process, 0 if none was started.
	PID int
	// Success is the process's own verdict on the job.
	Success bool
}

// Launcher runs the external analysis job. The coordinator treats it as
// opaque: it gets the job description, a way to pull client input, and a
// sink for output, and eventually reports success or failure.
type Launcher interface {
	Launch(ctx context.Context, runID string, job map[string]string, input InputFunc, sink Sink) (Result, error)
}

// Runner is the glue between admission, the launcher, and streaming.
type Runner struct {
	registry *registry.Registry
	hub      *hub.Hub
	launcher Launcher

	mu     sync.Mutex
	inputs map[string]chan string
}

// inputQueueSize bounds how many submitted lines can wait for the process.
const inputQueueSize = 64

// New creates a runner.
func New(reg *registry.Registry, h *hub.Hub, launcher Launcher) *Runner {
	return &Runner{
		registry: reg,
		hub:      h,
		launcher: launcher,
		inputs:   make(map[string]chan string),
	}
}

// StartRun admits the run and, if admitted, launches the external process in
// the background. The caller gets the admission outcome immediately.
func (r *Runner) StartRun(runID string, job map[string]string) domain.AdmitResult {
	result := r.registry.Admit(runID, job)
	if result.Status != domain.AdmitStarted {
		return result
	}

	ch := make(chan string, inputQueueSize)
	r.mu.Lock()
	r.inputs[runID] = ch
	r.mu.Unlock()

	go r.execute(runID, job, ch)
	return result
}

// execute runs the launcher and performs the always-on cleanup: pid
// unregistration, completion bookkeeping, and input channel teardown.
func (r *Runner) execute(runID string, job map[string]string, ch chan string) {
	success := r.invoke(runID, job, ch)

	r.registry.UnregisterProcess(runID)
	r.registry.Complete(runID, success)
	r.discardInput(runID)
}

func (r *Runner) invoke(runID string, job map[string]string, ch chan string) (success bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: run %s launcher panicked: %v", runID, rec)
			success = false
		}
	}()

	input := func(ctx context.Context) (string, error) {
		select {
		case line, ok := <-ch:
			if !ok {
				return "", ErrRunEnded
			}
			return line, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	result, err := r.launcher.Launch(context.Background(), runID, job, input, r.hub)
	if result.PID > 0 {
		r.registry.RegisterProcess(runID, result.PID)
	}
	if err != nil {
		log.Printf("ERROR: run %s failed: %v", runID, err)
		return false
	}
	return result.Success
}

// SubmitInput pushes a client-submitted line onto the run's input channel.
// Returns false if the run has no input channel (unknown or already ended).
func (r *Runner) SubmitInput(runID, line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.inputs[runID]
	if !ok {
		return false
	}
	select {
	case ch <- line:
	default:
		// The process is not consuming; delivery is best-effort.
		log.Printf("WARN: input queue full for run %s, dropping input", runID)
	}
	return true
}

// CancelRun cancels a run on user request: terminate the process, flip run
// state, tell every connection to close itself, and discard the input
// channel. Returns whether a run was found.
func (r *Runner) CancelRun(runID string) bool {
	if !r.registry.Cancel(runID) {
		return false
	}

	r.hub.Broadcast(runID, protocol.Cancelled(runID))
	r.hub.Drop(runID)
	r.discardInput(runID)
	return true
}

// Cancel implements hub.Canceller for the idle monitor. Idle cancellation
// leaves connection teardown and input cleanup to the monitor and the
// launcher's own completion path.
func (r *Runner) Cancel(runID string) bool {
	return r.registry.Cancel(runID)
}

func (r *Runner) discardInput(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.inputs[runID]; ok {
		delete(r.inputs, runID)
		close(ch)
	}
}
