// Package proc wraps OS process signaling behind a small interface so the
// registry can be tested without real processes.
package proc

import (
	"os"
	"syscall"
	"time"
)

// Supervisor probes and terminates external processes by pid.
type Supervisor interface {
	// Alive reports whether a process with the given pid exists.
	Alive(pid int) bool

	// Terminate stops the process: graceful signal first, then a forceful
	// kill if it is still alive after the grace window. A process that is
	// already gone counts as success.
	Terminate(pid int) bool
}

// UnixSupervisor terminates processes with SIGTERM, polling liveness every
// PollInterval, and escalates to SIGKILL after Grace.
type UnixSupervisor struct {
	Grace        time.Duration
	PollInterval time.Duration
}

// NewUnixSupervisor returns a supervisor with a 5s grace window and 100ms
// liveness polling.
func NewUnixSupervisor() *UnixSupervisor {
	return &UnixSupervisor{
		Grace:        5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Alive sends signal 0 to probe for process existence.
func (s *UnixSupervisor) Alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Terminate sends SIGTERM, waits up to Grace for the process to exit, then
// sends SIGKILL. Returns true in every case where the process ends up not
// running, including when it never existed.
func (s *UnixSupervisor) Terminate(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return true
	}

	deadline := time.Now().Add(s.Grace)
	for time.Now().Before(deadline) {
		if !s.Alive(pid) {
			return true
		}
		time.Sleep(s.PollInterval)
	}

	p.Signal(syscall.SIGKILL)
	return true
}
