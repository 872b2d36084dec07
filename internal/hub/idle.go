package hub

import (
	"log"
	"time"

	"github.com/kristenwon/shepherd-mvp/internal/protocol"
)

// Canceller is the one edge from the hub subsystem back into run
// lifecycle: the idle monitor needs exactly Cancel and nothing else.
type Canceller interface {
	Cancel(runID string) bool
}

// IdleMonitor periodically scans the hub's activity clocks and cancels runs
// that have gone quiet. One instance runs for the whole process.
type IdleMonitor struct {
	hub       *Hub
	canceller Canceller

	interval   time.Duration
	errBackoff time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewIdleMonitor creates a monitor scanning every interval. After a cycle
// fails it sleeps errBackoff before the next scan.
func NewIdleMonitor(h *Hub, canceller Canceller, interval, errBackoff time.Duration) *IdleMonitor {
	return &IdleMonitor{
		hub:        h,
		canceller:  canceller,
		interval:   interval,
		errBackoff: errBackoff,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background loop.
func (m *IdleMonitor) Start() {
	log.Printf("Started idle connection monitor (timeout: %.0fs)", m.hub.IdleTimeout().Seconds())
	go m.run()
}

// Stop halts the loop and waits for the current cycle to finish. Stopping
// the monitor does not cancel any runs; registry shutdown handles those.
func (m *IdleMonitor) Stop() {
	close(m.stop)
	<-m.done
	log.Printf("Stopped idle connection monitor")
}

func (m *IdleMonitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-time.After(m.interval):
		}

		if ok := m.sweep(); !ok {
			// Something went wrong mid-cycle; wait longer before retrying.
			select {
			case <-m.stop:
				return
			case <-time.After(m.errBackoff):
			}
		}
	}
}

// sweep cancels every run past the idle threshold. A panic out of a
// callback is contained here so one bad cycle cannot kill the loop.
func (m *IdleMonitor) sweep() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error in idle monitor: %v", r)
			ok = false
		}
	}()

	timeoutSecs := int(m.hub.IdleTimeout().Seconds())
	for _, run := range m.hub.expiredRuns() {
		log.Printf("Run %s idle for %.0fs, cancelling...", run.runID, run.idleSeconds)

		m.hub.Broadcast(run.runID, protocol.IdleTimeout(run.runID, run.idleSeconds, timeoutSecs))

		if m.canceller.Cancel(run.runID) {
			log.Printf("Successfully cancelled idle run %s", run.runID)
		}

		m.hub.CloseAll(run.runID, "Idle timeout")
		m.hub.dropActivity(run.runID)
	}
	return true
}
