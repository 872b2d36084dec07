// Package hub provides per-run connection management: live fan-out, a
// bounded replay buffer for late joiners, and idle tracking.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/kristenwon/shepherd-mvp/internal/protocol"
)

// MaxBuffer is the number of messages kept per run for late joiners.
const MaxBuffer = 2000

// Conn is one live client connection. The WebSocket transport adapts
// *websocket.Conn to this; tests use in-memory fakes. Send must not block
// the caller indefinitely; a connection that cannot accept a message
// returns an error and is dropped from the run.
type Conn interface {
	Send(msg protocol.Message) error
	Close(reason string) error
}

// Hub owns the connection sets, replay buffers and activity clocks, keyed
// by run id. Nothing else mutates them.
type Hub struct {
	mu           sync.Mutex
	conns        map[string]map[Conn]struct{}
	buffers      map[string][]protocol.Message
	lastActivity map[string]time.Time

	idleTimeout time.Duration
}

// RunIdleStatus describes one run's idle state.
type RunIdleStatus struct {
	LastActivity    time.Time `json:"last_activity"`
	IdleSeconds     float64   `json:"idle_seconds"`
	WillTimeoutIn   float64   `json:"will_timeout_in"`
	ConnectionCount int       `json:"connection_count"`
}

// New creates a hub. idleTimeout is only consulted for reporting and by the
// idle monitor; the hub itself never cancels anything.
func New(idleTimeout time.Duration) *Hub {
	return &Hub{
		conns:        make(map[string]map[Conn]struct{}),
		buffers:      make(map[string][]protocol.Message),
		lastActivity: make(map[string]time.Time),
		idleTimeout:  idleTimeout,
	}
}

// IdleTimeout returns the configured idle timeout.
func (h *Hub) IdleTimeout() time.Duration {
	return h.idleTimeout
}

// Connect registers a connection for a run, acknowledges it, and replays the
// current backlog in order. The backlog is fully queued before any later
// Broadcast call can deliver to this connection, so a late joiner sees
// backlog first, live messages second.
func (h *Hub) Connect(runID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[runID] == nil {
		h.conns[runID] = make(map[Conn]struct{})
	}
	h.conns[runID][c] = struct{}{}
	h.lastActivity[runID] = time.Now().UTC()

	if err := c.Send(protocol.Message{Type: protocol.TypeConnectionAck, RunID: runID}); err != nil {
		h.removeLocked(runID, c)
		return
	}
	for _, msg := range h.buffers[runID] {
		if err := c.Send(msg); err != nil {
			h.removeLocked(runID, c)
			return
		}
	}
}

// Disconnect removes a connection. When the last connection for a run
// leaves, the activity clock and the replay buffer go with it; the backlog
// is not meant to outlive all viewers.
func (h *Hub) Disconnect(runID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(runID, c)
}

// removeLocked drops a connection and cleans up per-run state when the set
// becomes empty. Caller holds mu.
func (h *Hub) removeLocked(runID string, c Conn) {
	set, ok := h.conns[runID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, runID)
		delete(h.lastActivity, runID)
		delete(h.buffers, runID)
	}
}

// Broadcast stamps activity, appends to the replay buffer, and delivers the
// message to every connection for the run. A failed send drops that
// connection and delivery continues for the rest. If the message carries a
// close-connection action, each connection it reached is closed
// asynchronously; Broadcast never waits on closes.
func (h *Hub) Broadcast(runID string, msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActivity[runID] = time.Now().UTC()

	buf := append(h.buffers[runID], msg)
	if len(buf) > MaxBuffer {
		buf = buf[len(buf)-MaxBuffer:]
	}
	h.buffers[runID] = buf

	set, ok := h.conns[runID]
	if !ok {
		return
	}

	closeAfter := msg.RequestsClose()
	var drop []Conn
	for c := range set {
		if err := c.Send(msg); err != nil {
			log.Printf("Error sending to websocket: %v", err)
			drop = append(drop, c)
			continue
		}
		if closeAfter {
			go func(c Conn) {
				if err := c.Close("Run cancelled"); err != nil {
					log.Printf("Error closing WebSocket: %v", err)
				}
			}(c)
			drop = append(drop, c)
		}
	}
	for _, c := range drop {
		h.removeLocked(runID, c)
	}
}

// MarkActivity refreshes the activity clock without sending anything. Used
// when a client message, including keep-alive pings, is received.
func (h *Hub) MarkActivity(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[runID] = time.Now().UTC()
}

// CloseAll closes every connection for a run with the given reason and
// removes the run from the connection table entirely.
func (h *Hub) CloseAll(runID string, reason string) {
	h.mu.Lock()
	set := h.conns[runID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(reason); err != nil {
			log.Printf("Error closing WebSocket for run %s: %v", runID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range conns {
		h.removeLocked(runID, c)
	}
	delete(h.conns, runID)
}

// Drop removes a run's connections from tracking without closing them. The
// cancellation path uses this after the run_cancelled broadcast: the peers
// were told to close themselves.
func (h *Hub) Drop(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, runID)
	delete(h.lastActivity, runID)
	delete(h.buffers, runID)
}

// ConnectionCount returns the number of live connections for a run.
func (h *Hub) ConnectionCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[runID])
}

// IdleStatus reports idle state for every run with an activity clock entry.
func (h *Hub) IdleStatus() map[string]RunIdleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	status := make(map[string]RunIdleStatus, len(h.lastActivity))
	for runID, last := range h.lastActivity {
		idle := now.Sub(last).Seconds()
		remaining := h.idleTimeout.Seconds() - idle
		if remaining < 0 {
			remaining = 0
		}
		status[runID] = RunIdleStatus{
			LastActivity:    last,
			IdleSeconds:     idle,
			WillTimeoutIn:   remaining,
			ConnectionCount: len(h.conns[runID]),
		}
	}
	return status
}

// idleRun is one run past the idle threshold with live connections.
type idleRun struct {
	runID       string
	idleSeconds float64
}

// expiredRuns lists runs whose last activity is older than the idle timeout
// and which still have at least one live connection.
func (h *Hub) expiredRuns() []idleRun {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	var expired []idleRun
	for runID, last := range h.lastActivity {
		idle := now.Sub(last).Seconds()
		if idle > h.idleTimeout.Seconds() && len(h.conns[runID]) > 0 {
			expired = append(expired, idleRun{runID: runID, idleSeconds: idle})
		}
	}
	return expired
}

// dropActivity removes a run's activity clock entry.
func (h *Hub) dropActivity(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, runID)
}
