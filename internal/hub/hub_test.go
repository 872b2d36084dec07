package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kristenwon/shepherd-mvp/internal/protocol"
)

// fakeConn records everything sent to it.
type fakeConn struct {
	mu          sync.Mutex
	msgs        []protocol.Message
	closed      bool
	closeReason string
	failSend    bool
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func output(n int) protocol.Message {
	return protocol.Message{Type: "output", Data: fmt.Sprintf("line %d", n)}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSendsAckFirst(t *testing.T) {
	h := New(time.Minute)
	c := &fakeConn{}

	h.Connect("r1", c)

	msgs := c.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Type != protocol.TypeConnectionAck || msgs[0].RunID != "r1" {
		t.Fatalf("expected connection_ack for r1, got %+v", msgs[0])
	}
}

func TestLateJoinerGetsBacklogThenLive(t *testing.T) {
	h := New(time.Minute)

	// Backlog accumulates with zero connections.
	for i := 1; i <= 3; i++ {
		h.Broadcast("y", output(i))
	}

	c := &fakeConn{}
	h.Connect("y", c)
	h.Broadcast("y", output(4))

	msgs := c.messages()
	if len(msgs) != 5 {
		t.Fatalf("expected ack + 4 messages, got %d", len(msgs))
	}
	if msgs[0].Type != protocol.TypeConnectionAck {
		t.Fatalf("expected connection_ack first, got %+v", msgs[0])
	}
	for i := 1; i <= 4; i++ {
		want := fmt.Sprintf("line %d", i)
		if msgs[i].Data != want {
			t.Fatalf("message %d: expected %q, got %v", i, want, msgs[i].Data)
		}
	}
}

func TestReconnectionResetsBuffer(t *testing.T) {
	h := New(time.Minute)

	first := &fakeConn{}
	h.Connect("z", first)
	for i := 1; i <= 3; i++ {
		h.Broadcast("z", output(i))
	}

	// Last connection leaves: buffer is dropped with it.
	h.Disconnect("z", first)

	h.Broadcast("z", output(4))

	second := &fakeConn{}
	h.Connect("z", second)

	msgs := second.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected ack + 1 message, got %d", len(msgs))
	}
	if msgs[1].Data != "line 4" {
		t.Fatalf("expected only line 4 after reconnect, got %v", msgs[1].Data)
	}
}

func TestBufferEviction(t *testing.T) {
	h := New(time.Minute)

	for i := 1; i <= MaxBuffer+100; i++ {
		h.Broadcast("big", output(i))
	}

	c := &fakeConn{}
	h.Connect("big", c)

	msgs := c.messages()
	if len(msgs) != MaxBuffer+1 {
		t.Fatalf("expected ack + %d messages, got %d", MaxBuffer, len(msgs))
	}
	if msgs[1].Data != "line 101" {
		t.Fatalf("expected oldest surviving message to be line 101, got %v", msgs[1].Data)
	}
	if msgs[len(msgs)-1].Data != fmt.Sprintf("line %d", MaxBuffer+100) {
		t.Fatalf("unexpected newest message: %v", msgs[len(msgs)-1].Data)
	}
}

func TestBroadcastDropsFailingConn(t *testing.T) {
	h := New(time.Minute)

	good := &fakeConn{}
	bad := &fakeConn{failSend: true}
	h.Connect("r", good)
	h.conns["r"][bad] = struct{}{} // bad joins without replay to keep Send counts simple

	h.Broadcast("r", output(1))

	if got := h.ConnectionCount("r"); got != 1 {
		t.Fatalf("expected failing conn dropped, count = %d", got)
	}
	msgs := good.messages()
	if msgs[len(msgs)-1].Data != "line 1" {
		t.Fatal("healthy conn should still receive the broadcast")
	}
}

func TestCancelledBroadcastClosesConnections(t *testing.T) {
	h := New(time.Minute)

	c := &fakeConn{}
	h.Connect("x", c)

	h.Broadcast("x", protocol.Cancelled("x"))

	msgs := c.messages()
	last := msgs[len(msgs)-1]
	if last.Type != protocol.TypeRunCancelled {
		t.Fatalf("expected run_cancelled delivered, got %+v", last)
	}
	data, ok := last.Data.(protocol.CancelledData)
	if !ok || data.Action != protocol.ActionCloseConnection {
		t.Fatalf("expected close_connection action, got %+v", last.Data)
	}

	// Close is fire-and-forget relative to the broadcast call.
	waitFor(t, c.isClosed, "connection close")
	if got := h.ConnectionCount("x"); got != 0 {
		t.Fatalf("expected connection removed, count = %d", got)
	}
}

func TestCloseAll(t *testing.T) {
	h := New(time.Minute)

	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("r", a)
	h.Connect("r", b)

	h.CloseAll("r", "Idle timeout")

	if !a.isClosed() || !b.isClosed() {
		t.Fatal("expected both connections closed")
	}
	if a.reason() != "Idle timeout" {
		t.Fatalf("unexpected close reason: %s", a.reason())
	}
	if got := h.ConnectionCount("r"); got != 0 {
		t.Fatalf("expected run removed from table, count = %d", got)
	}
}

func TestIdleStatusReporting(t *testing.T) {
	h := New(10 * time.Second)

	c := &fakeConn{}
	h.Connect("r", c)

	status := h.IdleStatus()
	entry, ok := status["r"]
	if !ok {
		t.Fatal("expected idle entry for r")
	}
	if entry.ConnectionCount != 1 {
		t.Fatalf("expected 1 connection, got %d", entry.ConnectionCount)
	}
	if entry.WillTimeoutIn <= 0 || entry.WillTimeoutIn > 10 {
		t.Fatalf("unexpected will_timeout_in: %f", entry.WillTimeoutIn)
	}

	// Disconnecting the last viewer removes tracking entirely.
	h.Disconnect("r", c)
	if len(h.IdleStatus()) != 0 {
		t.Fatal("expected no idle entries after last disconnect")
	}
}

func TestWillTimeoutInFloorsAtZero(t *testing.T) {
	h := New(time.Millisecond)

	c := &fakeConn{}
	h.Connect("r", c)
	time.Sleep(5 * time.Millisecond)

	entry := h.IdleStatus()["r"]
	if entry.WillTimeoutIn != 0 {
		t.Fatalf("expected will_timeout_in floored at 0, got %f", entry.WillTimeoutIn)
	}
}

func TestMarkActivityRefreshesClock(t *testing.T) {
	h := New(time.Minute)

	c := &fakeConn{}
	h.Connect("r", c)
	before := h.IdleStatus()["r"].LastActivity

	time.Sleep(5 * time.Millisecond)
	h.MarkActivity("r")

	after := h.IdleStatus()["r"].LastActivity
	if !after.After(before) {
		t.Fatal("expected activity clock refreshed")
	}
}
