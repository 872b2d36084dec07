package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/protocol"
)

// ErrBufferFull is returned when a connection's send queue is full; the hub
// treats it as a delivery failure and drops the connection.
var ErrBufferFull = errors.New("send buffer full")

// sendQueueSize must hold a full replay backlog plus slack for live
// messages: Connect queues the entire buffer faster than the write pump can
// drain it to the socket, and a late joiner must never lose part of the
// backlog to the drop-on-full path.
const sendQueueSize = hub.MaxBuffer + 256

// clientConn adapts a *websocket.Conn to hub.Conn. Outbound messages go
// through a buffered queue drained by writePump so hub broadcasts never
// block on a slow socket.
type clientConn struct {
	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	closeReason  string
	writeTimeout time.Duration

	mu sync.Mutex // serializes writes to ws
}

func newClientConn(ws *websocket.Conn, writeTimeout time.Duration) *clientConn {
	return &clientConn{
		ws:           ws,
		send:         make(chan []byte, sendQueueSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send queues a message for delivery. A full queue means the peer is not
// reading; report failure instead of blocking.
func (c *clientConn) Send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close asks the write pump to shut the connection down. The pump flushes
// every message queued before this call, then sends a close frame with the
// given reason, so a run_cancelled or idle_timeout broadcast always reaches
// the peer ahead of the close.
func (c *clientConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closed)
	})
	return nil
}

// write performs one locked write with the configured deadline.
func (c *clientConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}
