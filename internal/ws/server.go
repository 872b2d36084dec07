// Package ws provides the WebSocket endpoint for bidirectional run streaming.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/kristenwon/shepherd-mvp/internal/config"
	"github.com/kristenwon/shepherd-mvp/internal/hub"
	"github.com/kristenwon/shepherd-mvp/internal/protocol"
	"github.com/kristenwon/shepherd-mvp/internal/runner"
)

// Server handles WebSocket connections for runs.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	runner   *runner.Runner
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, run *runner.Runner) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		runner: run,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and runs the connection lifecycle
// for GET /ws/:run_id.
func (s *Server) HandleWebSocket(c echo.Context) error {
	runID := c.Param("run_id")

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := newClientConn(ws, s.cfg.WriteTimeout)
	go s.writePump(conn)

	s.hub.Connect(runID, conn)

	go s.readPump(runID, conn)
	return nil
}

// readPump reads client messages for a run until the connection dies.
func (s *Server) readPump(runID string, conn *clientConn) {
	defer func() {
		s.hub.Disconnect(runID, conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for run %s: %v", runID, err)
			}
			return
		}

		// Anything arriving from the client counts as activity.
		s.hub.MarkActivity(runID)
		s.handleMessage(runID, conn, data)
	}
}

// handleMessage dispatches one inbound client message.
func (s *Server) handleMessage(runID string, conn *clientConn, data []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.Send(protocol.Error("Invalid JSON message"))
		return
	}

	switch msg.Type {
	case protocol.TypeInput:
		if !s.runner.SubmitInput(runID, msg.InputText()) {
			conn.Send(protocol.Error("Run not found or not ready for input"))
		}
	case protocol.TypePing:
		conn.Send(protocol.Message{Type: protocol.TypePong})
		s.hub.MarkActivity(runID)
	default:
		// Unknown client message types are ignored.
	}
}

// writePump drains the connection's send queue and keeps the socket alive
// with protocol-level pings.
func (s *Server) writePump(conn *clientConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.write(websocket.TextMessage, data); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.closed:
			conn.flushAndSayGoodbye()
			return
		}
	}
}

// flushAndSayGoodbye writes every message queued before Close was requested,
// then the close frame. Broadcasts that triggered the close (run_cancelled,
// idle_timeout) are still in the queue at this point and must beat the frame
// to the peer.
func (c *clientConn) flushAndSayGoodbye() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Printf("Failed to flush message before close: %v", err)
				return
			}
		default:
			frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, c.closeReason)
			if err := c.write(websocket.CloseMessage, frame); err != nil {
				log.Printf("Failed to write close frame: %v", err)
			}
			return
		}
	}
}

// HandleEcho is a plain echo endpoint for connectivity testing.
// GET /echo/:run_id.
func (s *Server) HandleEcho(c echo.Context) error {
	runID := c.Param("run_id")

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ws.WriteMessage(websocket.TextMessage, []byte("hello "+runID))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil
		}
		if err := ws.WriteMessage(websocket.TextMessage, append([]byte("echo: "), data...)); err != nil {
			return nil
		}
	}
}
