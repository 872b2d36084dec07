// Package protocol defines the WebSocket message protocol between clients and the run coordinator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types from client to server
const (
	TypeInput = "input"
	TypePing  = "ping"
)

// Message types from server to client
const (
	TypeConnectionAck = "connection_ack"
	TypePong          = "pong"
	TypeRunCancelled  = "run_cancelled"
	TypeIdleTimeout   = "idle_timeout"
	TypeError         = "error"
)

// ActionCloseConnection instructs the remote peer to close its side of the
// socket after receiving a run_cancelled message.
const ActionCloseConnection = "close_connection"

// Message is the envelope for every outbound message. Run output from the
// analysis process travels in the same shape with an arbitrary Type; the hub
// buffers and fans it out without inspecting Data.
type Message struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// CancelledData is the payload of a run_cancelled message.
type CancelledData struct {
	Message string `json:"message"`
	RunID   string `json:"run_id"`
	Action  string `json:"action"`
}

// IdleTimeoutData is the payload of an idle_timeout message.
type IdleTimeoutData struct {
	Message     string  `json:"message"`
	IdleSeconds float64 `json:"idle_duration"`
	RunID       string  `json:"run_id"`
}

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InputText decodes the data payload of an input message. A bare JSON
// string decodes to its value; anything else is forwarded verbatim.
func (m ClientMessage) InputText() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// Cancelled builds the run_cancelled message sent before connections close.
func Cancelled(runID string) Message {
	return Message{
		Type:  TypeRunCancelled,
		RunID: runID,
		Data: CancelledData{
			Message: "Run has been cancelled",
			RunID:   runID,
			Action:  ActionCloseConnection,
		},
	}
}

// IdleTimeout builds the idle_timeout notification broadcast before an idle
// run is cancelled.
func IdleTimeout(runID string, idle float64, timeout int) Message {
	return Message{
		Type:  TypeIdleTimeout,
		RunID: runID,
		Data: IdleTimeoutData{
			Message:     fmt.Sprintf("Run cancelled due to inactivity (%ds timeout)", timeout),
			IdleSeconds: idle,
			RunID:       runID,
		},
	}
}

// Error builds an error message for a single connection.
func Error(detail string) Message {
	return Message{Type: TypeError, Data: detail}
}

// RequestsClose reports whether delivery of this message should be followed
// by closing the receiving connection.
func (m Message) RequestsClose() bool {
	if m.Type != TypeRunCancelled {
		return false
	}
	switch d := m.Data.(type) {
	case CancelledData:
		return d.Action == ActionCloseConnection
	case map[string]any:
		action, _ := d["action"].(string)
		return action == ActionCloseConnection
	}
	return false
}
