// Package wire defines the websocket frame protocol shared by the
// session transport and the server hub.
package wire

import (
	"encoding/json"
	"fmt"
)

// OpCode distinguishes lifecycle frames from dispatched events.
type OpCode int

const (
	// DISPATCH - events and commands with a type field
	OpDispatch OpCode = 0

	// Lifecycle ops (server -> client)
	OpReady OpCode = 1 // Sent once after the handshake is accepted
)

// Event types (server -> client via DISPATCH)
const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventError         = "ERROR"
)

// Command types (client -> server via DISPATCH)
const (
	CmdJoin        = "JOIN"
	CmdMessageSend = "MESSAGE_SEND"
)

// Frame is the envelope of every websocket exchange.
type Frame struct {
	Op   OpCode          `json:"op"`
	Type string          `json:"t,omitempty"` // only for DISPATCH
	Data json.RawMessage `json:"d,omitempty"`
}

// Dispatch builds a DISPATCH frame carrying the given payload.
func Dispatch(eventType string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return &Frame{Op: OpDispatch, Type: eventType, Data: data}, nil
}

// Ready builds the post-handshake READY frame.
func Ready(payload ReadyPayload) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding ready payload: %w", err)
	}
	return &Frame{Op: OpReady, Data: data}, nil
}

// ReadyPayload resolves the handshake token to the session identity.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

// JoinPayload establishes presence in the implicit room.
type JoinPayload struct {
	Username string `json:"username"`
}

// ErrorPayload is sent when the server rejects a client action.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Nonce   string `json:"nonce,omitempty"`
}
