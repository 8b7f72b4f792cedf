// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package control implements the control-channel codec: framing and
// unframing JSON event envelopes on a single websocket transport, with a
// serialized writer so outbound frames never interleave.
package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	sttErrors "github.com/realtalk/sttgateway/internal/errors"
	"github.com/realtalk/sttgateway/pkg/commons"
)

// Envelope is the wire shape of every control-channel message:
// {event: string, data: object}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Upgrader accepts any origin; CORS policy is enforced upstream of this
// service.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one websocket connection with a serialized writer so
// concurrent producers cannot interleave frames.
type Conn struct {
	ws     *websocket.Conn
	logger commons.Logger
	mu     sync.Mutex
}

// NewConn wraps an already-upgraded websocket connection.
func NewConn(ws *websocket.Conn, logger commons.Logger) *Conn {
	return &Conn{ws: ws, logger: logger}
}

// ReadEnvelope blocks for the next text message and parses it as an
// Envelope. A JSON parse failure comes back as a WireError carrying
// INVALID_PAYLOAD; the caller reports it and keeps reading rather than
// dropping the connection.
func (c *Conn) ReadEnvelope() (*Envelope, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("control channel read failed: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, sttErrors.New(sttErrors.InvalidPayload, "invalid JSON: %v", err)
	}
	if env.Event == "" {
		return nil, sttErrors.New(sttErrors.InvalidPayload, "missing required field \"event\"")
	}
	return &env, nil
}

// Write serializes and sends one {event, data} envelope. Calls are
// serialized per connection so frames never interleave.
func (c *Conn) Write(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for event %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteJSON(Envelope{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("control channel write failed for event %s: %w", event, err)
	}
	return nil
}

// WriteError is a convenience wrapper for emitting stt.error.
func (c *Conn) WriteError(code sttErrors.Code, message string) error {
	return c.Write("stt.error", map[string]string{
		"code":    string(code),
		"message": message,
	})
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.ws.Close()
}
