package ws

import (
	"encoding/json"
	"fmt"
)

// TypeAuth is the first frame written on every new connection.
const TypeAuth = "auth"

// Frame is one JSON unit on the wire: {"type": ..., "payload": {...}}.
// The transport treats Type and Payload as opaque.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is sent in the auth frame after dialing.
type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(typ string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Frame{Type: typ, Payload: raw}, nil
}

// ParseFrame parses a raw wire message into a frame envelope.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
