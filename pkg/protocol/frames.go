// Package protocol defines the typed duplex message protocol spoken between
// the Warden daemon and its local clients. Messages are UTF-8 JSON objects,
// one per WebSocket frame, discriminated by the "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is bumped on any breaking change to the frame schema.
const ProtocolVersion = 1

// Message is the envelope for every frame in either direction.
type Message struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds a Message with the current timestamp and a marshalled payload.
// Marshal failures are programming errors; the payload is dropped and the
// frame still carries its type so the client can at least observe the event.
func New(msgType string, payload interface{}) *Message {
	m := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			m.Payload = data
		}
	}
	return m
}

// Parse decodes a raw frame into a Message. A frame without a type is
// malformed regardless of the rest of its content.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("malformed frame: missing type")
	}
	return &m, nil
}

// DecodePayload unmarshals the payload into dst.
func (m *Message) DecodePayload(dst interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	return json.Unmarshal(m.Payload, dst)
}
