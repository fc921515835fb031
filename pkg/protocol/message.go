// Package protocol is the JSON websocket protocol between sentry and edge
// nodes. Nodes stream camera frames and microphone audio in; sentry sends
// alert transitions and capture settings out.
//
// Every message is an envelope {"type", "ts", "data"} where ts is the
// sender clock in Unix milliseconds and data depends on type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type names a message kind.
type Type string

const (
	// edge to sentry
	TypeHello Type = "hello"
	TypeFrame Type = "frame"
	TypeMic   Type = "mic"

	// sentry to edge
	TypeAlert  Type = "alert"
	TypeConfig Type = "config"

	// either way
	TypePing Type = "ping"
	TypePong Type = "pong"
)

// ErrInvalidPayload marks a message that parsed as JSON but is unusable:
// no type, no body, or a body that fails its checks.
var ErrInvalidPayload = errors.New("invalid payload")

// Message is the envelope.
type Message struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New wraps payload, stamped with the current time. A nil payload leaves
// data out.
func New(t Type, payload any) (*Message, error) {
	m := &Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		m.Data = data
	}
	return m, nil
}

// Parse decodes an envelope. The payload stays raw until Decode.
func Parse(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("parse message: %w: no type", ErrInvalidPayload)
	}
	return &m, nil
}

// Encode returns the wire form of m.
func (m *Message) Encode() ([]byte, error) { return json.Marshal(m) }

// Time is the sender timestamp, zero when absent.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// checker is implemented by payloads with invariants beyond their JSON
// shape.
type checker interface {
	check() error
}

// Decode unmarshals the payload of m as a T and runs its checks. Every
// failure wraps ErrInvalidPayload.
func Decode[T any](m *Message) (T, error) {
	var v T
	if len(m.Data) == 0 {
		return v, fmt.Errorf("%s: %w: no data", m.Type, ErrInvalidPayload)
	}
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return v, fmt.Errorf("%s: %w: %v", m.Type, ErrInvalidPayload, err)
	}
	if c, ok := any(&v).(checker); ok {
		if err := c.check(); err != nil {
			return v, fmt.Errorf("%s: %w: %v", m.Type, ErrInvalidPayload, err)
		}
	}
	return v, nil
}
