// ABOUTME: Wire message type for the agent SDK.
// ABOUTME: Mirrors the relay envelope: id, ts, type, opaque payload.

package spawn

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Control message types the SDK handles itself. Everything else is delivered
// to the application listener.
const (
	TypePolicyUpdate = "policy_update"
	TypeGetPolicy    = "get_policy"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeAgentStatus  = "agent_status"
)

// Message is one relay frame.
type Message struct {
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message of the given type with a marshaled payload.
// Marshal failures on our own payload structs are programmer errors.
func NewMessage(msgType string, payload any) *Message {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic("spawn: marshal payload: " + err.Error())
		}
		raw = b
	}
	m := &Message{Type: msgType, Payload: raw}
	m.fill()
	return m
}

// newID returns a fresh message ID in the wire format ("msg_" + 12 hex chars).
func newID() string {
	return "msg_" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (m *Message) fill() {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.TS == 0 {
		m.TS = time.Now().UnixMilli()
	}
}

// RequestID extracts the correlation key for matching replies: the request_id
// field inside the payload, falling back to the message's own id.
func (m *Message) RequestID() string {
	var p struct {
		RequestID string `json:"request_id"`
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &p); err == nil && p.RequestID != "" {
			return p.RequestID
		}
	}
	return m.ID
}
