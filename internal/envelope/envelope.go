// ABOUTME: Wire envelope type and ingress normalization for relay messages.
// ABOUTME: Fills missing id/ts fields and rejects frames without a type.

package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed indicates the raw frame was not a JSON object.
var ErrMalformed = errors.New("malformed envelope")

// ErrMissingType indicates the frame parsed but carried no type field.
var ErrMissingType = errors.New("envelope missing type")

// Control types intercepted by the relay. Everything else is opaque
// pass-through defined by the higher-level protocol.
const (
	TypePolicyUpdate = "policy_update"
	TypeGetPolicy    = "get_policy"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeAgentStatus  = "agent_status"
)

// Envelope is the unit of exchange between agents and apps.
// Payload is kept raw: its shape belongs to each message type, not the relay.
type Envelope struct {
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewID returns a fresh message ID in the wire format ("msg_" + 12 hex chars).
func NewID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Now returns the current time as epoch milliseconds, the wire timestamp unit.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Normalize parses a raw transport frame into an Envelope, filling id and ts
// when the sender omitted them. The type field is required; the payload is
// never inspected.
func Normalize(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformed
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.Fill()
	return &env, nil
}

// Fill assigns id and ts if they are missing. Idempotent.
func (e *Envelope) Fill() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.TS == 0 {
		e.TS = Now()
	}
}

// RequestID extracts the correlation key for a reply: the request_id field
// inside the payload, falling back to the envelope's own id.
func (e *Envelope) RequestID() string {
	var p struct {
		RequestID string `json:"request_id"`
	}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err == nil && p.RequestID != "" {
			return p.RequestID
		}
	}
	return e.ID
}

// New builds an envelope of the given type with a marshaled payload.
// Marshal failures are programmer errors on our own payload structs, so New
// panics rather than returning an error nobody checks.
func New(msgType string, payload any) *Envelope {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic("envelope: marshal payload: " + err.Error())
		}
		raw = b
	}
	env := &Envelope{Type: msgType, Payload: raw}
	env.Fill()
	return env
}
