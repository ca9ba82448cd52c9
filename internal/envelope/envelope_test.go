// ABOUTME: Tests for envelope normalization and correlation key extraction.
// ABOUTME: Covers missing fields, malformed frames, and request_id fallback.

package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FillsMissingFields(t *testing.T) {
	env, err := Normalize([]byte(`{"type":"message","payload":{"text":"hi"}}`))
	require.NoError(t, err)

	assert.Equal(t, "message", env.Type)
	assert.True(t, strings.HasPrefix(env.ID, "msg_"), "id should use msg_ prefix, got %q", env.ID)
	assert.Len(t, env.ID, len("msg_")+12)
	assert.Greater(t, env.TS, int64(0))
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Payload))
}

func TestNormalize_PreservesProvidedFields(t *testing.T) {
	env, err := Normalize([]byte(`{"id":"msg_abc123def456","ts":1700000000000,"type":"text"}`))
	require.NoError(t, err)

	assert.Equal(t, "msg_abc123def456", env.ID)
	assert.Equal(t, int64(1700000000000), env.TS)
}

func TestNormalize_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"truncated", `{"type":"mess`},
		{"wrong id type", `{"type":"x","id":42}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNormalize_MissingType(t *testing.T) {
	_, err := Normalize([]byte(`{"payload":{"text":"hi"}}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Normalize([]byte(`{"type":"","payload":{}}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestRequestID_PayloadWins(t *testing.T) {
	env, err := Normalize([]byte(`{"type":"confirmation_response","payload":{"request_id":"cfm_123","action":"confirm"}}`))
	require.NoError(t, err)
	assert.Equal(t, "cfm_123", env.RequestID())
}

func TestRequestID_FallsBackToEnvelopeID(t *testing.T) {
	env, err := Normalize([]byte(`{"id":"msg_fallback0001","type":"pong","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "msg_fallback0001", env.RequestID())
}

func TestNew_MarshalsPayload(t *testing.T) {
	env := New("status_update", map[string]string{"status": "thinking"})

	require.NotEmpty(t, env.ID)
	require.NotZero(t, env.TS)

	var p map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "thinking", p["status"])
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
