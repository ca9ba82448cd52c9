// ABOUTME: Tests for sub-agent spawning rules and lifecycle.
// ABOUTME: Auto-approval truth table plus the request/approve round trip.

package spawn

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

func clientWithPolicy(doc *policy.Document) *Client {
	c := NewClient(testConfig(), nil)
	c.policy = doc
	return c
}

func TestWouldAutoApprove(t *testing.T) {
	safe := []Permission{{Scope: "files.read"}}
	forbidden := []Permission{{Scope: "system.shell"}}
	ask := []Permission{{Scope: "files.write"}}

	tests := []struct {
		name        string
		mode        string
		permissions []Permission
		want        bool
	}{
		{"off never auto-approves", policy.SpawnModeOff, safe, false},
		{"queue never auto-approves", policy.SpawnModeQueue, safe, false},
		{"unrestricted approves anything", policy.SpawnModeUnrestricted, forbidden, true},
		{"trusted approves safe permissions", policy.SpawnModeTrusted, safe, true},
		{"trusted rejects forbidden permissions", policy.SpawnModeTrusted, forbidden, false},
		{"trusted allows ask permissions", policy.SpawnModeTrusted, ask, true},
		{"constrained rejects ask permissions", policy.SpawnModeConstrained, ask, false},
		{"constrained approves safe permissions", policy.SpawnModeConstrained, safe, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := policy.Default()
			doc.AutoSpawnMode = tt.mode
			c := clientWithPolicy(doc)
			assert.Equal(t, tt.want, c.WouldAutoApprove(tt.permissions))
		})
	}
}

func TestCanSpawnEnforcesCaps(t *testing.T) {
	doc := policy.Default()
	doc.AutoSpawnMode = policy.SpawnModeTrusted
	doc.MaxConcurrentSubAgents = 2
	doc.MaxSubAgentsPerHour = 10
	c := clientWithPolicy(doc)

	assert.True(t, c.CanSpawn())

	c.trackSubAgent("sub_a", "A", "")
	assert.True(t, c.CanSpawn())
	c.trackSubAgent("sub_b", "B", "")
	assert.False(t, c.CanSpawn(), "concurrency cap reached")

	// Terminating one frees a slot.
	c.dropSubAgent("sub_a")
	assert.True(t, c.CanSpawn())
}

func TestCanSpawnHourlyCap(t *testing.T) {
	doc := policy.Default()
	doc.AutoSpawnMode = policy.SpawnModeTrusted
	doc.MaxConcurrentSubAgents = 100
	doc.MaxSubAgentsPerHour = 2
	c := clientWithPolicy(doc)

	c.trackSubAgent("sub_a", "A", "")
	c.trackSubAgent("sub_b", "B", "")
	c.dropSubAgent("sub_a")
	c.dropSubAgent("sub_b")

	assert.False(t, c.CanSpawn(), "hourly budget spent even with no active sub-agents")

	// A fresh window resets the count.
	c.mu.Lock()
	c.spawnWindow = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()
	assert.True(t, c.CanSpawn())
}

func TestCanSpawnOffModeAlwaysRequestable(t *testing.T) {
	doc := policy.Default()
	doc.MaxConcurrentSubAgents = 0
	c := clientWithPolicy(doc)
	assert.True(t, c.CanSpawn())
}

func TestSpawnSubAgentRequiresAutoApproval(t *testing.T) {
	c := clientWithPolicy(policy.Default()) // off mode
	_, err := c.SpawnSubAgent(SpawnRequest{Name: "Helper"}, false)
	assert.ErrorIs(t, err, ErrSpawnNotPermitted)
}

func TestSpawnSubAgentTracksAndNotifies(t *testing.T) {
	conn := newFakeConn()
	conn.answerPolicyFetches(policy.Default())
	c := newTestClient(t, &scriptDialer{conns: []*fakeConn{conn}}, nil)
	require.NoError(t, c.Connect(context.Background()))

	doc := policy.Default()
	doc.AutoSpawnMode = policy.SpawnModeTrusted
	c.mu.Lock()
	c.policy = doc
	c.mu.Unlock()

	sub, err := c.SpawnSubAgent(SpawnRequest{
		Name:        "Research Helper",
		Role:        "Researcher",
		Permissions: []Permission{{Scope: "files.read"}},
	}, true)
	require.NoError(t, err)
	assert.Regexp(t, `^sub_research_helper_[0-9a-f]{6}$`, sub.ID)
	assert.Len(t, c.ActiveSubAgents(), 1)

	assert.Len(t, conn.writtenOfType("sub_agent_spawn"), 1)
	assert.Len(t, conn.writtenOfType("notification"), 1)

	require.NoError(t, sub.Terminate(""))
	assert.Empty(t, c.ActiveSubAgents())
	assert.Len(t, conn.writtenOfType("sub_agent_terminate"), 1)
}

func TestRequestSpawnApproved(t *testing.T) {
	conn := newFakeConn()
	conn.answerPolicyFetches(policy.Default())

	// Approve every spawn request as the app would.
	conn.mu.Lock()
	base := conn.onWrite
	conn.onWrite = func(msg *Message) {
		if base != nil {
			base(msg)
		}
		if msg.Type != "agent_spawn_request" {
			return
		}
		data, _ := json.Marshal(map[string]any{
			"id": newID(), "ts": 1, "type": "agent_spawn_response",
			"payload": map[string]string{
				"request_id": msg.RequestID(),
				"decision":   "approved",
			},
		})
		conn.inbound <- data
	}
	conn.mu.Unlock()

	c := newTestClient(t, &scriptDialer{conns: []*fakeConn{conn}}, nil)
	require.NoError(t, c.Connect(context.Background()))

	sub, err := c.RequestSpawn(context.Background(), SpawnRequest{Name: "Helper"})
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Len(t, c.ActiveSubAgents(), 1)
}

func TestRequestSpawnDenied(t *testing.T) {
	conn := newFakeConn()
	conn.answerPolicyFetches(policy.Default())
	conn.mu.Lock()
	base := conn.onWrite
	conn.onWrite = func(msg *Message) {
		if base != nil {
			base(msg)
		}
		if msg.Type != "agent_spawn_request" {
			return
		}
		data, _ := json.Marshal(map[string]any{
			"id": newID(), "ts": 1, "type": "agent_spawn_response",
			"payload": map[string]string{
				"request_id": msg.RequestID(),
				"decision":   "denied",
			},
		})
		conn.inbound <- data
	}
	conn.mu.Unlock()

	c := newTestClient(t, &scriptDialer{conns: []*fakeConn{conn}}, nil)
	require.NoError(t, c.Connect(context.Background()))

	sub, err := c.RequestSpawn(context.Background(), SpawnRequest{Name: "Helper"})
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Empty(t, c.ActiveSubAgents())
}
