// ABOUTME: Tests for the room multiplexer: topology, forwarding, interception.
// ABOUTME: Uses a fake Socket to observe sends and close reasons.

package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnhq/spawn-relay/internal/envelope"
	"github.com/spawnhq/spawn-relay/internal/store"
	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// fakeSocket records everything sent and the close reason.
type fakeSocket struct {
	mu      sync.Mutex
	sent    []*envelope.Envelope
	closed  bool
	reason  string
	sendErr error
}

func (f *fakeSocket) Send(env *envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSocket) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeSocket) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.sent))
	for i, env := range f.sent {
		types[i] = env.Type
	}
	return types
}

func (f *fakeSocket) lastOfType(msgType string) *envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == msgType {
			return f.sent[i]
		}
	}
	return nil
}

func (f *fakeSocket) isClosed() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

func newTestRoom(t *testing.T) (*Room, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	require.NoError(t, s.CreateIdentity(context.Background(), &store.Identity{
		ID: "agt_test", DisplayName: "Test", OwnerID: "usr",
	}))
	r, err := New(context.Background(), "agt_test", s, slog.Default())
	require.NoError(t, err)
	return r, s
}

func mustEnv(t *testing.T, raw string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Normalize([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestAtMostOneAgent(t *testing.T) {
	r, _ := newTestRoom(t)

	a := &fakeSocket{}
	b := &fakeSocket{}

	require.NoError(t, r.AcceptAgent(a))
	require.NoError(t, r.AcceptAgent(b))

	closed, reason := a.isClosed()
	assert.True(t, closed, "first agent socket must be closed before second goes live")
	assert.Equal(t, ReasonSuperseded, reason)

	closedB, _ := b.isClosed()
	assert.False(t, closedB)
	assert.True(t, r.Status().AgentConnected)
}

func TestStaleDisconnectImmunity(t *testing.T) {
	r, _ := newTestRoom(t)

	a := &fakeSocket{}
	b := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(a))
	require.NoError(t, r.AcceptAgent(b))

	// Late disconnect event for A arrives after B is installed.
	r.Disconnect(a)

	assert.True(t, r.Status().AgentConnected, "slot must remain occupied by B")

	// A genuine disconnect for B clears the slot.
	r.Disconnect(b)
	assert.False(t, r.Status().AgentConnected)
}

func TestBroadcastFanOut(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	app1 := &fakeSocket{}
	app2 := &fakeSocket{}
	gone := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app1))
	require.NoError(t, r.AcceptApp(app2))
	require.NoError(t, r.AcceptApp(gone))
	r.Disconnect(gone)
	goneBaseline := len(gone.sentTypes())

	env := mustEnv(t, `{"type":"text","payload":{"content":"hello"}}`)
	r.Route(env, store.RoleAgent, agent)

	for _, app := range []*fakeSocket{app1, app2} {
		got := app.lastOfType("text")
		require.NotNil(t, got)
		assert.NotEmpty(t, got.ID)
		assert.NotZero(t, got.TS)
		assert.JSONEq(t, `{"content":"hello"}`, string(got.Payload))
	}
	assert.Len(t, gone.sentTypes(), goneBaseline, "disconnected app must not receive the broadcast")
}

func TestBroadcastSurvivesFailingRecipient(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	bad := &fakeSocket{sendErr: errors.New("write on closed connection")}
	good := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(bad))
	require.NoError(t, r.AcceptApp(good))

	r.Route(mustEnv(t, `{"type":"text","payload":{}}`), store.RoleAgent, agent)

	assert.NotNil(t, good.lastOfType("text"), "delivery to healthy apps must not be blocked")
}

func TestNewAppSnapshot(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))

	app := &fakeSocket{}
	require.NoError(t, r.AcceptApp(app))

	statusEnv := app.lastOfType(envelope.TypeAgentStatus)
	require.NotNil(t, statusEnv, "new app must immediately receive agent_status")
	var status agentStatusPayload
	require.NoError(t, json.Unmarshal(statusEnv.Payload, &status))
	assert.Equal(t, "online", status.Status)
	assert.NotZero(t, status.ConnectedAt)

	policyEnv := app.lastOfType(envelope.TypePolicyUpdate)
	require.NotNil(t, policyEnv, "new app must immediately receive the current policy")
	var doc policy.Document
	require.NoError(t, json.Unmarshal(policyEnv.Payload, &doc))
	assert.Contains(t, doc.PermissionsForbidden, "system.shell")
}

func TestAgentStatusBroadcasts(t *testing.T) {
	r, _ := newTestRoom(t)

	app := &fakeSocket{}
	require.NoError(t, r.AcceptApp(app))
	baseline := len(app.sentTypes())

	agent := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))

	online := app.lastOfType(envelope.TypeAgentStatus)
	require.NotNil(t, online)
	var p agentStatusPayload
	require.NoError(t, json.Unmarshal(online.Payload, &p))
	assert.Equal(t, "online", p.Status)

	r.Disconnect(agent)
	offline := app.lastOfType(envelope.TypeAgentStatus)
	require.NoError(t, json.Unmarshal(offline.Payload, &p))
	assert.Equal(t, "offline", p.Status)
	assert.NotZero(t, p.DisconnectedAt)

	assert.GreaterOrEqual(t, len(app.sentTypes()), baseline+2)
}

func TestAppToAbsentAgentSilentlyDropped(t *testing.T) {
	r, _ := newTestRoom(t)

	app := &fakeSocket{}
	require.NoError(t, r.AcceptApp(app))

	before := r.Status().MessageCount
	r.Route(mustEnv(t, `{"type":"message","payload":{"text":"hi"}}`), store.RoleApp, app)

	assert.Equal(t, before+1, r.Status().MessageCount, "message counter still increments")
}

func TestPolicyUpdateFromAgent(t *testing.T) {
	r, s := newTestRoom(t)

	agent := &fakeSocket{}
	app := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app))
	appBaseline := len(app.sentTypes())

	env := mustEnv(t, `{"type":"policy_update","payload":{"permissions_forbidden":["system.shell"],"auto_spawn_mode":"constrained"}}`)
	r.Route(env, store.RoleAgent, agent)

	// Stored policy replaced.
	doc := r.Policy()
	assert.Equal(t, policy.SpawnModeConstrained, doc.AutoSpawnMode)
	assert.Equal(t, []string{"system.shell"}, doc.PermissionsForbidden)

	// Persisted synchronously.
	state, err := s.LoadRoomState(context.Background(), "agt_test")
	require.NoError(t, err)
	assert.Equal(t, policy.SpawnModeConstrained, state.Policy.AutoSpawnMode)

	// Broadcast onward to apps with filled id/ts.
	fwd := app.sentTypes()[appBaseline:]
	assert.Contains(t, fwd, envelope.TypePolicyUpdate)
	got := app.lastOfType(envelope.TypePolicyUpdate)
	assert.NotEmpty(t, got.ID)
	assert.NotZero(t, got.TS)
}

func TestGetPolicyDirectReply(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	app := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app))
	agentBaseline := len(agent.sentTypes())

	env := mustEnv(t, `{"id":"msg_q1","type":"get_policy","payload":{}}`)
	r.Route(env, store.RoleApp, app)

	reply := app.lastOfType(envelope.TypePolicyUpdate)
	require.NotNil(t, reply)

	var p struct {
		RequestID            string   `json:"request_id"`
		PermissionsForbidden []string `json:"permissions_forbidden"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &p))
	assert.Equal(t, "msg_q1", p.RequestID, "reply correlates to the request")
	assert.Contains(t, p.PermissionsForbidden, "system.shell")

	assert.Len(t, agent.sentTypes(), agentBaseline, "agent never sees the get_policy request")
}

func TestAdminSetPolicyPushesOnlyToAgent(t *testing.T) {
	r, s := newTestRoom(t)

	agent := &fakeSocket{}
	app := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app))
	appBaseline := len(app.sentTypes())

	doc := policy.Default()
	doc.AutoSpawnMode = policy.SpawnModeTrusted
	require.NoError(t, r.SetPolicy(doc))

	push := agent.lastOfType(envelope.TypePolicyUpdate)
	require.NotNil(t, push, "agent receives the administrative policy push")

	assert.Len(t, app.sentTypes(), appBaseline, "apps are not echoed administrative pushes")

	state, err := s.LoadRoomState(context.Background(), "agt_test")
	require.NoError(t, err)
	assert.Equal(t, policy.SpawnModeTrusted, state.Policy.AutoSpawnMode)
}

func TestCounterFlushCadence(t *testing.T) {
	r, s := newTestRoom(t)

	agent := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))

	for range counterFlushInterval - 1 {
		r.Forward(mustEnv(t, `{"type":"text","payload":{}}`), store.RoleAgent)
	}
	assert.Equal(t, int64(0), s.SavedMessageCount("agt_test"), "counter not yet flushed")

	r.Forward(mustEnv(t, `{"type":"text","payload":{}}`), store.RoleAgent)
	assert.Equal(t, int64(counterFlushInterval), s.SavedMessageCount("agt_test"))
}

func TestRoomRestoresPersistedState(t *testing.T) {
	r, s := newTestRoom(t)

	agent := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	r.Route(mustEnv(t, `{"type":"policy_update","payload":{"auto_spawn_mode":"queue"}}`), store.RoleAgent, agent)
	r.Close()

	restored, err := New(context.Background(), "agt_test", s, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, policy.SpawnModeQueue, restored.Policy().AutoSpawnMode)
	assert.Equal(t, r.Status().MessageCount, restored.Status().MessageCount)
}

func TestCloseIdempotent(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	app := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app))

	r.Close()
	r.Close() // harmless

	closedAgent, reason := agent.isClosed()
	assert.True(t, closedAgent)
	assert.Equal(t, ReasonIdentityDeleted, reason)
	closedApp, _ := app.isClosed()
	assert.True(t, closedApp)

	assert.ErrorIs(t, r.AcceptAgent(&fakeSocket{}), ErrClosed)
	assert.ErrorIs(t, r.AcceptApp(&fakeSocket{}), ErrClosed)
}

func TestDisconnectAllKeepsRoomAlive(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	app := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))
	require.NoError(t, r.AcceptApp(app))

	r.DisconnectAll(ReasonTokensRevoked)

	_, reason := agent.isClosed()
	assert.Equal(t, ReasonTokensRevoked, reason)
	assert.False(t, r.Status().AgentConnected)
	assert.Zero(t, r.Status().AppConnectionCount)

	// Room still accepts new connections.
	assert.NoError(t, r.AcceptAgent(&fakeSocket{}))
}

func TestConcurrentForwardAndDisconnect(t *testing.T) {
	r, _ := newTestRoom(t)

	agent := &fakeSocket{}
	require.NoError(t, r.AcceptAgent(agent))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app := &fakeSocket{}
			if err := r.AcceptApp(app); err != nil {
				return
			}
			r.Route(mustEnv(t, `{"type":"message","payload":{"text":"x"}}`), store.RoleApp, app)
			r.Disconnect(app)
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Forward(mustEnv(t, `{"type":"text","payload":{}}`), store.RoleAgent)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(16), r.Status().MessageCount)
	assert.True(t, r.Status().AgentConnected)
}
