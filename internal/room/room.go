// ABOUTME: Per-identity connection multiplexer: one agent socket, many app sockets.
// ABOUTME: Owns policy interception, status broadcasts, and persisted room state.

package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spawnhq/spawn-relay/internal/envelope"
	"github.com/spawnhq/spawn-relay/internal/store"
	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// ErrClosed is returned when operating on a room that has been torn down.
var ErrClosed = errors.New("room closed")

// counterFlushInterval is how many forwarded messages may pass between lazy
// counter flushes. Policy changes always persist synchronously; only the
// message counter tail is at risk across a crash.
const counterFlushInterval = 16

// Status is the observable state of a room, consumed by the admin surface.
type Status struct {
	AgentConnected     bool       `json:"agent_connected"`
	AppConnectionCount int        `json:"app_connection_count"`
	AgentConnectedAt   *time.Time `json:"agent_connected_at,omitempty"`
	MessageCount       int64      `json:"message_count"`
}

// agentStatusPayload is the body of agent_status broadcasts.
type agentStatusPayload struct {
	Status         string `json:"status"`
	ConnectedAt    int64  `json:"connected_at,omitempty"`
	DisconnectedAt int64  `json:"disconnected_at,omitempty"`
}

// Room is the authoritative runtime state for one agent identity. All state
// transitions are serialized through a single mutex; different rooms share
// nothing and run fully concurrently.
type Room struct {
	identityID string
	store      store.Store
	logger     *slog.Logger

	mu               sync.Mutex
	agentSocket      Socket
	agentGen         uint64
	agentConnectedAt time.Time
	appSockets       map[Socket]struct{}
	policy           *policy.Document
	messageCount     int64
	flushedCount     int64
	closed           bool
}

// New creates a room for the given identity, restoring persisted policy and
// counters if the room has existed before.
func New(ctx context.Context, identityID string, st store.Store, logger *slog.Logger) (*Room, error) {
	r := &Room{
		identityID: identityID,
		store:      st,
		logger:     logger.With("component", "room", "identity_id", identityID),
		appSockets: make(map[Socket]struct{}),
		policy:     policy.Default(),
	}

	state, err := st.LoadRoomState(ctx, identityID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First connection for this identity: defaults apply.
	case err != nil:
		return nil, fmt.Errorf("restoring room state: %w", err)
	default:
		if state.Policy != nil {
			r.policy = state.Policy
		}
		r.messageCount = state.MessageCount
		r.flushedCount = state.MessageCount
	}

	return r, nil
}

// AcceptAgent installs sock as the room's single agent connection. An
// existing agent socket is closed with ReasonSuperseded before the new one
// becomes live, so two agent sockets are never simultaneously considered
// connected. Apps are told offline-then-online across a supersede.
func (r *Room) AcceptAgent(sock Socket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if prev := r.agentSocket; prev != nil {
		_ = prev.Close(ReasonSuperseded)
		r.agentSocket = nil
		r.broadcastAgentStatusLocked("offline")
		r.logger.Info("agent connection superseded", "generation", r.agentGen)
	}

	r.agentGen++
	r.agentSocket = sock
	r.agentConnectedAt = time.Now().UTC()
	r.broadcastAgentStatusLocked("online")
	r.logger.Info("agent connected", "generation", r.agentGen)
	return nil
}

// AcceptApp adds an app socket and sends it the current agent status and
// policy snapshot, so a newly joined app is never silently missing state.
// The snapshot goes to this socket only; nothing is broadcast.
func (r *Room) AcceptApp(sock Socket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.appSockets[sock] = struct{}{}

	_ = sock.Send(envelope.New(envelope.TypeAgentStatus, r.agentStatusLocked()))
	_ = sock.Send(envelope.New(envelope.TypePolicyUpdate, r.policy))

	r.logger.Debug("app connected", "app_connections", len(r.appSockets))
	return nil
}

// Route handles one normalized inbound envelope: control types are
// intercepted, everything else is forwarded by role. from is the socket the
// envelope arrived on, used for direct replies.
func (r *Room) Route(env *envelope.Envelope, fromRole string, from Socket) {
	switch env.Type {
	case envelope.TypeGetPolicy:
		r.replyPolicy(env, from)
	case envelope.TypePolicyUpdate:
		r.applyPolicyUpdate(env)
		r.Forward(env, fromRole)
	default:
		r.Forward(env, fromRole)
	}
}

// Forward increments the message counter and delivers the envelope: agent
// traffic fans out to every app socket, app traffic goes to the single agent
// socket. With no agent attached, app traffic is silently dropped — retry is
// the app's concern, not the room's.
func (r *Room) Forward(env *envelope.Envelope, fromRole string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.messageCount++
	r.maybeFlushLocked()

	if fromRole == store.RoleAgent {
		r.broadcastLocked(env)
		return
	}

	if r.agentSocket == nil {
		r.logger.Debug("dropping app message, no agent attached", "type", env.Type)
		return
	}
	if err := r.agentSocket.Send(env); err != nil {
		r.logger.Debug("send to agent failed", "error", err)
	}
}

// applyPolicyUpdate replaces the stored policy document (last write wins)
// and persists it synchronously before the envelope travels any further.
func (r *Room) applyPolicyUpdate(env *envelope.Envelope) {
	var doc policy.Document
	if err := json.Unmarshal(env.Payload, &doc); err != nil {
		r.logger.Warn("ignoring unparseable policy_update payload", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = &doc
	r.persistLocked()
}

// replyPolicy answers a get_policy request directly to the requester. The
// request is not forwarded anywhere else.
func (r *Room) replyPolicy(env *envelope.Envelope, from Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := struct {
		RequestID string `json:"request_id"`
		*policy.Document
	}{
		RequestID: env.RequestID(),
		Document:  r.policy,
	}
	if err := from.Send(envelope.New(envelope.TypePolicyUpdate, payload)); err != nil {
		r.logger.Debug("policy reply failed", "error", err)
	}
}

// SetPolicy applies an administrative policy update: persist synchronously,
// then push to the agent socket only. Apps are not echoed the change — the
// administrative origin already sees the document it wrote.
func (r *Room) SetPolicy(doc *policy.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.policy = doc
	if err := r.persistNowLocked(); err != nil {
		return err
	}

	if r.agentSocket != nil {
		if err := r.agentSocket.Send(envelope.New(envelope.TypePolicyUpdate, doc)); err != nil {
			r.logger.Debug("policy push to agent failed", "error", err)
		}
	}
	return nil
}

// Policy returns a snapshot of the current policy document.
func (r *Room) Policy() *policy.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy.Clone()
}

// Disconnect removes a socket from the room. A disconnect for a socket that
// is not the current agent socket (a stale event racing a supersede) leaves
// the slot untouched.
func (r *Room) Disconnect(sock Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sock == r.agentSocket {
		r.agentSocket = nil
		r.agentConnectedAt = time.Time{}
		r.broadcastAgentStatusLocked("offline")
		r.logger.Info("agent disconnected", "generation", r.agentGen)
		return
	}

	if _, ok := r.appSockets[sock]; ok {
		delete(r.appSockets, sock)
		r.logger.Debug("app disconnected", "app_connections", len(r.appSockets))
	}
}

// Status reports the room's observable state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		AgentConnected:     r.agentSocket != nil,
		AppConnectionCount: len(r.appSockets),
		MessageCount:       r.messageCount,
	}
	if r.agentSocket != nil {
		at := r.agentConnectedAt
		s.AgentConnectedAt = &at
	}
	return s
}

// DisconnectAll force-closes every held socket with the given reason but
// keeps the room alive. Used when tokens are regenerated.
func (r *Room) DisconnectAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.agentSocket != nil {
		_ = r.agentSocket.Close(reason)
		r.agentSocket = nil
		r.agentConnectedAt = time.Time{}
	}
	for sock := range r.appSockets {
		_ = sock.Close(reason)
		delete(r.appSockets, sock)
	}
}

// Close tears the room down: every socket is closed synchronously and the
// counter tail is flushed. Idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	if r.agentSocket != nil {
		_ = r.agentSocket.Close(ReasonIdentityDeleted)
		r.agentSocket = nil
	}
	for sock := range r.appSockets {
		_ = sock.Close(ReasonIdentityDeleted)
		delete(r.appSockets, sock)
	}

	r.persistLocked()
	r.logger.Info("room closed")
}

// agentStatusLocked builds the current agent_status payload.
func (r *Room) agentStatusLocked() agentStatusPayload {
	if r.agentSocket != nil {
		return agentStatusPayload{Status: "online", ConnectedAt: r.agentConnectedAt.UnixMilli()}
	}
	return agentStatusPayload{Status: "offline", DisconnectedAt: envelope.Now()}
}

// broadcastAgentStatusLocked fans out an agent_status envelope to all apps.
func (r *Room) broadcastAgentStatusLocked(status string) {
	p := agentStatusPayload{Status: status}
	if status == "online" {
		p.ConnectedAt = r.agentConnectedAt.UnixMilli()
	} else {
		p.DisconnectedAt = envelope.Now()
	}
	r.broadcastLocked(envelope.New(envelope.TypeAgentStatus, p))
}

// broadcastLocked delivers an envelope to every app socket, best effort per
// recipient: one failed send never blocks delivery to the rest.
func (r *Room) broadcastLocked(env *envelope.Envelope) {
	for sock := range r.appSockets {
		if err := sock.Send(env); err != nil {
			r.logger.Debug("broadcast send failed", "type", env.Type, "error", err)
		}
	}
}

// maybeFlushLocked persists the counter every counterFlushInterval messages.
// A failed lazy flush is logged and retried on the next interval.
func (r *Room) maybeFlushLocked() {
	if r.messageCount-r.flushedCount >= counterFlushInterval {
		r.persistLocked()
	}
}

// persistLocked is the lazy persist: errors are logged, not returned.
func (r *Room) persistLocked() {
	if err := r.persistNowLocked(); err != nil {
		r.logger.Warn("persisting room state failed", "error", err)
	}
}

// persistNowLocked writes the room state synchronously.
func (r *Room) persistNowLocked() error {
	err := r.store.SaveRoomState(context.Background(), &store.RoomState{
		IdentityID:   r.identityID,
		Policy:       r.policy,
		MessageCount: r.messageCount,
	})
	if err != nil {
		return fmt.Errorf("saving room state: %w", err)
	}
	r.flushedCount = r.messageCount
	return nil
}
