// ABOUTME: Sub-agent lifecycle: spawn requests, auto-approval, termination.
// ABOUTME: Concurrency and hourly caps are enforced client-side from policy.

package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// ErrSpawnNotPermitted indicates a direct spawn that policy would not
// auto-approve. Use RequestSpawn to go through user approval instead.
var ErrSpawnNotPermitted = errors.New("spawn: policy does not auto-approve these permissions")

const spawnApprovalTimeout = 10 * time.Minute

// Permission is one capability requested for a sub-agent.
type Permission struct {
	Scope  string `json:"scope"`
	Target string `json:"target,omitempty"`
}

// SubAgent is a handle for one spawned sub-agent.
type SubAgent struct {
	ID     string
	Name   string
	Role   string
	client *Client
}

// SendTask sends a task to this sub-agent.
func (s *SubAgent) SendTask(task string) error {
	return s.client.Send(NewMessage("internal_command", map[string]any{
		"from":    "parent",
		"to":      s.ID,
		"command": "task",
		"data":    map[string]string{"task": task},
	}))
}

// Terminate shuts this sub-agent down and removes it from the active set.
func (s *SubAgent) Terminate(reason string) error {
	if reason == "" {
		reason = "Task complete"
	}
	err := s.client.Send(NewMessage("sub_agent_terminate", map[string]any{
		"sub_agent_id": s.ID,
		"reason":       reason,
		"notify_user":  true,
	}))
	s.client.dropSubAgent(s.ID)
	return err
}

// CanSpawn reports whether another sub-agent fits within the policy's
// concurrency and hourly caps. In off mode spawning is always requestable,
// it just needs approval.
func (c *Client) CanSpawn() bool {
	doc := c.Policy()
	if doc.AutoSpawnMode == policy.SpawnModeOff {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollSpawnWindowLocked()
	if len(c.subAgents) >= doc.MaxConcurrentSubAgents {
		return false
	}
	return c.spawnedThisHour < doc.MaxSubAgentsPerHour
}

// ActiveSubAgents returns the current sub-agent handles.
func (c *Client) ActiveSubAgents() []*SubAgent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*SubAgent, len(c.subAgents))
	copy(out, c.subAgents)
	return out
}

// WouldAutoApprove reports whether a spawn with these permissions would
// proceed without user approval under the current policy.
func (c *Client) WouldAutoApprove(permissions []Permission) bool {
	doc := c.Policy()

	switch doc.AutoSpawnMode {
	case policy.SpawnModeOff, policy.SpawnModeQueue:
		return false
	case policy.SpawnModeUnrestricted:
		return true
	}

	for _, perm := range permissions {
		if doc.IsForbidden(perm.Scope) {
			return false
		}
		if doc.AutoSpawnMode == policy.SpawnModeConstrained && doc.RequiresApproval(perm.Scope) {
			return false
		}
	}
	return true
}

// SpawnRequest describes a sub-agent to create.
type SpawnRequest struct {
	Name        string
	Role        string
	Description string
	Icon        string
	Permissions []Permission
	Lifespan    string // task_bound, session_bound, persistent
	Reason      string
}

type proposedAgent struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Role        string       `json:"role,omitempty"`
	Description string       `json:"description,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	Permissions []Permission `json:"permissions"`
	Lifespan    string       `json:"lifespan"`
}

// RequestSpawn asks the user to approve a sub-agent. Blocks until the user
// decides or the approval window lapses; a lapsed request returns nil.
func (c *Client) RequestSpawn(ctx context.Context, req SpawnRequest) (*SubAgent, error) {
	if req.Lifespan == "" {
		req.Lifespan = "task_bound"
	}
	if req.Permissions == nil {
		req.Permissions = []Permission{}
	}
	subID := subAgentID(req.Name)

	payload := map[string]any{
		"request_id": "spawn_req_" + shortHex(),
		"proposed_agent": proposedAgent{
			ID:          subID,
			Name:        req.Name,
			Role:        req.Role,
			Description: req.Description,
			Icon:        req.Icon,
			Permissions: req.Permissions,
			Lifespan:    req.Lifespan,
		},
		"reason": req.Reason,
	}

	resp, err := c.Request(ctx, NewMessage("agent_spawn_request", payload), spawnApprovalTimeout)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			return nil, nil
		}
		return nil, err
	}

	var decision struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(resp.Payload, &decision); err != nil {
		return nil, err
	}
	if decision.Decision != "approved" {
		return nil, nil
	}

	return c.trackSubAgent(subID, req.Name, req.Role), nil
}

// SpawnSubAgent creates a sub-agent without asking, which policy must
// auto-approve. The user is notified unless notify is false.
func (c *Client) SpawnSubAgent(req SpawnRequest, notify bool) (*SubAgent, error) {
	if !c.WouldAutoApprove(req.Permissions) {
		return nil, ErrSpawnNotPermitted
	}
	if req.Lifespan == "" {
		req.Lifespan = "task_bound"
	}
	if req.Permissions == nil {
		req.Permissions = []Permission{}
	}
	subID := subAgentID(req.Name)

	err := c.Send(NewMessage("sub_agent_spawn", map[string]any{
		"sub_agent_id": subID,
		"name":         req.Name,
		"role":         req.Role,
		"permissions":  req.Permissions,
		"lifespan":     req.Lifespan,
		"status":       "online",
	}))
	if err != nil {
		return nil, err
	}

	sub := c.trackSubAgent(subID, req.Name, req.Role)

	if notify {
		c.Notify(Notification{
			Title:    "Sub-Agent Spawned",
			Body:     req.Name + " started",
			Priority: PriorityLow,
			Category: "auto_spawn",
		})
	}
	return sub, nil
}

// KillAllSubAgents terminates every active sub-agent.
func (c *Client) KillAllSubAgents(reason string) {
	if reason == "" {
		reason = "User requested"
	}
	for _, sub := range c.ActiveSubAgents() {
		sub.Terminate(reason)
	}
}

func subAgentID(name string) string {
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	return "sub_" + slug + "_" + shortHex()[:6]
}

func (c *Client) trackSubAgent(id, name, role string) *SubAgent {
	if role == "" {
		role = "Sub-Agent"
	}
	sub := &SubAgent{ID: id, Name: name, Role: role, client: c}

	c.mu.Lock()
	c.rollSpawnWindowLocked()
	c.subAgents = append(c.subAgents, sub)
	c.spawnedThisHour++
	c.mu.Unlock()
	return sub
}

func (c *Client) dropSubAgent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subAgents {
		if sub.ID == id {
			c.subAgents = append(c.subAgents[:i], c.subAgents[i+1:]...)
			return
		}
	}
}

// rollSpawnWindowLocked resets the hourly spawn counter when its window has
// elapsed. Caller holds c.mu.
func (c *Client) rollSpawnWindowLocked() {
	now := time.Now()
	if c.spawnWindow.IsZero() || now.Sub(c.spawnWindow) >= time.Hour {
		c.spawnWindow = now
		c.spawnedThisHour = 0
	}
}
