// ABOUTME: Periodic check-in flow for long autonomous sessions.
// ABOUTME: No response within the wait window defaults to pausing work.

package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// CheckinResponse is the user's answer to a check-in request.
type CheckinResponse struct {
	Action  string `json:"action"` // continue, pause, stop
	Message string `json:"message,omitempty"`
}

// CheckinRequired reports whether the policy's check-in interval has elapsed
// since the last check-in. The first call starts the session clock.
func (c *Client) CheckinRequired() bool {
	doc := c.Policy()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.sessionStart.IsZero() {
		c.sessionStart = now
		c.lastCheckin = now
		return false
	}
	return now.Sub(c.lastCheckin) >= time.Duration(doc.CheckInHours)*time.Hour
}

// RequestCheckin sends a check-in summary without waiting for a response.
func (c *Client) RequestCheckin(summary map[string]any, pendingSpawns int, message string) error {
	c.mu.Lock()
	start := c.sessionStart
	c.mu.Unlock()

	return c.Send(NewMessage("checkin_request", map[string]any{
		"running_since":  start.UnixMilli(),
		"summary":        summary,
		"pending_spawns": pendingSpawns,
		"message":        message,
	}))
}

// Checkin sends a check-in request and blocks for the user's decision. When
// the wait window lapses without an answer, the returned action is "pause".
func (c *Client) Checkin(ctx context.Context, summary map[string]any, wait time.Duration) (*CheckinResponse, error) {
	if wait <= 0 {
		wait = time.Hour
	}

	c.mu.Lock()
	start := c.sessionStart
	c.mu.Unlock()

	msg := NewMessage("checkin_request", map[string]any{
		"running_since": start.UnixMilli(),
		"summary":       summary,
	})

	resp, err := c.Request(ctx, msg, wait)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			return &CheckinResponse{Action: "pause"}, nil
		}
		return nil, err
	}

	var answer CheckinResponse
	if err := json.Unmarshal(resp.Payload, &answer); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastCheckin = time.Now()
	c.mu.Unlock()
	return &answer, nil
}
