// ABOUTME: Agent status reporting: idle, thinking, working, waiting, ...
// ABOUTME: Tracks the last reported state locally.

package spawn

// SetStatus reports the agent's current activity state to companion apps.
// Recognized states: idle, thinking, working, trading, waiting, error,
// success. The label is optional display text.
func (c *Client) SetStatus(state, label string) error {
	c.mu.Lock()
	c.status = state
	c.mu.Unlock()

	return c.Send(NewMessage("status_update", map[string]string{
		"status": state,
		"label":  label,
	}))
}

// Status returns the last state reported through SetStatus, or "idle".
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == "" {
		return "idle"
	}
	return c.status
}
