// ABOUTME: Push notification sender for the user's devices.

package spawn

// Notification priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification is a push notification shown on the user's devices.
type Notification struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Priority string   `json:"priority"`
	Category string   `json:"category"`
	Actions  []Action `json:"actions"`
}

// Notify sends a push notification. Priority defaults to normal, category to
// message.
func (c *Client) Notify(n Notification) error {
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.Category == "" {
		n.Category = "message"
	}
	if n.Actions == nil {
		n.Actions = []Action{}
	}
	return c.Send(NewMessage("notification", n))
}
