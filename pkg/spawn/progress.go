// ABOUTME: Progress indicators for long-running tasks.
// ABOUTME: A handle tracks one indicator through update, complete, or fail.

package spawn

// ProgressStep is one labeled step in a multi-step progress indicator.
type ProgressStep struct {
	Label  string `json:"label"`
	Status string `json:"status"` // pending, running, complete, failed
}

// Progress is a handle for updating one progress indicator.
type Progress struct {
	client *Client
	id     string
	steps  []string
	total  int
}

type progressPayload struct {
	RequestID  string         `json:"request_id"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status"`
	Progress   *float64       `json:"progress,omitempty"`
	Message    string         `json:"message,omitempty"`
	Steps      []ProgressStep `json:"steps,omitempty"`
	Cancelable *bool          `json:"cancelable,omitempty"`
}

// StartProgress creates a progress indicator. Steps and total are optional;
// when total is set, Update computes the fraction from current/total.
func (c *Client) StartProgress(title string, steps []string, total int) (*Progress, error) {
	p := &Progress{
		client: c,
		id:     "prg_" + shortHex(),
		steps:  steps,
		total:  total,
	}

	zero := 0.0
	cancelable := true
	payload := progressPayload{
		RequestID:  p.id,
		Title:      title,
		Status:     "running",
		Progress:   &zero,
		Cancelable: &cancelable,
	}
	for _, s := range steps {
		payload.Steps = append(payload.Steps, ProgressStep{Label: s, Status: "pending"})
	}

	if err := c.Send(NewMessage("progress", payload)); err != nil {
		return nil, err
	}
	return p, nil
}

// Update reports progress. current indexes into the configured total; step
// marks the running step (earlier steps show complete). Pass -1 to leave
// either unchanged.
func (p *Progress) Update(current, step int, message string) error {
	payload := progressPayload{
		RequestID: p.id,
		Status:    "running",
		Message:   message,
	}

	if current >= 0 && p.total > 0 {
		fraction := float64(current) / float64(p.total)
		payload.Progress = &fraction
	}

	if step >= 0 && len(p.steps) > 0 {
		for i, s := range p.steps {
			st := "pending"
			switch {
			case i < step:
				st = "complete"
			case i == step:
				st = "running"
			}
			payload.Steps = append(payload.Steps, ProgressStep{Label: s, Status: st})
		}
	}

	return p.client.Send(NewMessage("progress", payload))
}

// Complete marks the indicator finished.
func (p *Progress) Complete(message string) error {
	one := 1.0
	return p.client.Send(NewMessage("progress", progressPayload{
		RequestID: p.id,
		Status:    "complete",
		Progress:  &one,
		Message:   message,
	}))
}

// Fail marks the indicator failed.
func (p *Progress) Fail(message string) error {
	return p.client.Send(NewMessage("progress", progressPayload{
		RequestID: p.id,
		Status:    "failed",
		Message:   message,
	}))
}
