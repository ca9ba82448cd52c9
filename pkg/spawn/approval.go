// ABOUTME: User approval flows: confirmations with danger levels and options.
// ABOUTME: A timed-out confirmation counts as declined, never approved.

package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Danger levels for confirmations. High requires a slide gesture in the app,
// critical additionally requires biometrics.
const (
	DangerLow      = "low"
	DangerMedium   = "medium"
	DangerHigh     = "high"
	DangerCritical = "critical"
)

// ConfirmRequest describes a yes/no confirmation shown to the user.
type ConfirmRequest struct {
	Title       string
	Message     string
	DangerLevel string
	Details     []CardField
	Timeout     time.Duration
}

type confirmPayload struct {
	RequestID         string      `json:"request_id"`
	Title             string      `json:"title"`
	Summary           string      `json:"summary,omitempty"`
	DangerLevel       string      `json:"danger_level"`
	TimeoutSeconds    int         `json:"timeout_seconds"`
	Options           []Action    `json:"options"`
	Details           []CardField `json:"details,omitempty"`
	RequiresSlide     bool        `json:"requires_slide,omitempty"`
	RequiresBiometric bool        `json:"requires_biometric,omitempty"`
}

type confirmResponse struct {
	Action string `json:"action"`
}

// Confirm asks the user a yes/no question and blocks for the answer. Returns
// true only on an explicit confirm; timeouts and dismissals are false.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	if req.DangerLevel == "" {
		req.DangerLevel = DangerMedium
	}
	if req.Timeout <= 0 {
		req.Timeout = 5 * time.Minute
	}

	payload := confirmPayload{
		RequestID:      "cfm_" + shortHex(),
		Title:          req.Title,
		Summary:        req.Message,
		DangerLevel:    req.DangerLevel,
		TimeoutSeconds: int(req.Timeout.Seconds()),
		Details:        req.Details,
		Options: []Action{
			{ID: "cancel", Label: "Cancel", Style: "secondary"},
			{ID: "confirm", Label: "Confirm", Style: "primary"},
		},
	}
	if req.DangerLevel == DangerHigh || req.DangerLevel == DangerCritical {
		payload.RequiresSlide = true
	}
	if req.DangerLevel == DangerCritical {
		payload.RequiresBiometric = true
	}

	resp, err := c.Request(ctx, NewMessage("confirmation_request", payload), req.Timeout)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			return false, nil
		}
		return false, err
	}

	var answer confirmResponse
	if err := json.Unmarshal(resp.Payload, &answer); err != nil {
		return false, err
	}
	return answer.Action == "confirm", nil
}

// ConfirmWithOptions asks the user to pick one of the given options. Returns
// the selected option ID, or "" when the request timed out or was dismissed.
func (c *Client) ConfirmWithOptions(ctx context.Context, req ConfirmRequest, options []Action) (string, error) {
	if req.DangerLevel == "" {
		req.DangerLevel = DangerMedium
	}
	if req.Timeout <= 0 {
		req.Timeout = 5 * time.Minute
	}

	payload := confirmPayload{
		RequestID:      "cfm_" + shortHex(),
		Title:          req.Title,
		Summary:        req.Message,
		DangerLevel:    req.DangerLevel,
		TimeoutSeconds: int(req.Timeout.Seconds()),
		Options:        options,
	}

	resp, err := c.Request(ctx, NewMessage("confirmation_request", payload), req.Timeout)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			return "", nil
		}
		return "", err
	}

	var answer confirmResponse
	if err := json.Unmarshal(resp.Payload, &answer); err != nil {
		return "", err
	}
	return answer.Action, nil
}
