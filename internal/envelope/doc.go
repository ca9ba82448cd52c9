// Package envelope defines the JSON wire envelope exchanged over relay
// WebSocket connections and the ingress normalization applied to it.
//
// Every frame forwarded out of a room carries id, ts and type, even when the
// sender omitted id or ts; Normalize fills them deterministically. The
// payload is opaque to the relay except for the small set of control types
// (policy_update, get_policy, ping/pong, agent_status) that rooms intercept.
package envelope
