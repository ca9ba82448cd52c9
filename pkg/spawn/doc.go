// Package spawn is the agent-side client for the spawn relay.
//
// # Overview
//
// A Client holds one authenticated WebSocket connection to the relay's agent
// endpoint and keeps it alive: heartbeats every 30 seconds, automatic
// reconnection with linear backoff (2s, 4s, 6s, 8s, then capped at 10s, five
// attempts), and a correlation table matching replies to in-flight requests.
//
// Basic usage:
//
//	cfg, err := spawn.ConfigFromEnv() // SPAWN_TOKEN, SPAWN_RELAY_URL, ...
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := spawn.NewClient(cfg, myListener)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	client.SendText("hello from the agent", "plain")
//
// # Requests and Dismissal
//
// Request-style operations (Confirm, RequestSpawn, Checkin) block for a
// correlated reply. A request whose window lapses resolves as dismissed;
// for approvals that always means declined. Each request resolves exactly
// once even when a reply races the timeout.
//
// # Policy
//
// The client fetches the user's safety policy on connect and applies
// policy_update messages as they arrive. Policy() returns a snapshot;
// helpers like WouldAutoApprove and CanSpawn evaluate it for sub-agent
// decisions. Forbidden entries always beat allowed ones.
//
// # Convenience Senders
//
// Typed wrappers cover the app's display components (SendText, SendCard,
// SendTable, SendChart, SendError), agent status (SetStatus), progress
// indicators (StartProgress), push notifications (Notify), approvals
// (Confirm, ConfirmWithOptions), sub-agents (RequestSpawn, SpawnSubAgent,
// KillAllSubAgents), and the check-in flow (Checkin).
package spawn
