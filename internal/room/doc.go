// Package room implements the per-identity connection multiplexer at the
// heart of the relay.
//
// # Topology
//
// Each agent identity has exactly one Room holding at most one agent-role
// socket and any number of app-role sockets. A new agent connection
// supersedes the old one: the previous socket is closed with a
// distinguishable reason before the new socket is considered live, so the
// at-most-one-agent invariant holds at every instant.
//
// # Serialization
//
// A room serializes all of its state transitions through one mutex — the
// supersede sequence (close old, clear slot, install new) is atomic with
// respect to concurrent disconnect notifications. Stale disconnect events
// for a socket that is no longer the occupant are detected by socket
// identity comparison and ignored. Different rooms share no locks.
//
// # Forwarding
//
// Agent traffic fans out to all app sockets best-effort per recipient; app
// traffic is delivered to the single agent socket, or silently dropped when
// no agent is attached. Rooms intercept policy_update (replace + persist +
// forward) and get_policy (direct reply, no forward); all other envelope
// types pass through opaquely.
//
// # Persistence
//
// Policy changes persist synchronously before they are acknowledged or
// forwarded. The message counter flushes lazily, every 16 messages and on
// close; losing the counter tail across a crash is accepted.
package room
