// Package store provides persistence for spawn-relay.
//
// # Overview
//
// Three things survive a relay restart: provisioned agent identities, the
// token generation counters that implement token regeneration, and per-room
// state (the current policy document plus the message counter).
//
// # Implementations
//
//   - SQLiteStore: production implementation backed by modernc.org/sqlite
//     with WAL mode and schema bootstrap on open.
//   - MockStore: in-memory implementation for tests.
//
// # Write cadence
//
// Policy documents are written synchronously by the room before a policy
// change is acknowledged. The message counter is flushed lazily (every Nth
// message and on room close); losing the tail of the counter on a crash is
// accepted, losing a policy change is not.
package store
