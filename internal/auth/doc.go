// Package auth verifies connection tokens for relay WebSocket upgrades and
// guards the administrative HTTP surface.
//
// # Connection tokens
//
// Connection tokens are HS256 JWTs scoped to one (identity, role) pair:
//
//	sub   agent identity ID
//	role  "agent" or "app"
//	gen   token generation at issue time
//	owner owning user ID (informational)
//
// The gen claim implements regeneration: the store records the current
// generation per (identity, role), and Verify rejects any token whose gen
// claim lags it with ErrStaleToken. Bumping the stored generation therefore
// invalidates every outstanding token of that role at once.
//
// # Upgrade authentication
//
// Authenticate runs before the WebSocket upgrade. A missing, invalid,
// expired, stale, or role-mismatched token produces a 401 response and the
// upgrade never happens, so no room state is touched for failed auth.
package auth
