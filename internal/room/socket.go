// ABOUTME: Socket abstraction the room uses to talk to connected peers.
// ABOUTME: Keeps the room testable and independent of the WebSocket library.

package room

import "github.com/spawnhq/spawn-relay/internal/envelope"

// Close reasons passed to Socket.Close. The transport maps these onto its
// own close codes; clients use them to tell a supersede apart from a normal
// shutdown.
const (
	ReasonSuperseded      = "superseded by new connection"
	ReasonIdentityDeleted = "agent identity deleted"
	ReasonTokensRevoked   = "tokens regenerated"
)

// Socket is one live peer connection held by a room. Implementations must
// tolerate Send and Close after the underlying transport has gone away:
// both become no-op errors, never panics. Rooms compare sockets by
// interface identity to detect stale disconnect events.
type Socket interface {
	// Send transmits an envelope to the peer. A failed send is a no-op from
	// the room's perspective; the transport's close event follows separately.
	Send(env *envelope.Envelope) error

	// Close tears down the connection with a reason string.
	Close(reason string) error
}
