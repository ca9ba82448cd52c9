// ABOUTME: Store interface and data types for spawn-relay persistence.
// ABOUTME: Covers agent identities, token generations, and room state.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when creating an identity that already exists.
var ErrDuplicateIdentity = errors.New("identity already exists")

// Role names for connection tokens. An agent-role token admits the single
// agent host; app-role tokens admit companion devices.
const (
	RoleAgent = "agent"
	RoleApp   = "app"
)

// Identity is one provisioned logical agent. Its ID is stable for the
// lifetime of the agent and names exactly one relay room.
type Identity struct {
	ID          string
	DisplayName string
	OwnerID     string
	CreatedAt   time.Time
}

// RoomState is the persisted slice of a room: the current policy document and
// the monotonic message counter. Everything else about a room is runtime-only.
type RoomState struct {
	IdentityID   string
	Policy       *policy.Document
	MessageCount int64
	UpdatedAt    time.Time
}

// Store is the persistence interface for the relay.
type Store interface {
	// CreateIdentity provisions a new identity. Returns ErrDuplicateIdentity
	// if the ID is taken.
	CreateIdentity(ctx context.Context, identity *Identity) error

	// GetIdentity returns an identity by ID, or ErrNotFound.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListIdentities returns all identities ordered by creation time.
	ListIdentities(ctx context.Context) ([]*Identity, error)

	// DeleteIdentity removes an identity, its token generations, and its room
	// state. Deleting an unknown identity is a no-op.
	DeleteIdentity(ctx context.Context, id string) error

	// TokenGeneration returns the current token generation for an
	// (identity, role) pair. Identities start at generation 1.
	TokenGeneration(ctx context.Context, identityID, role string) (int64, error)

	// BumpTokenGeneration increments the generation for an (identity, role)
	// pair, invalidating all previously issued tokens of that role, and
	// returns the new generation.
	BumpTokenGeneration(ctx context.Context, identityID, role string) (int64, error)

	// LoadRoomState returns the persisted room state for an identity, or
	// ErrNotFound if the room has never been persisted.
	LoadRoomState(ctx context.Context, identityID string) (*RoomState, error)

	// SaveRoomState upserts the room state. Rooms call this synchronously on
	// every policy change and lazily for counter-only updates.
	SaveRoomState(ctx context.Context, state *RoomState) error

	// Close releases the underlying resources.
	Close() error
}
