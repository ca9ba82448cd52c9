// ABOUTME: Registry of live rooms keyed by agent identity.
// ABOUTME: Rooms are created lazily on first connection and deleted explicitly.

package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spawnhq/spawn-relay/internal/store"
)

// Registry owns the room-per-identity lifecycle. It is injected into
// whatever accepts upgrades; there is no ambient global room table.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	store  store.Store
	logger *slog.Logger
}

// NewRegistry creates an empty registry backed by the given store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		store:  st,
		logger: logger.With("component", "registry"),
	}
}

// Get returns the room for an identity, creating it lazily on first use.
// The identity must exist in the store.
func (g *Registry) Get(ctx context.Context, identityID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[identityID]; ok {
		return r, nil
	}

	if _, err := g.store.GetIdentity(ctx, identityID); err != nil {
		return nil, fmt.Errorf("looking up identity %q: %w", identityID, err)
	}

	r, err := New(ctx, identityID, g.store, g.logger)
	if err != nil {
		return nil, err
	}
	g.rooms[identityID] = r
	g.logger.Info("room created", "identity_id", identityID, "rooms", len(g.rooms))
	return r, nil
}

// Peek returns the room for an identity without creating one, or nil.
func (g *Registry) Peek(identityID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[identityID]
}

// Delete closes the identity's room (if live) and drops it from the
// registry. Idempotent; persistent state removal is the caller's job.
func (g *Registry) Delete(identityID string) {
	g.mu.Lock()
	r, ok := g.rooms[identityID]
	if ok {
		delete(g.rooms, identityID)
	}
	g.mu.Unlock()

	if ok {
		r.Close()
		g.logger.Info("room deleted", "identity_id", identityID)
	}
}

// CloseAll tears down every live room; used at server shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for id, r := range g.rooms {
		rooms = append(rooms, r)
		delete(g.rooms, id)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
