// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	identities  map[string]*Identity
	generations map[string]int64 // keyed by "identityID:role"
	roomState   map[string]*RoomState
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities:  make(map[string]*Identity),
		generations: make(map[string]int64),
		roomState:   make(map[string]*RoomState),
	}
}

// CreateIdentity stores a new identity.
func (m *MockStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.identities[identity.ID]; exists {
		return ErrDuplicateIdentity
	}

	i := *identity
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	m.identities[i.ID] = &i
	m.generations[i.ID+":"+RoleAgent] = 1
	m.generations[i.ID+":"+RoleApp] = 1
	return nil
}

// GetIdentity retrieves an identity by ID.
func (m *MockStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	i := *identity
	return &i, nil
}

// ListIdentities returns all identities ordered by creation time.
func (m *MockStore) ListIdentities(ctx context.Context) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		i := *identity
		out = append(out, &i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// DeleteIdentity removes an identity and its dependent rows.
func (m *MockStore) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.identities, id)
	delete(m.generations, id+":"+RoleAgent)
	delete(m.generations, id+":"+RoleApp)
	delete(m.roomState, id)
	return nil
}

// TokenGeneration returns the current generation for an (identity, role) pair.
func (m *MockStore) TokenGeneration(ctx context.Context, identityID, role string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen, ok := m.generations[identityID+":"+role]
	if !ok {
		return 0, ErrNotFound
	}
	return gen, nil
}

// BumpTokenGeneration increments and returns the generation.
func (m *MockStore) BumpTokenGeneration(ctx context.Context, identityID, role string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityID + ":" + role
	if _, ok := m.generations[key]; !ok {
		return 0, ErrNotFound
	}
	m.generations[key]++
	return m.generations[key], nil
}

// LoadRoomState returns the stored room state.
func (m *MockStore) LoadRoomState(ctx context.Context, identityID string) (*RoomState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.roomState[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	s := *state
	if state.Policy != nil {
		s.Policy = state.Policy.Clone()
	}
	return &s, nil
}

// SaveRoomState upserts room state.
func (m *MockStore) SaveRoomState(ctx context.Context, state *RoomState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *state
	if state.Policy != nil {
		s.Policy = state.Policy.Clone()
	}
	s.UpdatedAt = time.Now().UTC()
	m.roomState[state.IdentityID] = &s
	return nil
}

// SavedMessageCount returns the persisted message counter for an identity.
// Test helper for flush-cadence assertions.
func (m *MockStore) SavedMessageCount(identityID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.roomState[identityID]; ok {
		return state.MessageCount
	}
	return 0
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error { return nil }
