// ABOUTME: Tests for SQLite and mock store implementations.
// ABOUTME: Both implementations are run through the same behavioral suite.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"mock":   NewMockStore(),
	}
}

func TestIdentityLifecycle(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			identity := &Identity{ID: "agt_1", DisplayName: "Trader", OwnerID: "usr_1"}
			require.NoError(t, s.CreateIdentity(ctx, identity))

			got, err := s.GetIdentity(ctx, "agt_1")
			require.NoError(t, err)
			assert.Equal(t, "Trader", got.DisplayName)
			assert.Equal(t, "usr_1", got.OwnerID)
			assert.False(t, got.CreatedAt.IsZero())

			// Duplicate creation is rejected.
			err = s.CreateIdentity(ctx, &Identity{ID: "agt_1", DisplayName: "Other", OwnerID: "usr_2"})
			assert.ErrorIs(t, err, ErrDuplicateIdentity)

			list, err := s.ListIdentities(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.DeleteIdentity(ctx, "agt_1"))
			_, err = s.GetIdentity(ctx, "agt_1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting again is harmless.
			assert.NoError(t, s.DeleteIdentity(ctx, "agt_1"))
		})
	}
}

func TestTokenGenerations(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateIdentity(ctx, &Identity{ID: "agt_2", DisplayName: "x", OwnerID: "u"}))

			gen, err := s.TokenGeneration(ctx, "agt_2", RoleAgent)
			require.NoError(t, err)
			assert.Equal(t, int64(1), gen)

			gen, err = s.BumpTokenGeneration(ctx, "agt_2", RoleAgent)
			require.NoError(t, err)
			assert.Equal(t, int64(2), gen)

			// App role generation untouched by agent bump.
			gen, err = s.TokenGeneration(ctx, "agt_2", RoleApp)
			require.NoError(t, err)
			assert.Equal(t, int64(1), gen)

			_, err = s.TokenGeneration(ctx, "missing", RoleAgent)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.BumpTokenGeneration(ctx, "missing", RoleAgent)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRoomStateRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateIdentity(ctx, &Identity{ID: "agt_3", DisplayName: "x", OwnerID: "u"}))

			_, err := s.LoadRoomState(ctx, "agt_3")
			assert.ErrorIs(t, err, ErrNotFound)

			doc := policy.Default()
			doc.PermissionsForbidden = []string{"system.shell"}
			require.NoError(t, s.SaveRoomState(ctx, &RoomState{
				IdentityID:   "agt_3",
				Policy:       doc,
				MessageCount: 42,
			}))

			state, err := s.LoadRoomState(ctx, "agt_3")
			require.NoError(t, err)
			assert.Equal(t, int64(42), state.MessageCount)
			assert.Equal(t, []string{"system.shell"}, state.Policy.PermissionsForbidden)

			// Last write wins on re-save.
			doc.AutoSpawnMode = policy.SpawnModeTrusted
			require.NoError(t, s.SaveRoomState(ctx, &RoomState{
				IdentityID:   "agt_3",
				Policy:       doc,
				MessageCount: 50,
			}))
			state, err = s.LoadRoomState(ctx, "agt_3")
			require.NoError(t, err)
			assert.Equal(t, int64(50), state.MessageCount)
			assert.Equal(t, policy.SpawnModeTrusted, state.Policy.AutoSpawnMode)
		})
	}
}

func TestDeleteIdentityRemovesRoomState(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateIdentity(ctx, &Identity{ID: "agt_4", DisplayName: "x", OwnerID: "u"}))
			require.NoError(t, s.SaveRoomState(ctx, &RoomState{IdentityID: "agt_4", Policy: policy.Default()}))

			require.NoError(t, s.DeleteIdentity(ctx, "agt_4"))

			_, err := s.LoadRoomState(ctx, "agt_4")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.TokenGeneration(ctx, "agt_4", RoleApp)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
