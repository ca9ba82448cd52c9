// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides identity/token/room-state persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS token_generations (
			identity_id TEXT NOT NULL,
			role TEXT NOT NULL,
			generation INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (identity_id, role),
			FOREIGN KEY (identity_id) REFERENCES identities(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS room_state (
			identity_id TEXT PRIMARY KEY,
			policy BLOB NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (identity_id) REFERENCES identities(id) ON DELETE CASCADE
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateIdentity provisions a new identity with generation-1 token rows.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, display_name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		identity.ID, identity.DisplayName, identity.OwnerID, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting identity: %w", err)
	}

	now := time.Now().UTC()
	for _, role := range []string{RoleAgent, RoleApp} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO token_generations (identity_id, role, generation, updated_at) VALUES (?, ?, 1, ?)`,
			identity.ID, role, now,
		); err != nil {
			return fmt.Errorf("inserting token generation: %w", err)
		}
	}

	return tx.Commit()
}

// GetIdentity retrieves an identity by ID.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	var identity Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, owner_id, created_at FROM identities WHERE id = ?`, id,
	).Scan(&identity.ID, &identity.DisplayName, &identity.OwnerID, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return &identity, nil
}

// ListIdentities returns all identities ordered by creation time.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, owner_id, created_at FROM identities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		var identity Identity
		if err := rows.Scan(&identity.ID, &identity.DisplayName, &identity.OwnerID, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		identities = append(identities, &identity)
	}
	return identities, rows.Err()
}

// DeleteIdentity removes an identity. Token generations and room state
// cascade via foreign keys.
func (s *SQLiteStore) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	return nil
}

// TokenGeneration returns the current generation for an (identity, role) pair.
func (s *SQLiteStore) TokenGeneration(ctx context.Context, identityID, role string) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx,
		`SELECT generation FROM token_generations WHERE identity_id = ? AND role = ?`,
		identityID, role,
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying token generation: %w", err)
	}
	return gen, nil
}

// BumpTokenGeneration increments the generation, invalidating prior tokens.
func (s *SQLiteStore) BumpTokenGeneration(ctx context.Context, identityID, role string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE token_generations SET generation = generation + 1, updated_at = ? WHERE identity_id = ? AND role = ?`,
		time.Now().UTC(), identityID, role,
	)
	if err != nil {
		return 0, fmt.Errorf("bumping token generation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrNotFound
	}
	return s.TokenGeneration(ctx, identityID, role)
}

// LoadRoomState returns the persisted room state for an identity.
func (s *SQLiteStore) LoadRoomState(ctx context.Context, identityID string) (*RoomState, error) {
	state := RoomState{IdentityID: identityID}
	var policyJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT policy, message_count, updated_at FROM room_state WHERE identity_id = ?`,
		identityID,
	).Scan(&policyJSON, &state.MessageCount, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room state: %w", err)
	}

	state.Policy = &policy.Document{}
	if err := json.Unmarshal(policyJSON, state.Policy); err != nil {
		return nil, fmt.Errorf("decoding policy document: %w", err)
	}
	return &state, nil
}

// SaveRoomState upserts the room state for an identity.
func (s *SQLiteStore) SaveRoomState(ctx context.Context, state *RoomState) error {
	doc := state.Policy
	if doc == nil {
		doc = policy.Default()
	}
	policyJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding policy document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_state (identity_id, policy, message_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET
			policy = excluded.policy,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		state.IdentityID, policyJSON, state.MessageCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving room state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
