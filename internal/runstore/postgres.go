// File: internal/runstore/postgres.go
// Description: Durable run state persistence in PostgreSQL. The state blob
// is stored opaquely as JSONB; the status and timestamps are denormalized
// into columns for listing without decoding every blob.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/graphstore"
)

// PostgresRunStore implements schemas.RunStore on PostgreSQL.
type PostgresRunStore struct {
	pool graphstore.DBPool
	log  *zap.Logger
}

// NewPostgresRunStore creates a run store instance and verifies the connection.
func NewPostgresRunStore(ctx context.Context, pool graphstore.DBPool, logger *zap.Logger) (*PostgresRunStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRunStore{
		pool: pool,
		log:  logger.Named("run_store"),
	}, nil
}

// EnsureSchema creates the run_states table when it does not exist yet.
func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_states (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			state      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("failed to ensure run_states schema: %w", err)
	}
	return nil
}

// Save implements schemas.RunStore with an upsert keyed by run id.
func (s *PostgresRunStore) Save(ctx context.Context, state *schemas.RunState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("run state must carry an id")
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state %s: %w", state.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_states (id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at;`,
		state.ID, string(state.Status), json.RawMessage(encoded), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run state %s: %w", state.ID, err)
	}

	s.log.Debug("Saved run state",
		zap.String("run_id", state.ID),
		zap.String("status", string(state.Status)))
	return nil
}

// Get implements schemas.RunStore.
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*schemas.RunState, error) {
	var encoded json.RawMessage
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM run_states WHERE id = $1;`, id).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run state %s: %w", id, err)
	}

	var state schemas.RunState
	if err := json.Unmarshal(encoded, &state); err != nil {
		return nil, fmt.Errorf("failed to decode run state %s: %w", id, err)
	}
	return &state, nil
}

// List implements schemas.RunStore, ordered by creation time.
func (s *PostgresRunStore) List(ctx context.Context) ([]*schemas.RunState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM run_states ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list run states: %w", err)
	}
	defer rows.Close()

	var states []*schemas.RunState
	for rows.Next() {
		var encoded json.RawMessage
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan run state row: %w", err)
		}
		var state schemas.RunState
		if err := json.Unmarshal(encoded, &state); err != nil {
			return nil, fmt.Errorf("failed to decode run state: %w", err)
		}
		states = append(states, &state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during run state iteration: %w", err)
	}
	return states, nil
}

// Delete implements schemas.RunStore. Deleting an absent run is a no-op.
func (s *PostgresRunStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_states WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("failed to delete run state %s: %w", id, err)
	}
	return nil
}
