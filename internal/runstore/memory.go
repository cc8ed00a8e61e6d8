// File: internal/runstore/memory.go
// Description: In-memory run state persistence. State is stored as its JSON
// encoding, which both isolates callers from each other and guarantees the
// stored form round-trips exactly like the durable backend's JSONB column.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// ErrNotFound is returned when no run exists under the requested id.
var ErrNotFound = errors.New("run not found")

// InMemoryRunStore implements schemas.RunStore in process memory.
type InMemoryRunStore struct {
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[string][]byte
}

// NewInMemoryRunStore creates an empty in-memory run store.
func NewInMemoryRunStore(logger *zap.Logger) *InMemoryRunStore {
	return &InMemoryRunStore{
		logger: logger.Named("run_store"),
		runs:   make(map[string][]byte),
	}
}

// Save implements schemas.RunStore.
func (s *InMemoryRunStore) Save(ctx context.Context, state *schemas.RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.ID == "" {
		return fmt.Errorf("run state must carry an id")
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state %s: %w", state.ID, err)
	}

	s.mu.Lock()
	s.runs[state.ID] = encoded
	s.mu.Unlock()

	s.logger.Debug("Saved run state",
		zap.String("run_id", state.ID),
		zap.String("status", string(state.Status)))
	return nil
}

// Get implements schemas.RunStore.
func (s *InMemoryRunStore) Get(ctx context.Context, id string) (*schemas.RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	encoded, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	var state schemas.RunState
	if err := json.Unmarshal(encoded, &state); err != nil {
		return nil, fmt.Errorf("failed to decode run state %s: %w", id, err)
	}
	return &state, nil
}

// List implements schemas.RunStore. Results are ordered by creation time.
func (s *InMemoryRunStore) List(ctx context.Context) ([]*schemas.RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*schemas.RunState, 0, len(s.runs))
	for id, encoded := range s.runs {
		var state schemas.RunState
		if err := json.Unmarshal(encoded, &state); err != nil {
			return nil, fmt.Errorf("failed to decode run state %s: %w", id, err)
		}
		states = append(states, &state)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].ID < states[j].ID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
	return states, nil
}

// Delete implements schemas.RunStore. Deleting an absent run is a no-op.
func (s *InMemoryRunStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
	return nil
}
