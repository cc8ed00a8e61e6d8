package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/graphstore"
	"github.com/puntini/puntini/internal/oplog"
	"github.com/puntini/puntini/internal/runstore"
	"github.com/puntini/puntini/internal/validation"
)

func newServiceFixture(t *testing.T) (*Service, schemas.RunStore) {
	t.Helper()
	logger := zap.NewNop()
	store := graphstore.NewInMemoryStore(logger)
	runs := runstore.NewInMemoryRunStore(logger)
	log := oplog.NewInMemoryLog(logger)
	pipeline := validation.New(store, logger)

	registry := NewRegistry(logger)
	require.NoError(t, registry.Register(&goalKeyedTool{}))

	engine, err := NewEngine(testConfig(), singleStepPlanner(), registry, pipeline, store, runs, log, logger)
	require.NoError(t, err)

	service, err := NewService(testConfig(), engine, runs, logger)
	require.NoError(t, err)
	return service, runs
}

func TestServiceRunsConcurrently(t *testing.T) {
	service, _ := newServiceFixture(t)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := service.Run(context.Background(), fmt.Sprintf("goal-%d", i))
			if err != nil {
				t.Error(err)
				return
			}
			if state.Status != schemas.RunAnswered {
				t.Errorf("run %d finished %s", i, state.Status)
			}
		}(i)
	}
	wg.Wait()

	states, err := service.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, n)
}

func TestServiceGetAndCancelUnknownRun(t *testing.T) {
	service, _ := newServiceFixture(t)

	_, err := service.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, runstore.ErrNotFound)

	assert.False(t, service.Cancel("ghost"), "cancelling an unknown run reports false")
}

func TestServiceResumeUnknownRun(t *testing.T) {
	service, _ := newServiceFixture(t)

	_, err := service.Resume(context.Background(), "ghost")
	assert.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestServiceCleanupHonoursRetentionAndKeepsEscalated(t *testing.T) {
	service, runs := newServiceFixture(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	stale := &schemas.RunState{ID: "stale", Goal: "done long ago", Status: schemas.RunAnswered, CreatedAt: old, UpdatedAt: old}
	fresh := &schemas.RunState{ID: "fresh", Goal: "done just now", Status: schemas.RunAnswered, CreatedAt: old, UpdatedAt: time.Now().UTC()}
	escalated := &schemas.RunState{ID: "stuck", Goal: "needs a human", Status: schemas.RunEscalated, CreatedAt: old, UpdatedAt: old}
	active := &schemas.RunState{ID: "busy", Goal: "in flight", Status: schemas.RunActive, CreatedAt: old, UpdatedAt: old}
	for _, s := range []*schemas.RunState{stale, fresh, escalated, active} {
		require.NoError(t, runs.Save(ctx, s))
	}

	removed, err := service.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = runs.Get(ctx, "stale")
	assert.ErrorIs(t, err, runstore.ErrNotFound)
	for _, id := range []string{"fresh", "stuck", "busy"} {
		_, err := runs.Get(ctx, id)
		assert.NoError(t, err, "run %s must survive cleanup", id)
	}
}
