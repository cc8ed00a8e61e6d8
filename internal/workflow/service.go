// File: internal/workflow/service.go
// Description: Run lifecycle management above the engine: bounded
// concurrency across independent runs, cancellation by run id, resumption
// of escalated runs and retention-based cleanup of terminal state.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/config"
)

// Service coordinates concurrent runs. Each run executes on the caller's
// goroutine; the semaphore bounds how many execute at once.
type Service struct {
	logger *zap.Logger
	cfg    config.WorkflowConfig
	engine *Engine
	runs   schemas.RunStore
	sem    *semaphore.Weighted

	mu     sync.Mutex
	active map[string]context.CancelFunc
	clock  func() time.Time
}

// NewService creates a run service around the engine.
func NewService(cfg config.WorkflowConfig, engine *Engine, runs schemas.RunStore, logger *zap.Logger) (*Service, error) {
	if engine == nil || runs == nil {
		return nil, fmt.Errorf("cannot initialize the run service with nil dependencies")
	}
	limit := cfg.MaxConcurrentRuns
	if limit < 1 {
		limit = 1
	}
	return &Service{
		logger: logger.Named("service"),
		cfg:    cfg,
		engine: engine,
		runs:   runs,
		sem:    semaphore.NewWeighted(limit),
		active: make(map[string]context.CancelFunc),
		clock:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes a new goal to a terminal status. Safe for concurrent callers;
// independent runs do not interfere beyond sharing the graph.
func (s *Service) Run(ctx context.Context, goal string) (*schemas.RunState, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("could not obtain a run slot: %w", err)
	}
	defer s.sem.Release(1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := s.engine.NewRun(goal)
	s.track(state.ID, cancel)
	defer s.untrack(state.ID)

	return s.engine.Execute(runCtx, state)
}

// Resume re-enters an escalated run by id.
func (s *Service) Resume(ctx context.Context, runID string) (*schemas.RunState, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("could not obtain a run slot: %w", err)
	}
	defer s.sem.Release(1)

	state, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(runID, cancel)
	defer s.untrack(runID)

	return s.engine.Resume(runCtx, state)
}

// Cancel aborts an in-flight run. The run settles as cancelled at the next
// stage boundary; completed batches stay applied.
func (s *Service) Cancel(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		s.logger.Info("Cancelling run", zap.String("run_id", runID))
		cancel()
	}
	return ok
}

// Get returns the persisted state of a run.
func (s *Service) Get(ctx context.Context, runID string) (*schemas.RunState, error) {
	return s.runs.Get(ctx, runID)
}

// List returns all persisted runs.
func (s *Service) List(ctx context.Context) ([]*schemas.RunState, error) {
	return s.runs.List(ctx)
}

// Cleanup deletes terminal runs older than the retention window and reports
// how many were removed. Escalated runs are kept: they are resumable work,
// not garbage.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	states, err := s.runs.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.clock().Add(-s.cfg.RunRetention)
	removed := 0
	for _, state := range states {
		if !state.Status.Terminal() || state.Status == schemas.RunEscalated {
			continue
		}
		if state.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.runs.Delete(ctx, state.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Cleaned up terminal runs", zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *Service) track(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[runID] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}
