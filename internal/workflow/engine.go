// File: internal/workflow/engine.go
// Description: The run state machine. A run moves through Planning, then
// loops ToolSelection -> Extraction -> Validation -> Execution -> Evaluation
// per plan step, retrying with widened context on failure until it answers,
// escalates or is cancelled. State is persisted at every suspension point so
// an escalated run can be resumed later, by a different process if need be.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/config"
	"github.com/puntini/puntini/internal/contextmgr"
	"github.com/puntini/puntini/internal/validation"
)

// Engine drives individual runs. It owns no cross-run state; every run's
// state lives in its RunState and the run store.
type Engine struct {
	logger   *zap.Logger
	cfg      config.WorkflowConfig
	planner  schemas.Planner
	registry *Registry
	pipeline *validation.Pipeline
	store    schemas.GraphStore
	runs     schemas.RunStore
	oplog    schemas.OperationLog
	ctxmgr   *contextmgr.Manager
	clock    func() time.Time
}

// NewEngine wires a workflow engine from its collaborators.
func NewEngine(
	cfg config.WorkflowConfig,
	planner schemas.Planner,
	registry *Registry,
	pipeline *validation.Pipeline,
	store schemas.GraphStore,
	runs schemas.RunStore,
	oplog schemas.OperationLog,
	logger *zap.Logger,
) (*Engine, error) {
	if planner == nil || registry == nil || pipeline == nil || store == nil || runs == nil || oplog == nil {
		return nil, fmt.Errorf("cannot initialize the workflow engine with nil dependencies")
	}
	return &Engine{
		logger:   logger.Named("workflow"),
		cfg:      cfg,
		planner:  planner,
		registry: registry,
		pipeline: pipeline,
		store:    store,
		runs:     runs,
		oplog:    oplog,
		ctxmgr:   contextmgr.New(cfg, logger),
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewRun mints a pending run for the goal. Nothing is persisted until the
// run is executed.
func (e *Engine) NewRun(goal string) *schemas.RunState {
	now := e.clock()
	return &schemas.RunState{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    schemas.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Execute drives a pending run to a terminal status.
func (e *Engine) Execute(ctx context.Context, state *schemas.RunState) (*schemas.RunState, error) {
	e.logger.Info("Starting run", zap.String("run_id", state.ID), zap.String("goal", state.Goal))

	if err := e.plan(ctx, state); err != nil {
		return state, err
	}
	return e.drive(ctx, state)
}

// Start creates a run for the goal and drives it to a terminal status.
func (e *Engine) Start(ctx context.Context, goal string) (*schemas.RunState, error) {
	return e.Execute(ctx, e.NewRun(goal))
}

// Resume re-enters the loop for an escalated run. The plan, error history
// and disclosure level survive; the loop picks up at tool selection for the
// step the run was stuck on, with a fresh retry budget.
func (e *Engine) Resume(ctx context.Context, state *schemas.RunState) (*schemas.RunState, error) {
	if state.Status != schemas.RunEscalated {
		return state, fmt.Errorf("run %s is %s, only escalated runs can be resumed", state.ID, state.Status)
	}
	e.logger.Info("Resuming escalated run",
		zap.String("run_id", state.ID),
		zap.Int("step", state.StepIndex),
		zap.Int("errors", len(state.ErrorHistory)))

	state.Status = schemas.RunActive
	state.RetryCount = 0
	state.EscalationReason = ""
	if err := e.persist(ctx, state); err != nil {
		return state, err
	}
	return e.drive(ctx, state)
}

// plan runs the Planning stage. A planning failure escalates immediately;
// there is nothing to retry against an unplannable goal.
func (e *Engine) plan(ctx context.Context, state *schemas.RunState) error {
	planCtx, cancel := context.WithTimeout(ctx, e.cfg.PlanningTimeout)
	defer cancel()

	steps, err := e.planner.Plan(planCtx, state.Goal)
	if err != nil {
		planErr := &schemas.PlanningError{Goal: state.Goal, Err: err}
		e.recordError(state, schemas.StagePlanning, schemas.ErrCodePlanning, planErr.Error())
		e.escalate(state, fmt.Sprintf("planning failed: %v", err))
		if persistErr := e.persist(ctx, state); persistErr != nil {
			return persistErr
		}
		return nil
	}

	state.Plan = steps
	state.StepIndex = 0
	state.Status = schemas.RunActive
	return e.persist(ctx, state)
}

// drive loops the per-step stages until the run reaches a terminal status.
func (e *Engine) drive(ctx context.Context, state *schemas.RunState) (*schemas.RunState, error) {
	for state.Status == schemas.RunActive {
		if err := ctx.Err(); err != nil {
			// Cancellation between stages: the batch boundary guarantees the
			// graph holds no partial work.
			state.Status = schemas.RunCancelled
			state.Answer = ""
			if persistErr := e.persist(ctx, state); persistErr != nil {
				e.logger.Error("Failed to persist cancelled run", zap.Error(persistErr))
			}
			return state, err
		}

		step := state.CurrentStep()
		if step == nil {
			// Plan exhausted: the run answers.
			state.Status = schemas.RunAnswered
			state.Answer = composeAnswer(state)
			if err := e.persist(ctx, state); err != nil {
				return state, err
			}
			e.logger.Info("Run answered", zap.String("run_id", state.ID))
			return state, nil
		}

		if err := e.executeStep(ctx, state, step); err != nil {
			return state, err
		}
	}

	if state.Status == schemas.RunEscalated {
		state.Answer = composeEscalationDigest(state)
		if err := e.persist(ctx, state); err != nil {
			return state, err
		}
	}
	return state, nil
}

// executeStep runs one attempt of the current step through tool selection,
// extraction, validation and execution. Failures are recorded on the state;
// only infrastructure errors (persistence) are returned.
func (e *Engine) executeStep(ctx context.Context, state *schemas.RunState, step *schemas.PlanStep) error {
	// -- Tool selection --
	tool, err := e.registry.SelectForCapability(step.Capability)
	if err != nil {
		e.recordError(state, schemas.StageToolSelection, schemas.ErrCodeToolSelection, err.Error())
		e.escalate(state, fmt.Sprintf("no tool provides capability %q", step.Capability))
		return e.persist(ctx, state)
	}

	// -- Extraction --
	bundle := e.ctxmgr.PrepareContext(state)
	extractCtx, cancelExtract := context.WithTimeout(ctx, e.cfg.ExtractionTimeout)
	patches, err := tool.Extract(extractCtx, bundle, "")
	cancelExtract()
	if err != nil {
		if ctx.Err() != nil {
			// Parent cancellation, not a capability failure; the loop head
			// marks the run cancelled.
			return nil
		}
		return e.handleFailure(ctx, state, schemas.StageExtraction, schemas.ErrCodeCapability, err.Error())
	}

	// -- Validation --
	outcome, err := e.pipeline.Validate(ctx, patches)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// The dry-run itself failed, which is a graph-stage infrastructure
		// problem, not an execution one.
		return e.handleFailure(ctx, state, schemas.StageGraph, schemas.ErrCodeCapability, err.Error())
	}
	if !outcome.Accepted {
		return e.handleFailure(ctx, state, outcome.Stage, outcome.ErrorCode(), outcome.Summary())
	}

	// -- Execution --
	applyCtx, cancelApply := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	result, err := e.store.Apply(applyCtx, patches)
	cancelApply()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return e.handleFailure(ctx, state, schemas.StageExecution, schemas.ErrCodeCapability,
			fmt.Sprintf("graph store apply failed: %v", err))
	}

	if !result.Success {
		// The dry-run passed but apply still rejected: concurrent runs moved
		// the graph underneath us.
		return e.handleFailure(ctx, state, schemas.StageExecution, schemas.ErrCodeGraphConstraint,
			rejectionSummary(result))
	}

	e.recordOutcomes(ctx, state, patches, result)

	// -- Evaluation --
	step.Done = true
	state.StepIndex++
	state.RetryCount = 0
	e.logger.Info("Step completed",
		zap.String("run_id", state.ID),
		zap.Int("step", state.StepIndex),
		zap.Int("patches", len(patches)))
	return e.persist(ctx, state)
}

// handleFailure records the attributed error, widens disclosure, re-analyzes
// the escalation signals and either escalates or leaves the run active for
// another attempt.
func (e *Engine) handleFailure(ctx context.Context, state *schemas.RunState, stage schemas.Stage, code schemas.ErrorCode, msg string) error {
	e.recordError(state, stage, code, msg)
	state.RetryCount++
	e.ctxmgr.EscalateDisclosure(state)

	state.Signals = e.ctxmgr.AnalyzeSignals(state)
	if should, reason := e.ctxmgr.ShouldEscalate(state.Signals); should {
		e.escalate(state, reason)
	}

	e.logger.Warn("Attempt failed",
		zap.String("run_id", state.ID),
		zap.String("stage", string(stage)),
		zap.String("code", string(code)),
		zap.Int("retry_count", state.RetryCount),
		zap.Int("disclosure_level", state.DisclosureLevel))
	return e.persist(ctx, state)
}

// recordOutcomes appends the per-patch outcomes to the audit log and to the
// run's own applied-operations record.
func (e *Engine) recordOutcomes(ctx context.Context, state *schemas.RunState, patches []schemas.Patch, result *schemas.ApplyResult) {
	byID := make(map[string]schemas.Patch, len(patches))
	for _, p := range patches {
		byID[p.ID] = p
	}
	now := e.clock()
	for _, out := range result.Outcomes {
		rec := schemas.OperationRecord{
			PatchID:   out.PatchID,
			RunID:     state.ID,
			Outcome:   out.Status,
			Ref:       out.Ref,
			Timestamp: now,
		}
		if p, ok := byID[out.PatchID]; ok && p.Node != nil {
			rec.Label = p.Node.Label
			rec.Key = p.Node.Key
		}
		state.AppliedOperations = append(state.AppliedOperations, rec)
		// The audit trail outlives the run context; an applied batch must be
		// recorded even when the run is being cancelled.
		if err := e.oplog.Append(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Error("Failed to append to the operation log",
				zap.String("run_id", state.ID),
				zap.String("patch_id", out.PatchID),
				zap.Error(err))
		}
	}
}

func (e *Engine) recordError(state *schemas.RunState, stage schemas.Stage, code schemas.ErrorCode, msg string) {
	state.ErrorHistory = append(state.ErrorHistory, schemas.AttributedError{
		Stage:   stage,
		Step:    state.StepIndex,
		Attempt: state.RetryCount + 1,
		Code:    code,
		Message: msg,
		At:      e.clock(),
	})
}

func (e *Engine) escalate(state *schemas.RunState, reason string) {
	state.Status = schemas.RunEscalated
	state.EscalationReason = reason
	e.logger.Warn("Run escalated",
		zap.String("run_id", state.ID),
		zap.String("reason", reason))
}

// persist saves the run at a suspension point. It survives cancellation of
// the run context: a cancelled run must still record that it was cancelled.
func (e *Engine) persist(ctx context.Context, state *schemas.RunState) error {
	state.UpdatedAt = e.clock()
	if err := e.runs.Save(context.WithoutCancel(ctx), state); err != nil {
		return fmt.Errorf("failed to persist run %s: %w", state.ID, err)
	}
	return nil
}

func rejectionSummary(result *schemas.ApplyResult) string {
	for _, out := range result.Outcomes {
		if out.Status == schemas.OutcomeRejected && out.Reason != "batch rolled back" {
			return fmt.Sprintf("graph store rejected the batch: %s", out.Reason)
		}
	}
	return "graph store rejected the batch"
}
