package schemas

import "context"

// GraphStore is the backend-agnostic contract for applying patches and
// answering point and subgraph queries. Every backend implementation must
// satisfy identical semantics; the conformance suite in internal/graphstore
// must pass against each of them.
type GraphStore interface {
	// Apply applies all patches as one all-or-nothing transaction.
	// Re-applying a patch whose operation id was seen before has no
	// additional effect and reports skipped-duplicate. On any single patch
	// failure the entire batch rolls back and Success is false.
	Apply(ctx context.Context, patches []Patch) (*ApplyResult, error)

	// ValidateConstraints dry-run checks the patches against current
	// persisted state without mutating anything.
	ValidateConstraints(ctx context.Context, patches []Patch) (*ConstraintResult, error)

	// GetNode is a point lookup; absence is (nil, nil), not an error.
	GetNode(ctx context.Context, label EntityLabel, key string) (*Entity, error)

	// GetSubgraph performs a bounded breadth-first traversal from the root.
	// Depth 0 returns the root alone; an unknown root returns an empty
	// subgraph. A nil rels filter includes every relationship type.
	GetSubgraph(ctx context.Context, label EntityLabel, key string, depth int, rels []RelationshipType) (*Subgraph, error)

	// Health reports backend liveness and coarse size counters.
	Health(ctx context.Context) (StoreHealth, error)
}

// LLMClient generates a completion for a request. Implementations must be
// safe for repeated, independent calls with no shared mutable state.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Extractor produces candidate patches from a context bundle. Failures are
// reported as *ExtractionError or *CapabilityError, never as panics.
type Extractor interface {
	Extract(ctx context.Context, bundle ContextBundle, targetSchema string) ([]Patch, error)
}

// Planner turns a free-form goal into an ordered, non-empty execution plan.
// A failure is fatal for the run (wrapped in *PlanningError by the engine).
type Planner interface {
	Plan(ctx context.Context, goal string) ([]PlanStep, error)
}

// AgentTool is one registered capability implementation the workflow can
// select for a plan step. Tools are registered explicitly at load time;
// there is no reflection-based discovery.
type AgentTool interface {
	Name() string
	Capability() string
	Extract(ctx context.Context, bundle ContextBundle, targetSchema string) ([]Patch, error)
}

// RunStore persists RunState opaquely between suspension points, keyed by run
// identifier. Save must round-trip the state exactly.
type RunStore interface {
	Save(ctx context.Context, state *RunState) error
	Get(ctx context.Context, id string) (*RunState, error)
	List(ctx context.Context) ([]*RunState, error)
	Delete(ctx context.Context, id string) error
}

// OperationLog is the append-only audit trail of patch applications. It is
// written by many concurrent runs; no deletion operation is defined.
type OperationLog interface {
	Append(ctx context.Context, rec OperationRecord) error
	ByRun(ctx context.Context, runID string) ([]OperationRecord, error)
	ByEntity(ctx context.Context, label EntityLabel, key string) ([]OperationRecord, error)
}
