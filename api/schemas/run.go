package schemas

import "time"

// -- Workflow Run State --

// RunStatus tracks where a run sits in its lifecycle. Answered, Escalated and
// Cancelled are terminal; an escalated run can be resumed through the
// resumption interface, which creates further transitions on the same run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunActive    RunStatus = "active"
	RunAnswered  RunStatus = "answered"
	RunEscalated RunStatus = "escalated"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends the automatic loop.
func (s RunStatus) Terminal() bool {
	return s == RunAnswered || s == RunEscalated || s == RunCancelled
}

// Stage names the pipeline stage an error is attributed to. Validation
// failures are attributed to their originating sub-stage (schema, domain,
// graph) rather than to validation as a whole.
type Stage string

const (
	StagePlanning      Stage = "planning"
	StageToolSelection Stage = "tool_selection"
	StageExtraction    Stage = "extraction"
	StageSchema        Stage = "schema"
	StageDomain        Stage = "domain"
	StageGraph         Stage = "graph"
	StageExecution     Stage = "execution"
	StageEvaluation    Stage = "evaluation"
)

// AttributedError is one entry of a run's error history. The history is
// ordered and append-only for the lifetime of the run.
type AttributedError struct {
	Stage   Stage     `json:"stage"`
	Step    int       `json:"step"`
	Attempt int       `json:"attempt"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PlanStep is one ordered step of the execution plan produced by Planning.
type PlanStep struct {
	Description string `json:"description"`
	Capability  string `json:"capability"`
	Done        bool   `json:"done"`
}

// SignalKind identifies an independent escalation signal.
type SignalKind string

const (
	SignalRetryThreshold    SignalKind = "retry_threshold"
	SignalRepeatedError     SignalKind = "repeated_identical_error"
	SignalGraphRejection    SignalKind = "graph_constraint_rejection"
	SignalCapabilityFailure SignalKind = "capability_failure_pattern"
)

// EscalationSignal carries one weighted piece of evidence that the automatic
// loop should hand off to a human.
type EscalationSignal struct {
	Kind       SignalKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	Evidence   string     `json:"evidence"`
}

// RunState is the complete per-run state owned by the workflow engine. It is
// persisted opaquely at every suspension point and must round-trip exactly
// through the run store.
type RunState struct {
	ID     string    `json:"id"`
	Goal   string    `json:"goal"`
	Status RunStatus `json:"status"`

	Plan      []PlanStep `json:"plan"`
	StepIndex int        `json:"step_index"`

	RetryCount   int               `json:"retry_count"`
	ErrorHistory []AttributedError `json:"error_history"`

	// DisclosureLevel is monotonically non-decreasing within a run and is
	// reset only by starting a new run.
	DisclosureLevel int `json:"disclosure_level"`

	AppliedOperations []OperationRecord  `json:"applied_operations"`
	Signals           []EscalationSignal `json:"signals,omitempty"`
	EscalationReason  string             `json:"escalation_reason,omitempty"`

	Answer string `json:"answer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentStep returns the plan step the run is working on, or nil when the
// plan is exhausted.
func (r *RunState) CurrentStep() *PlanStep {
	if r.StepIndex < 0 || r.StepIndex >= len(r.Plan) {
		return nil
	}
	return &r.Plan[r.StepIndex]
}

// LastError returns the most recent attributed error, or nil.
func (r *RunState) LastError() *AttributedError {
	if len(r.ErrorHistory) == 0 {
		return nil
	}
	return &r.ErrorHistory[len(r.ErrorHistory)-1]
}

// ContextBundle is the bounded input bundle handed to the extraction
// capability for one attempt. It is rebuilt from RunState per attempt; it is
// never shared mutable state.
type ContextBundle struct {
	Goal            string            `json:"goal"`
	StepDescription string            `json:"step_description"`
	Progress        string            `json:"progress"`
	DisclosureLevel int               `json:"disclosure_level"`
	LastError       *AttributedError  `json:"last_error,omitempty"`
	ErrorHistory    []AttributedError `json:"error_history,omitempty"`
	FailurePatterns []string          `json:"failure_patterns,omitempty"`
}
