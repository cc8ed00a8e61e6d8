package schemas

import "fmt"

// ErrorCode is a string type used for structured error classification across
// the workflow. Using a custom type ensures only predefined constants can be
// used where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Validation-stage failures, retryable up to the retry budget --
	ErrCodeSchema          ErrorCode = "SCHEMA_ERROR"
	ErrCodeDomain          ErrorCode = "DOMAIN_ERROR"
	ErrCodeGraphConstraint ErrorCode = "GRAPH_CONSTRAINT_ERROR"

	// -- Capability failures (extraction or store call failed/timed out) --
	ErrCodeCapability ErrorCode = "CAPABILITY_ERROR"

	// -- Fatal for the current run, escalated immediately --
	ErrCodePlanning      ErrorCode = "PLANNING_ERROR"
	ErrCodeToolSelection ErrorCode = "TOOL_SELECTION_ERROR"

	// ErrCodeEscalation marks the terminal control signal, not a failure.
	ErrCodeEscalation ErrorCode = "ESCALATION_REQUIRED"
)

// StageCode maps a pipeline stage to the error code its failures carry.
func StageCode(stage Stage) ErrorCode {
	switch stage {
	case StagePlanning:
		return ErrCodePlanning
	case StageToolSelection:
		return ErrCodeToolSelection
	case StageSchema:
		return ErrCodeSchema
	case StageDomain:
		return ErrCodeDomain
	case StageGraph:
		return ErrCodeGraphConstraint
	default:
		return ErrCodeCapability
	}
}

// CapabilityError wraps a failure (or timeout) of an external capability
// call. It is retryable; repeated occurrence is itself an escalation signal.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// ExtractionError is a typed failure of the extraction capability, carrying
// the raw model output when parsing is what failed.
type ExtractionError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PlanningError is fatal for the run: an unplannable goal is not retry-curable.
type PlanningError struct {
	Goal string
	Err  error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed for goal %q: %v", e.Goal, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ToolSelectionError is fatal for the run: no registered tool provides the
// capability the current step requires.
type ToolSelectionError struct {
	Capability string
}

func (e *ToolSelectionError) Error() string {
	return fmt.Sprintf("no tool registered for capability %q", e.Capability)
}
