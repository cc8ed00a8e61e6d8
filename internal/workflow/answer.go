// File: internal/workflow/answer.go
// Description: Terminal output rendering. A completed run gets a summary of
// what was changed; an escalated run gets a digest a human can act on.
package workflow

import (
	"fmt"
	"strings"

	"github.com/puntini/puntini/api/schemas"
)

// composeAnswer renders the final answer for a run that completed its plan.
func composeAnswer(state *schemas.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Completed: %s\n", state.Goal)

	applied := 0
	skipped := 0
	for _, rec := range state.AppliedOperations {
		switch rec.Outcome {
		case schemas.OutcomeApplied:
			applied++
		case schemas.OutcomeSkippedDuplicate:
			skipped++
		}
	}
	fmt.Fprintf(&b, "Applied %d graph operation(s)", applied)
	if skipped > 0 {
		fmt.Fprintf(&b, " (%d already applied earlier)", skipped)
	}
	b.WriteString(".\n")

	for _, rec := range state.AppliedOperations {
		if rec.Outcome == schemas.OutcomeApplied {
			fmt.Fprintf(&b, "  - %s\n", rec.Ref)
		}
	}
	if len(state.ErrorHistory) > 0 {
		fmt.Fprintf(&b, "Recovered from %d failed attempt(s) along the way.\n", len(state.ErrorHistory))
	}
	return b.String()
}

// composeEscalationDigest renders the hand-off document for a human: what
// was attempted, what failed, and why the loop stopped.
func composeEscalationDigest(state *schemas.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escalated: %s\n", state.Goal)
	fmt.Fprintf(&b, "Reason: %s\n", state.EscalationReason)

	if step := state.CurrentStep(); step != nil {
		fmt.Fprintf(&b, "Stuck on step %d: %s\n", state.StepIndex+1, step.Description)
	}
	if len(state.ErrorHistory) > 0 {
		b.WriteString("Failure history:\n")
		for _, e := range state.ErrorHistory {
			fmt.Fprintf(&b, "  - attempt %d [%s/%s]: %s\n", e.Attempt, e.Stage, e.Code, e.Message)
		}
	}
	if len(state.AppliedOperations) > 0 {
		fmt.Fprintf(&b, "%d operation(s) were already applied and remain in the graph.\n", len(state.AppliedOperations))
	}
	b.WriteString("Resume this run after addressing the failures above.\n")
	return b.String()
}
