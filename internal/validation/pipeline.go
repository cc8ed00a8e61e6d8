// File: internal/validation/pipeline.go
// Description: Three-stage validation of candidate patch batches. Stages run
// in a fixed order (schema, domain, graph) and short-circuit on the first
// failing stage so a batch is only ever attributed to one stage.
package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// Item attributes one validation finding to the offending patch.
type Item struct {
	PatchIndex int    `json:"patch_index"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Outcome is the result of running a batch through the pipeline. When the
// batch is rejected, Stage names the (single) stage that failed and Items
// carries every finding from that stage.
type Outcome struct {
	Accepted bool          `json:"accepted"`
	Stage    schemas.Stage `json:"stage,omitempty"`
	Items    []Item        `json:"items,omitempty"`
}

// ErrorCode maps the outcome to the attributed error code of the failing
// stage.
func (o *Outcome) ErrorCode() schemas.ErrorCode {
	return schemas.StageCode(o.Stage)
}

// Summary renders the findings into a single message suitable for the error
// history and for re-prompting.
func (o *Outcome) Summary() string {
	if o.Accepted {
		return "accepted"
	}
	msg := fmt.Sprintf("%s stage rejected the batch", o.Stage)
	for _, item := range o.Items {
		msg += fmt.Sprintf("; patch %d: %s", item.PatchIndex, item.Message)
	}
	return msg
}

// Pipeline validates candidate patches before they reach the store. The
// first two stages are pure; only the graph stage consults persisted state,
// through the store's dry-run interface.
type Pipeline struct {
	logger *zap.Logger
	store  schemas.GraphStore
}

// New creates a validation pipeline bound to the given store.
func New(store schemas.GraphStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.Named("validation"),
		store:  store,
	}
}

// Validate runs the batch through all stages. Identical input against
// identical graph state yields an identical outcome; the pipeline holds no
// state of its own. The returned error is reserved for infrastructure
// failures (store unreachable), never for invalid patches.
func (p *Pipeline) Validate(ctx context.Context, patches []schemas.Patch) (*Outcome, error) {
	if items := checkSchema(patches); len(items) > 0 {
		p.logger.Debug("Batch rejected by schema stage", zap.Int("findings", len(items)))
		return &Outcome{Stage: schemas.StageSchema, Items: items}, nil
	}
	if items := checkDomain(patches); len(items) > 0 {
		p.logger.Debug("Batch rejected by domain stage", zap.Int("findings", len(items)))
		return &Outcome{Stage: schemas.StageDomain, Items: items}, nil
	}

	check, err := p.store.ValidateConstraints(ctx, patches)
	if err != nil {
		return nil, fmt.Errorf("graph constraint check failed: %w", err)
	}
	if !check.OK {
		items := make([]Item, 0, len(check.Violations))
		for _, v := range check.Violations {
			items = append(items, Item{
				PatchIndex: v.PatchIndex,
				Code:       string(v.Code),
				Message:    v.Message,
			})
		}
		p.logger.Debug("Batch rejected by graph stage", zap.Int("findings", len(items)))
		return &Outcome{Stage: schemas.StageGraph, Items: items}, nil
	}

	return &Outcome{Accepted: true}, nil
}

// checkSchema verifies structural well-formedness of every patch: known
// operation, correct variant part, enum membership, non-empty keys.
func checkSchema(patches []schemas.Patch) []Item {
	var items []Item
	if len(patches) == 0 {
		return []Item{{PatchIndex: -1, Code: "empty_batch", Message: "extraction produced no patches"}}
	}
	for i, p := range patches {
		if err := p.CheckShape(); err != nil {
			items = append(items, Item{PatchIndex: i, Code: "malformed_patch", Message: err.Error()})
		}
	}
	return items
}

// checkDomain enforces business rules that need no graph state: the issue
// status vocabulary, the property value types the model tends to get wrong,
// and relationship legality between endpoint labels. These are modeling
// mistakes regardless of what the graph currently holds, so they must not
// reach the graph stage.
func checkDomain(patches []schemas.Patch) []Item {
	var items []Item
	for i, p := range patches {
		if p.Op == schemas.OpAddEdge {
			items = append(items, checkEdgeRules(i, p.Edge)...)
			continue
		}
		if p.Node == nil || p.Node.Label != schemas.LabelIssue {
			continue
		}
		raw, ok := p.Node.Properties["status"]
		if !ok {
			continue
		}
		status, ok := raw.(string)
		if !ok {
			items = append(items, Item{
				PatchIndex: i,
				Code:       "invalid_status",
				Message:    fmt.Sprintf("issue status must be a string, got %T", raw),
			})
			continue
		}
		if !schemas.IssueStatus(status).Valid() {
			items = append(items, Item{
				PatchIndex: i,
				Code:       "invalid_status",
				Message: fmt.Sprintf("unknown issue status %q (valid: %s, %s, %s, %s)",
					status, schemas.IssueOpen, schemas.IssueInProgress, schemas.IssueDone, schemas.IssueBlocked),
			})
		}
	}
	return items
}

// checkEdgeRules validates an edge against the relationship vocabulary. The
// shape stage already guaranteed the edge part is present.
func checkEdgeRules(i int, e *schemas.EdgeSpec) []Item {
	if !e.Rel.Allows(e.SourceLabel, e.TargetLabel) {
		return []Item{{
			PatchIndex: i,
			Code:       string(schemas.ConstraintEndpointMismatch),
			Message:    fmt.Sprintf("relationship %s does not permit %s -> %s", e.Rel, e.SourceLabel, e.TargetLabel),
		}}
	}
	if e.Rel == schemas.RelBlocks && e.SourceLabel == e.TargetLabel && e.SourceKey == e.TargetKey {
		return []Item{{
			PatchIndex: i,
			Code:       string(schemas.ConstraintSelfLoop),
			Message:    fmt.Sprintf("%s edge from %s:%s to itself", e.Rel, e.SourceLabel, e.SourceKey),
		}}
	}
	return nil
}
