package schemas

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PatchOp is the tagged variant discriminator for a Patch.
type PatchOp string

const (
	OpAddNode          PatchOp = "add_node"
	OpUpdateProperties PatchOp = "update_properties"
	OpAddEdge          PatchOp = "add_edge"
	OpDeleteNode       PatchOp = "delete_node"
	OpDeleteEdge       PatchOp = "delete_edge"
)

// Valid reports whether the operation is a member of the closed enum.
func (op PatchOp) Valid() bool {
	switch op {
	case OpAddNode, OpUpdateProperties, OpAddEdge, OpDeleteNode, OpDeleteEdge:
		return true
	}
	return false
}

// Patch is one atomic graph mutation instruction. Identity is the operation
// ID: two patches with the same ID carry the same logical intent, and the
// store treats re-application as a no-op (idempotency key).
//
// Node is set for add_node, update_properties and delete_node; Edge is set
// for add_edge and delete_edge.
type Patch struct {
	ID            string    `json:"id"`
	Op            PatchOp   `json:"op"`
	Node          *NodeSpec `json:"node,omitempty"`
	Edge          *EdgeSpec `json:"edge,omitempty"`
	Justification string    `json:"justification,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewAddNode builds an add_node patch with a fresh operation ID.
func NewAddNode(spec NodeSpec, justification string) Patch {
	return newPatch(OpAddNode, &spec, nil, justification)
}

// NewUpdateProperties builds an update_properties patch carrying a partial
// property set for an existing entity.
func NewUpdateProperties(label EntityLabel, key string, props Properties, justification string) Patch {
	return newPatch(OpUpdateProperties, &NodeSpec{Label: label, Key: key, Properties: props}, nil, justification)
}

// NewAddEdge builds an add_edge patch with a fresh operation ID.
func NewAddEdge(spec EdgeSpec, justification string) Patch {
	return newPatch(OpAddEdge, nil, &spec, justification)
}

// NewDeleteNode builds a delete_node patch for the entity at (label, key).
func NewDeleteNode(label EntityLabel, key string, justification string) Patch {
	return newPatch(OpDeleteNode, &NodeSpec{Label: label, Key: key}, nil, justification)
}

// NewDeleteEdge builds a delete_edge patch for the given edge.
func NewDeleteEdge(spec EdgeSpec, justification string) Patch {
	return newPatch(OpDeleteEdge, nil, &spec, justification)
}

func newPatch(op PatchOp, node *NodeSpec, edge *EdgeSpec, justification string) Patch {
	return Patch{
		ID:            uuid.NewString(),
		Op:            op,
		Node:          node,
		Edge:          edge,
		Justification: justification,
		CreatedAt:     time.Now().UTC(),
	}
}

// CheckShape performs the basic structural validation that patch construction
// guarantees: known operation, the right variant part present, non-empty keys
// and enum membership. Anything beyond shape (business rules, graph state) is
// the validation pipeline's job.
func (p Patch) CheckShape() error {
	if p.ID == "" {
		return fmt.Errorf("patch is missing an operation id")
	}
	if !p.Op.Valid() {
		return fmt.Errorf("unknown patch operation %q", p.Op)
	}

	switch p.Op {
	case OpAddNode, OpUpdateProperties, OpDeleteNode:
		if p.Node == nil {
			return fmt.Errorf("%s patch requires a node specification", p.Op)
		}
		if p.Edge != nil {
			return fmt.Errorf("%s patch must not carry an edge specification", p.Op)
		}
		return p.Node.check()
	case OpAddEdge, OpDeleteEdge:
		if p.Edge == nil {
			return fmt.Errorf("%s patch requires an edge specification", p.Op)
		}
		if p.Node != nil {
			return fmt.Errorf("%s patch must not carry a node specification", p.Op)
		}
		return p.Edge.check()
	}
	return nil
}

func (n *NodeSpec) check() error {
	if !n.Label.Valid() {
		return fmt.Errorf("unknown entity label %q", n.Label)
	}
	if n.Key == "" {
		return fmt.Errorf("node key must not be empty")
	}
	return nil
}

func (e *EdgeSpec) check() error {
	if !e.SourceLabel.Valid() {
		return fmt.Errorf("unknown source label %q", e.SourceLabel)
	}
	if !e.TargetLabel.Valid() {
		return fmt.Errorf("unknown target label %q", e.TargetLabel)
	}
	if e.SourceKey == "" || e.TargetKey == "" {
		return fmt.Errorf("edge endpoint keys must not be empty")
	}
	if !e.Rel.Valid() {
		return fmt.Errorf("unknown relationship type %q", e.Rel)
	}
	return nil
}

// -- Application Outcomes --

// OutcomeStatus describes the fate of a single patch inside an Apply call.
type OutcomeStatus string

const (
	OutcomeApplied          OutcomeStatus = "applied"
	OutcomeRejected         OutcomeStatus = "rejected"
	OutcomeSkippedDuplicate OutcomeStatus = "skipped-duplicate"
)

// PatchOutcome is the per-patch result of a store Apply call.
type PatchOutcome struct {
	PatchID string        `json:"patch_id"`
	Status  OutcomeStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	// Ref is the store-assigned identifier of the touched node or edge,
	// e.g. "Project:ACME" or "Issue:I-1-BLOCKS-Issue:I-2".
	Ref string `json:"ref,omitempty"`
}

// ApplyResult is the all-or-nothing outcome of applying a patch batch.
// When Success is false, no patch of the batch is observable in the store.
type ApplyResult struct {
	Success  bool           `json:"success"`
	Outcomes []PatchOutcome `json:"outcomes"`
}

// -- Constraint Checking --

// ConstraintCode classifies a dry-run constraint violation.
type ConstraintCode string

const (
	ConstraintDanglingReference  ConstraintCode = "dangling_reference"
	ConstraintDuplicateKey       ConstraintCode = "duplicate_key"
	ConstraintEndpointMismatch   ConstraintCode = "endpoint_mismatch"
	ConstraintSelfLoop           ConstraintCode = "self_loop"
	ConstraintIllegalTransition  ConstraintCode = "illegal_transition"
	ConstraintUnknownTarget      ConstraintCode = "unknown_target"
)

// ConstraintViolation attributes one violation to the offending patch.
type ConstraintViolation struct {
	PatchIndex int            `json:"patch_index"`
	Code       ConstraintCode `json:"code"`
	Message    string         `json:"message"`
}

// ConstraintResult is the outcome of a dry-run constraint check. It never
// reflects any mutation of the store.
type ConstraintResult struct {
	OK         bool                  `json:"ok"`
	Violations []ConstraintViolation `json:"violations,omitempty"`
}

// -- Audit Trail --

// OperationRecord is one immutable entry of the append-only operation log.
type OperationRecord struct {
	PatchID   string        `json:"patch_id"`
	RunID     string        `json:"run_id"`
	Outcome   OutcomeStatus `json:"outcome"`
	Ref       string        `json:"ref,omitempty"`
	Label     EntityLabel   `json:"label,omitempty"`
	Key       string        `json:"key,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
