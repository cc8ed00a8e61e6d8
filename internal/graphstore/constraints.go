// File: internal/graphstore/constraints.go
// Description: Backend-independent constraint checking. Both store backends
// feed the same checker through a minimal state view, which is what
// guarantees identical dry-run semantics across backends.
package graphstore

import (
	"fmt"

	"github.com/puntini/puntini/api/schemas"
)

// stateView is the minimal read access the constraint checker needs from a
// backend. Implementations must not mutate anything.
type stateView interface {
	hasNode(label schemas.EntityLabel, key string) (bool, error)
	issueStatus(key string) (schemas.IssueStatus, bool, error)
	opApplied(opID string) (bool, error)
}

// nodeRef addresses a node by its natural key within the checker.
type nodeRef struct {
	label schemas.EntityLabel
	key   string
}

// checkConstraints dry-runs the patch sequence against current persisted
// state. Violations that are only knowable against state (dangling
// references, duplicate keys, illegal status transitions) are attributed to
// the offending patch index. Structural shape problems are the validation
// pipeline's schema stage and are not re-reported here.
//
// Patches whose operation id was already applied contribute nothing: Apply
// will skip them, so their effects must not satisfy (or break) the rest of
// the batch. The returned set marks those patch indices.
func checkConstraints(patches []schemas.Patch, view stateView) (*schemas.ConstraintResult, map[int]bool, error) {
	result := &schemas.ConstraintResult{OK: true}

	created := map[nodeRef]bool{}
	deleted := map[nodeRef]bool{}
	skipped := map[int]bool{}

	addViolation := func(i int, code schemas.ConstraintCode, format string, args ...any) {
		result.OK = false
		result.Violations = append(result.Violations, schemas.ConstraintViolation{
			PatchIndex: i,
			Code:       code,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	// exists resolves node existence against the batch first, then the store.
	exists := func(label schemas.EntityLabel, key string) (bool, error) {
		ref := nodeRef{label, key}
		if deleted[ref] {
			return false, nil
		}
		if created[ref] {
			return true, nil
		}
		return view.hasNode(label, key)
	}

	for i, p := range patches {
		dup, err := view.opApplied(p.ID)
		if err != nil {
			return nil, nil, err
		}
		if dup {
			skipped[i] = true
			continue
		}

		switch p.Op {
		case schemas.OpAddNode:
			ref := nodeRef{p.Node.Label, p.Node.Key}
			if created[ref] {
				addViolation(i, schemas.ConstraintDuplicateKey,
					"duplicate key %q for label %s within one batch", p.Node.Key, p.Node.Label)
				continue
			}
			created[ref] = true
			delete(deleted, ref)

		case schemas.OpUpdateProperties:
			ok, err := exists(p.Node.Label, p.Node.Key)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				addViolation(i, schemas.ConstraintUnknownTarget,
					"cannot update unknown node %s:%s", p.Node.Label, p.Node.Key)
				continue
			}
			if p.Node.Label == schemas.LabelIssue {
				if err := checkIssueTransition(i, p, created, view, addViolation); err != nil {
					return nil, nil, err
				}
			}

		case schemas.OpAddEdge:
			e := p.Edge
			if !e.Rel.Allows(e.SourceLabel, e.TargetLabel) {
				addViolation(i, schemas.ConstraintEndpointMismatch,
					"relationship %s does not permit %s -> %s", e.Rel, e.SourceLabel, e.TargetLabel)
				continue
			}
			if e.Rel == schemas.RelBlocks && e.SourceLabel == e.TargetLabel && e.SourceKey == e.TargetKey {
				addViolation(i, schemas.ConstraintSelfLoop,
					"%s edge from %s:%s to itself", e.Rel, e.SourceLabel, e.SourceKey)
				continue
			}
			for _, end := range []nodeRef{{e.SourceLabel, e.SourceKey}, {e.TargetLabel, e.TargetKey}} {
				ok, err := exists(end.label, end.key)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					addViolation(i, schemas.ConstraintDanglingReference,
						"edge endpoint %s:%s does not exist", end.label, end.key)
				}
			}

		case schemas.OpDeleteNode:
			ref := nodeRef{p.Node.Label, p.Node.Key}
			ok, err := exists(ref.label, ref.key)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				addViolation(i, schemas.ConstraintUnknownTarget,
					"cannot delete unknown node %s:%s", p.Node.Label, p.Node.Key)
				continue
			}
			deleted[ref] = true
			delete(created, ref)

		case schemas.OpDeleteEdge:
			// Deleting an absent edge is a no-op, never a violation.
		}
	}

	return result, skipped, nil
}

// checkIssueTransition validates a status change against the persisted
// status. Nodes created earlier in the same batch have no persisted status
// yet, so any value passes.
func checkIssueTransition(i int, p schemas.Patch, created map[nodeRef]bool, view stateView,
	addViolation func(int, schemas.ConstraintCode, string, ...any)) error {

	raw, ok := p.Node.Properties["status"]
	if !ok {
		return nil
	}
	next, ok := raw.(string)
	if !ok || !schemas.IssueStatus(next).Valid() {
		// Membership of the status enum is the domain stage's concern.
		return nil
	}
	if created[nodeRef{p.Node.Label, p.Node.Key}] {
		return nil
	}

	current, known, err := view.issueStatus(p.Node.Key)
	if err != nil {
		return err
	}
	if known && !current.CanTransitionTo(schemas.IssueStatus(next)) {
		addViolation(i, schemas.ConstraintIllegalTransition,
			"issue %s cannot move from %s to %s", p.Node.Key, current, next)
	}
	return nil
}
