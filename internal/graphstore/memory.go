// File: internal/graphstore/memory.go
// Description: In-memory graph store backend. The default backend for local
// runs and the reference implementation the conformance suite is written
// against.
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// edgeKey is the identity of an edge: endpoints plus relationship type.
// Re-adding an existing edge merges properties instead of duplicating it.
type edgeKey struct {
	src nodeRef
	rel schemas.RelationshipType
	dst nodeRef
}

// InMemoryStore holds the full graph in process memory, guarded by a single
// RWMutex. Apply stages every mutation on copies and commits by swapping the
// maps, so a failed batch leaves no trace.
type InMemoryStore struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	nodes   map[nodeRef]schemas.Entity
	edges   map[edgeKey]schemas.Edge
	seenOps map[string]struct{}
}

// NewInMemoryStore creates an empty in-memory graph store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	return &InMemoryStore{
		logger:  logger.Named("memory_store"),
		now:     func() time.Time { return time.Now().UTC() },
		nodes:   make(map[nodeRef]schemas.Entity),
		edges:   make(map[edgeKey]schemas.Edge),
		seenOps: make(map[string]struct{}),
	}
}

// memView adapts the store's maps to the constraint checker. It must only be
// used while the store's lock is held.
type memView struct {
	nodes map[nodeRef]schemas.Entity
	ops   map[string]struct{}
}

func (v memView) hasNode(label schemas.EntityLabel, key string) (bool, error) {
	_, ok := v.nodes[nodeRef{label, key}]
	return ok, nil
}

func (v memView) issueStatus(key string) (schemas.IssueStatus, bool, error) {
	n, ok := v.nodes[nodeRef{schemas.LabelIssue, key}]
	if !ok {
		return "", false, nil
	}
	raw, ok := n.Properties["status"].(string)
	if !ok {
		return "", false, nil
	}
	return schemas.IssueStatus(raw), true, nil
}

func (v memView) opApplied(opID string) (bool, error) {
	_, dup := v.ops[opID]
	return dup, nil
}

// Apply implements schemas.GraphStore.
func (s *InMemoryStore) Apply(ctx context.Context, patches []schemas.Patch) (*schemas.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	check, skipped, err := checkConstraints(patches, memView{s.nodes, s.seenOps})
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return rejectAll(patches, check), nil
	}

	// Stage on copies. Entities are value types; property bags are cloned on
	// write, never mutated in place.
	stagedNodes := make(map[nodeRef]schemas.Entity, len(s.nodes))
	for k, v := range s.nodes {
		stagedNodes[k] = v
	}
	stagedEdges := make(map[edgeKey]schemas.Edge, len(s.edges))
	for k, v := range s.edges {
		stagedEdges[k] = v
	}

	result := &schemas.ApplyResult{Success: true, Outcomes: make([]schemas.PatchOutcome, 0, len(patches))}
	now := s.now()

	for i, p := range patches {
		ref := patchRef(p)
		if skipped[i] {
			result.Outcomes = append(result.Outcomes, schemas.PatchOutcome{
				PatchID: p.ID,
				Status:  schemas.OutcomeSkippedDuplicate,
				Reason:  "operation id already applied",
				Ref:     ref,
			})
			continue
		}
		applyToStaged(p, stagedNodes, stagedEdges, now)
		result.Outcomes = append(result.Outcomes, schemas.PatchOutcome{
			PatchID: p.ID,
			Status:  schemas.OutcomeApplied,
			Ref:     ref,
		})
	}

	// Commit.
	s.nodes = stagedNodes
	s.edges = stagedEdges
	for _, p := range patches {
		s.seenOps[p.ID] = struct{}{}
	}

	s.logger.Debug("Applied patch batch",
		zap.Int("patches", len(patches)),
		zap.Int("nodes", len(s.nodes)),
		zap.Int("edges", len(s.edges)))
	return result, nil
}

// rejectAll converts a failed constraint check into per-patch outcomes. The
// offending patches carry the violation message; everything else reports the
// batch rollback.
func rejectAll(patches []schemas.Patch, check *schemas.ConstraintResult) *schemas.ApplyResult {
	reasons := make(map[int]string, len(check.Violations))
	for _, v := range check.Violations {
		if _, ok := reasons[v.PatchIndex]; !ok {
			reasons[v.PatchIndex] = fmt.Sprintf("%s: %s", v.Code, v.Message)
		}
	}

	result := &schemas.ApplyResult{Success: false, Outcomes: make([]schemas.PatchOutcome, 0, len(patches))}
	for i, p := range patches {
		reason, offending := reasons[i]
		if !offending {
			reason = "batch rolled back"
		}
		result.Outcomes = append(result.Outcomes, schemas.PatchOutcome{
			PatchID: p.ID,
			Status:  schemas.OutcomeRejected,
			Reason:  reason,
			Ref:     patchRef(p),
		})
	}
	return result
}

func applyToStaged(p schemas.Patch, nodes map[nodeRef]schemas.Entity, edges map[edgeKey]schemas.Edge, now time.Time) {
	switch p.Op {
	case schemas.OpAddNode:
		ref := nodeRef{p.Node.Label, p.Node.Key}
		if existing, ok := nodes[ref]; ok {
			existing.Properties = mergeProperties(existing.Properties, p.Node.Properties)
			existing.UpdatedAt = now
			nodes[ref] = existing
			return
		}
		nodes[ref] = schemas.Entity{
			Label:      p.Node.Label,
			Key:        p.Node.Key,
			Properties: p.Node.Properties.Clone(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

	case schemas.OpUpdateProperties:
		ref := nodeRef{p.Node.Label, p.Node.Key}
		existing := nodes[ref]
		existing.Properties = mergeProperties(existing.Properties, p.Node.Properties)
		existing.UpdatedAt = now
		nodes[ref] = existing

	case schemas.OpAddEdge:
		key := edgeKeyOf(*p.Edge)
		if existing, ok := edges[key]; ok {
			existing.Properties = mergeProperties(existing.Properties, p.Edge.Properties)
			edges[key] = existing
			return
		}
		edges[key] = schemas.Edge{
			SourceLabel: p.Edge.SourceLabel,
			SourceKey:   p.Edge.SourceKey,
			Rel:         p.Edge.Rel,
			TargetLabel: p.Edge.TargetLabel,
			TargetKey:   p.Edge.TargetKey,
			Properties:  p.Edge.Properties.Clone(),
			CreatedAt:   now,
		}

	case schemas.OpDeleteNode:
		ref := nodeRef{p.Node.Label, p.Node.Key}
		delete(nodes, ref)
		for key := range edges {
			if key.src == ref || key.dst == ref {
				delete(edges, key)
			}
		}

	case schemas.OpDeleteEdge:
		delete(edges, edgeKeyOf(*p.Edge))
	}
}

// mergeProperties overlays incoming onto base without touching either input.
func mergeProperties(base, overlay schemas.Properties) schemas.Properties {
	if base == nil && overlay == nil {
		return nil
	}
	merged := base.Clone()
	if merged == nil {
		merged = make(schemas.Properties, len(overlay))
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// ValidateConstraints implements schemas.GraphStore.
func (s *InMemoryStore) ValidateConstraints(ctx context.Context, patches []schemas.Patch) (*schemas.ConstraintResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	check, _, err := checkConstraints(patches, memView{s.nodes, s.seenOps})
	return check, err
}

// GetNode implements schemas.GraphStore. Absence is (nil, nil).
func (s *InMemoryStore) GetNode(ctx context.Context, label schemas.EntityLabel, key string) (*schemas.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeRef{label, key}]
	if !ok {
		return nil, nil
	}
	out := n
	out.Properties = n.Properties.Clone()
	return &out, nil
}

// GetSubgraph implements schemas.GraphStore. The traversal follows edges in
// both directions, bounded by depth, optionally filtered to the given
// relationship types. Results are sorted for deterministic output.
func (s *InMemoryStore) GetSubgraph(ctx context.Context, label schemas.EntityLabel, key string, depth int, rels []schemas.RelationshipType) (*schemas.Subgraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := &schemas.Subgraph{Nodes: []schemas.Entity{}, Edges: []schemas.Edge{}}
	root := nodeRef{label, key}
	if _, ok := s.nodes[root]; !ok {
		return sub, nil
	}

	allowed := map[schemas.RelationshipType]bool{}
	for _, r := range rels {
		allowed[r] = true
	}

	visited := map[nodeRef]bool{root: true}
	collected := map[edgeKey]bool{}
	frontier := []nodeRef{root}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []nodeRef
		for _, cur := range frontier {
			for k := range s.edges {
				if len(allowed) > 0 && !allowed[k.rel] {
					continue
				}
				var other nodeRef
				switch cur {
				case k.src:
					other = k.dst
				case k.dst:
					other = k.src
				default:
					continue
				}
				if !collected[k] {
					collected[k] = true
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	for ref := range visited {
		n := s.nodes[ref]
		n.Properties = n.Properties.Clone()
		sub.Nodes = append(sub.Nodes, n)
	}
	for k := range collected {
		e := s.edges[k]
		e.Properties = e.Properties.Clone()
		sub.Edges = append(sub.Edges, e)
	}

	sortSubgraph(sub)
	return sub, nil
}

// sortSubgraph orders traversal results deterministically so backends return
// comparable subgraphs for the same state.
func sortSubgraph(sub *schemas.Subgraph) {
	sort.Slice(sub.Nodes, func(i, j int) bool {
		if sub.Nodes[i].Label != sub.Nodes[j].Label {
			return sub.Nodes[i].Label < sub.Nodes[j].Label
		}
		return sub.Nodes[i].Key < sub.Nodes[j].Key
	})
	sort.Slice(sub.Edges, func(i, j int) bool {
		return edgeRefString(sub.Edges[i]) < edgeRefString(sub.Edges[j])
	})
}

// Health implements schemas.GraphStore.
func (s *InMemoryStore) Health(ctx context.Context) (schemas.StoreHealth, error) {
	if err := ctx.Err(); err != nil {
		return schemas.StoreHealth{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemas.StoreHealth{Backend: "memory", Nodes: len(s.nodes), Edges: len(s.edges)}, nil
}

// -- reference strings --

func nodeRefString(label schemas.EntityLabel, key string) string {
	return fmt.Sprintf("%s:%s", label, key)
}

func edgeSpecRefString(e schemas.EdgeSpec) string {
	return fmt.Sprintf("%s:%s-%s-%s:%s", e.SourceLabel, e.SourceKey, e.Rel, e.TargetLabel, e.TargetKey)
}

func edgeRefString(e schemas.Edge) string {
	return fmt.Sprintf("%s:%s-%s-%s:%s", e.SourceLabel, e.SourceKey, e.Rel, e.TargetLabel, e.TargetKey)
}

// patchRef renders the store reference a patch addresses, used in outcomes
// and the operation log.
func patchRef(p schemas.Patch) string {
	switch {
	case p.Node != nil:
		return nodeRefString(p.Node.Label, p.Node.Key)
	case p.Edge != nil:
		return edgeSpecRefString(*p.Edge)
	}
	return ""
}

func edgeKeyOf(e schemas.EdgeSpec) edgeKey {
	return edgeKey{
		src: nodeRef{e.SourceLabel, e.SourceKey},
		rel: e.Rel,
		dst: nodeRef{e.TargetLabel, e.TargetKey},
	}
}
