package schemas

import "time"

// -- Canonical Property Graph Data Model --

// EntityLabel identifies the kind of an entity (node) in the project graph.
type EntityLabel string

const (
	LabelProject EntityLabel = "Project"
	LabelEpic    EntityLabel = "Epic"
	LabelIssue   EntityLabel = "Issue"
	LabelUser    EntityLabel = "User"
)

// KnownLabels lists every valid entity label, in a stable order.
var KnownLabels = []EntityLabel{LabelProject, LabelEpic, LabelIssue, LabelUser}

// Valid reports whether the label is a member of the closed entity-kind enum.
func (l EntityLabel) Valid() bool {
	switch l {
	case LabelProject, LabelEpic, LabelIssue, LabelUser:
		return true
	}
	return false
}

// RelationshipType defines the semantic type of a directed edge between two
// entities. Each type constrains which (source label, target label) pairs are
// permitted; see Allows.
type RelationshipType string

const (
	RelHasEpic    RelationshipType = "HAS_EPIC"    // Project -> Epic
	RelHasIssue   RelationshipType = "HAS_ISSUE"   // Epic -> Issue, Project -> Issue
	RelAssignedTo RelationshipType = "ASSIGNED_TO" // Issue -> User
	RelBlocks     RelationshipType = "BLOCKS"      // Issue -> Issue, never a self-loop
)

// Valid reports whether the relationship type is a member of the closed enum.
func (r RelationshipType) Valid() bool {
	_, ok := edgeEndpointRules[r]
	return ok
}

// edgeEndpointRules maps each relationship type to its permissible
// (source label, target label) pairs.
var edgeEndpointRules = map[RelationshipType][][2]EntityLabel{
	RelHasEpic:    {{LabelProject, LabelEpic}},
	RelHasIssue:   {{LabelEpic, LabelIssue}, {LabelProject, LabelIssue}},
	RelAssignedTo: {{LabelIssue, LabelUser}},
	RelBlocks:     {{LabelIssue, LabelIssue}},
}

// Allows reports whether the relationship type may connect a source entity of
// label src to a target entity of label dst.
func (r RelationshipType) Allows(src, dst EntityLabel) bool {
	for _, pair := range edgeEndpointRules[r] {
		if pair[0] == src && pair[1] == dst {
			return true
		}
	}
	return false
}

// IssueStatus enumerates the lifecycle states of an Issue entity.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueDone       IssueStatus = "done"
	IssueBlocked    IssueStatus = "blocked"
)

// Valid reports whether the status is a member of the closed enum.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueInProgress, IssueDone, IssueBlocked:
		return true
	}
	return false
}

// issueTransitions is the legal status transition table. A transition not
// listed here is rejected when the current status of the issue is known.
var issueTransitions = map[IssueStatus][]IssueStatus{
	IssueOpen:       {IssueInProgress, IssueBlocked},
	IssueInProgress: {IssueOpen, IssueDone, IssueBlocked},
	IssueBlocked:    {IssueOpen, IssueInProgress},
	IssueDone:       {IssueOpen},
}

// CanTransitionTo reports whether an issue may move from status s to next.
// A no-op transition (s == next) is always allowed.
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	if s == next {
		return true
	}
	for _, t := range issueTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Properties is the free-form property bag attached to entities and edges.
// Ordering is irrelevant; values must be JSON-serializable.
type Properties map[string]any

// Clone returns a shallow copy of the property bag. A nil receiver yields nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NodeSpec describes an entity by its natural key. The (Label, Key) pair is
// globally unique in the store.
type NodeSpec struct {
	Label      EntityLabel `json:"label"`
	Key        string      `json:"key"`
	Properties Properties  `json:"properties,omitempty"`
}

// EdgeSpec describes a directed, typed relationship between two entities,
// both addressed by natural key.
type EdgeSpec struct {
	SourceLabel EntityLabel      `json:"source_label"`
	SourceKey   string           `json:"source_key"`
	Rel         RelationshipType `json:"rel"`
	TargetLabel EntityLabel      `json:"target_label"`
	TargetKey   string           `json:"target_key"`
	Properties  Properties       `json:"properties,omitempty"`
}

// Entity is a materialized node as stored in the graph. Entities never embed
// relationships; those exist only as edges.
type Entity struct {
	Label      EntityLabel `json:"label"`
	Key        string      `json:"key"`
	Properties Properties  `json:"properties"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Edge is a materialized relationship as stored in the graph.
type Edge struct {
	SourceLabel EntityLabel      `json:"source_label"`
	SourceKey   string           `json:"source_key"`
	Rel         RelationshipType `json:"rel"`
	TargetLabel EntityLabel      `json:"target_label"`
	TargetKey   string           `json:"target_key"`
	Properties  Properties       `json:"properties"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Subgraph is a bounded slice of the graph returned by traversal queries.
type Subgraph struct {
	Nodes []Entity `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// StoreHealth reports backend liveness and coarse size counters.
type StoreHealth struct {
	Backend string `json:"backend"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
}
