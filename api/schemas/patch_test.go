package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchCheckShape(t *testing.T) {
	t.Parallel()

	t.Run("constructors produce well-formed patches", func(t *testing.T) {
		t.Parallel()
		patches := []Patch{
			NewAddNode(NodeSpec{Label: LabelProject, Key: "ACME", Properties: Properties{"name": "Acme Corp"}}, "create project"),
			NewUpdateProperties(LabelIssue, "I-1", Properties{"status": "in_progress"}, "start work"),
			NewAddEdge(EdgeSpec{SourceLabel: LabelProject, SourceKey: "ACME", Rel: RelHasEpic, TargetLabel: LabelEpic, TargetKey: "E-1"}, "link epic"),
			NewDeleteNode(LabelIssue, "I-9", "remove stale issue"),
			NewDeleteEdge(EdgeSpec{SourceLabel: LabelIssue, SourceKey: "I-1", Rel: RelBlocks, TargetLabel: LabelIssue, TargetKey: "I-2"}, "unblock"),
		}
		for _, p := range patches {
			require.NoError(t, p.CheckShape(), "op %s", p.Op)
			assert.NotEmpty(t, p.ID)
			assert.False(t, p.CreatedAt.IsZero())
		}
	})

	t.Run("rejects unknown enum values and missing parts", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name  string
			patch Patch
		}{
			{"unknown op", Patch{ID: "x", Op: "merge_node", Node: &NodeSpec{Label: LabelProject, Key: "A"}}},
			{"missing id", Patch{Op: OpAddNode, Node: &NodeSpec{Label: LabelProject, Key: "A"}}},
			{"node op without node", Patch{ID: "x", Op: OpAddNode}},
			{"edge op without edge", Patch{ID: "x", Op: OpAddEdge}},
			{"unknown label", Patch{ID: "x", Op: OpAddNode, Node: &NodeSpec{Label: "Sprint", Key: "S-1"}}},
			{"empty key", Patch{ID: "x", Op: OpAddNode, Node: &NodeSpec{Label: LabelProject, Key: ""}}},
			{"unknown rel", Patch{ID: "x", Op: OpAddEdge, Edge: &EdgeSpec{SourceLabel: LabelProject, SourceKey: "A", Rel: "OWNS", TargetLabel: LabelEpic, TargetKey: "E"}}},
			{"node op carrying edge", Patch{ID: "x", Op: OpDeleteNode, Node: &NodeSpec{Label: LabelIssue, Key: "I"}, Edge: &EdgeSpec{}}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				assert.Error(t, tc.patch.CheckShape())
			})
		}
	})
}

func TestRelationshipEndpointRules(t *testing.T) {
	t.Parallel()

	assert.True(t, RelHasEpic.Allows(LabelProject, LabelEpic))
	assert.False(t, RelHasEpic.Allows(LabelEpic, LabelProject))
	assert.False(t, RelHasEpic.Allows(LabelProject, LabelIssue))

	assert.True(t, RelHasIssue.Allows(LabelEpic, LabelIssue))
	assert.True(t, RelHasIssue.Allows(LabelProject, LabelIssue))
	assert.False(t, RelHasIssue.Allows(LabelUser, LabelIssue))

	assert.True(t, RelAssignedTo.Allows(LabelIssue, LabelUser))
	assert.False(t, RelAssignedTo.Allows(LabelUser, LabelIssue))

	assert.True(t, RelBlocks.Allows(LabelIssue, LabelIssue))
	assert.False(t, RelBlocks.Allows(LabelEpic, LabelEpic))
}

func TestIssueStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, IssueOpen.CanTransitionTo(IssueInProgress))
	assert.True(t, IssueInProgress.CanTransitionTo(IssueDone))
	assert.True(t, IssueBlocked.CanTransitionTo(IssueOpen))
	assert.True(t, IssueDone.CanTransitionTo(IssueOpen), "reopening a done issue is allowed")
	assert.False(t, IssueOpen.CanTransitionTo(IssueDone), "open cannot jump straight to done")
	assert.False(t, IssueDone.CanTransitionTo(IssueBlocked))

	// A no-op transition is always legal.
	assert.True(t, IssueBlocked.CanTransitionTo(IssueBlocked))
}

func TestPropertiesClone(t *testing.T) {
	t.Parallel()

	var nilProps Properties
	assert.Nil(t, nilProps.Clone())

	orig := Properties{"name": "Acme", "size": 3}
	clone := orig.Clone()
	clone["name"] = "Other"
	assert.Equal(t, "Acme", orig["name"], "mutating the clone must not touch the original")
}
