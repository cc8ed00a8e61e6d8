package graphstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// The suite below pins down the store semantics every backend must share.
// It runs in-process against the in-memory backend; the Postgres backend is
// held to the same behavior through its own pgxmock tests plus the shared
// constraint checker.

func newTestStore(t *testing.T) schemas.GraphStore {
	t.Helper()
	return NewInMemoryStore(zap.NewNop())
}

// seedBaseline creates a small project graph used by most scenarios.
func seedBaseline(t *testing.T, store schemas.GraphStore) {
	t.Helper()
	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME", Properties: schemas.Properties{"name": "ACME rollout"}}, ""),
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelEpic, Key: "E-1"}, ""),
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: "I-1", Properties: schemas.Properties{"status": "open"}}, ""),
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelUser, Key: "ada"}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelProject, SourceKey: "ACME", Rel: schemas.RelHasEpic, TargetLabel: schemas.LabelEpic, TargetKey: "E-1"}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelEpic, SourceKey: "E-1", Rel: schemas.RelHasIssue, TargetLabel: schemas.LabelIssue, TargetKey: "I-1"}, ""),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestApplyCreatesAndReads(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	node, err := store.GetNode(context.Background(), schemas.LabelProject, "ACME")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "ACME rollout", node.Properties["name"])
	assert.False(t, node.CreatedAt.IsZero())

	health, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, health.Nodes)
	assert.Equal(t, 2, health.Edges)
}

func TestApplyIsIdempotentPerOperationID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	patch := schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, "")
	first, err := store.Apply(context.Background(), []schemas.Patch{patch})
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, schemas.OutcomeApplied, first.Outcomes[0].Status)

	second, err := store.Apply(context.Background(), []schemas.Patch{patch})
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, schemas.OutcomeSkippedDuplicate, second.Outcomes[0].Status)
	assert.Equal(t, "Project:ACME", second.Outcomes[0].Ref)

	health, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, health.Nodes, "re-application must not duplicate the node")
}

func TestApplyRollsBackTheWholeBatch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelProject, SourceKey: "ACME", Rel: schemas.RelHasEpic, TargetLabel: schemas.LabelEpic, TargetKey: "missing"}, ""),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, schemas.OutcomeRejected, result.Outcomes[0].Status)
	assert.Equal(t, "batch rolled back", result.Outcomes[0].Reason)
	assert.Equal(t, schemas.OutcomeRejected, result.Outcomes[1].Status)
	assert.Contains(t, result.Outcomes[1].Reason, string(schemas.ConstraintDanglingReference))

	// Nothing from the failed batch is observable.
	node, err := store.GetNode(context.Background(), schemas.LabelProject, "ACME")
	require.NoError(t, err)
	assert.Nil(t, node)

	// The failed batch must not consume the operation ids either: the same
	// patches succeed once the endpoint exists.
	fix := schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelEpic, Key: "missing"}, "")
	retry, err := store.Apply(context.Background(), []schemas.Patch{
		fix,
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelProject, SourceKey: "ACME", Rel: schemas.RelHasEpic, TargetLabel: schemas.LabelEpic, TargetKey: "missing"}, ""),
	})
	require.NoError(t, err)
	assert.True(t, retry.Success)
}

func TestAddNodeUpsertMergesProperties(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME", Properties: schemas.Properties{"owner": "ada"}}, ""),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	node, err := store.GetNode(context.Background(), schemas.LabelProject, "ACME")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "ACME rollout", node.Properties["name"], "existing properties survive the upsert")
	assert.Equal(t, "ada", node.Properties["owner"])
}

func TestUpdateUnknownNodeIsRejected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewUpdateProperties(schemas.LabelIssue, "ghost", schemas.Properties{"status": "done"}, ""),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Contains(t, result.Outcomes[0].Reason, string(schemas.ConstraintUnknownTarget))
}

func TestIssueStatusTransitions(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	t.Run("rejects an illegal jump", func(t *testing.T) {
		// I-1 is open; open -> done is not in the transition table.
		result, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewUpdateProperties(schemas.LabelIssue, "I-1", schemas.Properties{"status": "done"}, ""),
		})
		require.NoError(t, err)
		require.False(t, result.Success)
		assert.Contains(t, result.Outcomes[0].Reason, string(schemas.ConstraintIllegalTransition))
	})

	t.Run("accepts a legal step and a no-op", func(t *testing.T) {
		result, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewUpdateProperties(schemas.LabelIssue, "I-1", schemas.Properties{"status": "in_progress"}, ""),
		})
		require.NoError(t, err)
		require.True(t, result.Success)

		noop, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewUpdateProperties(schemas.LabelIssue, "I-1", schemas.Properties{"status": "in_progress"}, ""),
		})
		require.NoError(t, err)
		assert.True(t, noop.Success)
	})
}

func TestEdgeConstraints(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	t.Run("rejects endpoint label mismatch", func(t *testing.T) {
		result, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelUser, SourceKey: "ada", Rel: schemas.RelHasEpic, TargetLabel: schemas.LabelEpic, TargetKey: "E-1"}, ""),
		})
		require.NoError(t, err)
		require.False(t, result.Success)
		assert.Contains(t, result.Outcomes[0].Reason, string(schemas.ConstraintEndpointMismatch))
	})

	t.Run("rejects a BLOCKS self-loop", func(t *testing.T) {
		result, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelIssue, SourceKey: "I-1", Rel: schemas.RelBlocks, TargetLabel: schemas.LabelIssue, TargetKey: "I-1"}, ""),
		})
		require.NoError(t, err)
		require.False(t, result.Success)
		assert.Contains(t, result.Outcomes[0].Reason, string(schemas.ConstraintSelfLoop))
	})

	t.Run("deleting an absent edge is a no-op", func(t *testing.T) {
		result, err := store.Apply(context.Background(), []schemas.Patch{
			schemas.NewDeleteEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelIssue, SourceKey: "I-1", Rel: schemas.RelAssignedTo, TargetLabel: schemas.LabelUser, TargetKey: "ada"}, ""),
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, schemas.OutcomeApplied, result.Outcomes[0].Status)
	})
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewDeleteNode(schemas.LabelEpic, "E-1", ""),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	health, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, health.Nodes)
	assert.Equal(t, 0, health.Edges, "both edges touching the epic are gone")
}

func TestBatchInternalReferences(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// An edge may reference nodes created earlier in the same batch.
	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: "I-10", Properties: schemas.Properties{"status": "open"}}, ""),
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: "I-11", Properties: schemas.Properties{"status": "open"}}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelIssue, SourceKey: "I-10", Rel: schemas.RelBlocks, TargetLabel: schemas.LabelIssue, TargetKey: "I-11"}, ""),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	// But not nodes deleted earlier in the same batch.
	result, err = store.Apply(context.Background(), []schemas.Patch{
		schemas.NewDeleteNode(schemas.LabelIssue, "I-11", ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelIssue, SourceKey: "I-10", Rel: schemas.RelBlocks, TargetLabel: schemas.LabelIssue, TargetKey: "I-11"}, ""),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Contains(t, result.Outcomes[1].Reason, string(schemas.ConstraintDanglingReference))
}

func TestReplayedAddNodeCannotSatisfyEdgeEndpoints(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	addA := schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: "I-1", Properties: schemas.Properties{"status": "open"}}, "")
	first, err := store.Apply(ctx, []schemas.Patch{addA})
	require.NoError(t, err)
	require.True(t, first.Success)

	deleted, err := store.Apply(ctx, []schemas.Patch{schemas.NewDeleteNode(schemas.LabelIssue, "I-1", "")})
	require.NoError(t, err)
	require.True(t, deleted.Success)

	// Replaying the original AddNode gets skipped as a duplicate, so it must
	// not vouch for the edge endpoint it will no longer create.
	result, err := store.Apply(ctx, []schemas.Patch{
		addA,
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: "I-2", Properties: schemas.Properties{"status": "open"}}, ""),
		schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelIssue, SourceKey: "I-1", Rel: schemas.RelBlocks, TargetLabel: schemas.LabelIssue, TargetKey: "I-2"}, ""),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Contains(t, result.Outcomes[2].Reason, string(schemas.ConstraintDanglingReference))

	node, err := store.GetNode(ctx, schemas.LabelIssue, "I-1")
	require.NoError(t, err)
	assert.Nil(t, node)

	health, err := store.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, health.Edges, "no edge may point at the deleted node")
}

func TestDuplicateKeyWithinBatch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	result, err := store.Apply(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, ""),
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, ""),
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Contains(t, result.Outcomes[1].Reason, string(schemas.ConstraintDuplicateKey))
}

func TestValidateConstraintsDoesNotMutate(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	check, err := store.ValidateConstraints(context.Background(), []schemas.Patch{
		schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: "ACME"}, ""),
	})
	require.NoError(t, err)
	assert.True(t, check.OK)

	node, err := store.GetNode(context.Background(), schemas.LabelProject, "ACME")
	require.NoError(t, err)
	assert.Nil(t, node, "dry-run must not create anything")
}

func TestGetSubgraph(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBaseline(t, store)

	ctx := context.Background()

	t.Run("depth zero returns the root alone", func(t *testing.T) {
		sub, err := store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 0, nil)
		require.NoError(t, err)
		require.Len(t, sub.Nodes, 1)
		assert.Equal(t, "ACME", sub.Nodes[0].Key)
		assert.Empty(t, sub.Edges)
	})

	t.Run("unknown root returns an empty subgraph", func(t *testing.T) {
		sub, err := store.GetSubgraph(ctx, schemas.LabelProject, "ghost", 2, nil)
		require.NoError(t, err)
		assert.Empty(t, sub.Nodes)
		assert.Empty(t, sub.Edges)
	})

	t.Run("depth bounds the traversal", func(t *testing.T) {
		sub, err := store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 1, nil)
		require.NoError(t, err)
		require.Len(t, sub.Nodes, 2, "project and epic, not the issue two hops away")
		require.Len(t, sub.Edges, 1)

		sub, err = store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 2, nil)
		require.NoError(t, err)
		assert.Len(t, sub.Nodes, 3)
		assert.Len(t, sub.Edges, 2)
	})

	t.Run("relationship filter prunes branches", func(t *testing.T) {
		sub, err := store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 2, []schemas.RelationshipType{schemas.RelHasEpic})
		require.NoError(t, err)
		assert.Len(t, sub.Nodes, 2)
		assert.Len(t, sub.Edges, 1)
	})

	t.Run("output is deterministic", func(t *testing.T) {
		first, err := store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 2, nil)
		require.NoError(t, err)
		second, err := store.GetSubgraph(ctx, schemas.LabelProject, "ACME", 2, nil)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(first, second))
	})
}

func TestConcurrentIndependentBatches(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("P-%d", i)
			result, err := store.Apply(context.Background(), []schemas.Patch{
				schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelProject, Key: key}, ""),
				schemas.NewAddNode(schemas.NodeSpec{Label: schemas.LabelIssue, Key: key + "-I", Properties: schemas.Properties{"status": "open"}}, ""),
				schemas.NewAddEdge(schemas.EdgeSpec{SourceLabel: schemas.LabelProject, SourceKey: key, Rel: schemas.RelHasIssue, TargetLabel: schemas.LabelIssue, TargetKey: key + "-I"}, ""),
			})
			if err != nil {
				errs <- err
				return
			}
			if !result.Success {
				errs <- fmt.Errorf("batch %d rejected: %+v", i, result.Outcomes)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	health, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workers*2, health.Nodes)
	assert.Equal(t, workers, health.Edges)
}
