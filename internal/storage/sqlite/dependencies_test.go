package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

func addDep(t *testing.T, store *Store, from, to string, depType types.DependencyType) {
	t.Helper()
	require.NoError(t, store.AddDependency(context.Background(), &types.Dependency{
		IssueID: from, DependsOnID: to, Type: depType,
	}, "test"))
}

func TestSelfDependencyRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("bd-self", "self", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-self", DependsOnID: "bd-self", Type: types.DepBlocks,
	}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestCycleRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-a", "bd-b", "bd-c"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}

	addDep(t, store, "bd-a", "bd-b", types.DepBlocks)
	addDep(t, store, "bd-b", "bd-c", types.DepBlocks)

	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-c", DependsOnID: "bd-a", Type: types.DepBlocks,
	}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCycle)

	// The rejected edge left no trace
	deps, err := store.GetDependencyRecords(ctx, "bd-c")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestCycleDetectionAcrossBlockingFamily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-x", "bd-y"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}

	// parent-child participates in cycle checks alongside blocks
	addDep(t, store, "bd-x", "bd-y", types.DepParentChild)
	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-y", DependsOnID: "bd-x", Type: types.DepBlocks,
	}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCycle)
}

func TestInformationalTypesSkipCycleCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-m", "bd-n"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}

	// relates-to is bidirectional by nature; a mutual pair is legal
	addDep(t, store, "bd-m", "bd-n", types.DepRelatesTo)
	addDep(t, store, "bd-n", "bd-m", types.DepRelatesTo)
}

func TestTokenAwareCycleIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// bd-1 is a prefix of bd-10; the traversal must not confuse them
	for _, id := range []string{"bd-1", "bd-10", "bd-100"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}

	addDep(t, store, "bd-1", "bd-10", types.DepBlocks)
	// bd-100 → bd-1 must be fine: there is no path bd-1 ↠ bd-100
	addDep(t, store, "bd-100", "bd-1", types.DepBlocks)
}

func TestExternalSentinelDependency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("bd-ext", "needs auth", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	// Well-formed sentinel needs no local target
	addDep(t, store, "bd-ext", "external:authsvc:oauth-flow", types.DepBlocks)

	// Malformed sentinel is a validation error
	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-ext", DependsOnID: "external:broken", Type: types.DepBlocks,
	}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestRemoveDependency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-r1", "bd-r2"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}
	addDep(t, store, "bd-r1", "bd-r2", types.DepBlocks)

	require.NoError(t, store.RemoveDependency(ctx, "bd-r1", "bd-r2", "alice"))

	err := store.RemoveDependency(ctx, "bd-r1", "bd-r2", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOneEdgePerOrderedPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-p1", "bd-p2"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}

	addDep(t, store, "bd-p1", "bd-p2", types.DepRelated)
	// Re-adding the pair with a different type replaces the edge
	addDep(t, store, "bd-p1", "bd-p2", types.DepBlocks)

	deps, err := store.GetDependencyRecords(ctx, "bd-p1")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepBlocks, deps[0].Type)
}

func TestDependencyTreeDown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// root → a, b; a → leaf; b → leaf (diamond)
	for _, id := range []string{"bd-root", "bd-ta", "bd-tb", "bd-leaf"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, "tree "+id, 2), "alice"))
	}
	addDep(t, store, "bd-root", "bd-ta", types.DepBlocks)
	addDep(t, store, "bd-root", "bd-tb", types.DepBlocks)
	addDep(t, store, "bd-ta", "bd-leaf", types.DepBlocks)
	addDep(t, store, "bd-tb", "bd-leaf", types.DepBlocks)

	nodes, err := store.GetDependencyTree(ctx, "bd-root", types.TreeDown, 0, false)
	require.NoError(t, err)

	// Shallowest-occurrence dedupe: the diamond leaf appears once
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"bd-root", "bd-ta", "bd-tb", "bd-leaf"}, ids)
	assert.Equal(t, 0, nodes[0].Depth)
	assert.Equal(t, 2, nodes[3].Depth)
	assert.Equal(t, "bd-root", nodes[1].ParentID)

	// All-paths mode retains the diamond
	all, err := store.GetDependencyTree(ctx, "bd-root", types.TreeDown, 0, true)
	require.NoError(t, err)
	leafCount := 0
	for _, n := range all {
		if n.ID == "bd-leaf" {
			leafCount++
		}
	}
	assert.Equal(t, 2, leafCount)
}

func TestDependencyTreeUpAndBoth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-u1", "bd-u2"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}
	addDep(t, store, "bd-u1", "bd-u2", types.DepBlocks)

	up, err := store.GetDependencyTree(ctx, "bd-u2", types.TreeUp, 0, false)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, "bd-u2", up[0].ID)
	assert.Equal(t, "bd-u1", up[1].ID)

	both, err := store.GetDependencyTree(ctx, "bd-u1", types.TreeBoth, 0, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(both), 3) // down pass + up pass each include the root
}

func TestDependencyTreeDepthTruncation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bd-d0", "bd-d1", "bd-d2"} {
		require.NoError(t, store.CreateIssue(ctx, makeIssue(id, id, 2), "alice"))
	}
	addDep(t, store, "bd-d0", "bd-d1", types.DepBlocks)
	addDep(t, store, "bd-d1", "bd-d2", types.DepBlocks)

	nodes, err := store.GetDependencyTree(ctx, "bd-d0", types.TreeDown, 1, false)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.True(t, nodes[1].Truncated)
}

type fakeResolver struct{ satisfied map[string]bool }

func (f *fakeResolver) Resolve(_ context.Context, project, capability string) (bool, error) {
	return f.satisfied[project+":"+capability], nil
}

func TestDependencyTreeExternalLeaf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("bd-host", "needs external", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	addDep(t, store, "bd-host", "external:authsvc:oauth", types.DepBlocks)

	store.SetExternalResolver(&fakeResolver{satisfied: map[string]bool{"authsvc:oauth": true}})

	nodes, err := store.GetDependencyTree(ctx, "bd-host", types.TreeDown, 0, false)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "external:authsvc:oauth", nodes[1].ID)
	assert.Equal(t, types.StatusClosed, nodes[1].Status)

	store.SetExternalResolver(&fakeResolver{})
	nodes, err = store.GetDependencyTree(ctx, "bd-host", types.TreeDown, 0, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, nodes[1].Status)
}
