package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/types"
)

func TestMutationsMarkDirty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "dirty tracking", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{issue.ID}, dirty)

	require.NoError(t, store.ClearDirtyIssuesByID(ctx, dirty))
	dirty, err = store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// Updates, labels, comments, and dependency changes all re-mark
	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"notes": "touched"}, "alice"))
	dirty, err = store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{issue.ID}, dirty)
}

func TestDependencyMarksBothEndpointsDirty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue("bd-da", "a", 2)
	b := makeIssue("bd-db", "b", 2)
	require.NoError(t, store.CreateIssue(ctx, a, "alice"))
	require.NoError(t, store.CreateIssue(ctx, b, "alice"))
	require.NoError(t, store.ClearDirtyIssuesByID(ctx, []string{"bd-da", "bd-db"}))

	addDep(t, store, "bd-da", "bd-db", types.DepBlocks)

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bd-da", "bd-db"}, dirty)
}

func TestExportHashRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "hashed", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	hash, err := store.GetExportHash(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, hash, "no export yet")

	exported, err := store.HasEverBeenExported(ctx, issue.ID)
	require.NoError(t, err)
	assert.False(t, exported)

	require.NoError(t, store.BatchSetExportHashes(ctx, map[string]string{issue.ID: "abc123"}))

	hash, err = store.GetExportHash(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)

	exported, err = store.HasEverBeenExported(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, exported)

	require.NoError(t, store.ClearAllExportHashes(ctx))
	hash, err = store.GetExportHash(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestFailedMutationLeavesNoSideEffects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue("bd-fa", "a", 2)
	b := makeIssue("bd-fb", "b", 2)
	require.NoError(t, store.CreateIssue(ctx, a, "alice"))
	require.NoError(t, store.CreateIssue(ctx, b, "alice"))
	addDep(t, store, "bd-fa", "bd-fb", types.DepBlocks)
	require.NoError(t, store.ClearDirtyIssuesByID(ctx, []string{"bd-fa", "bd-fb"}))

	// Cycle rejection must not dirty anything or change the cache
	err := store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-fb", DependsOnID: "bd-fa", Type: types.DepBlocks,
	}, "alice")
	require.Error(t, err)

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	blocked, err := store.IsBlocked(ctx, "bd-fb")
	require.NoError(t, err)
	assert.False(t, blocked)
}
