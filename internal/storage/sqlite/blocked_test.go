package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/types"
)

func readyIDs(t *testing.T, store *Store, filter types.WorkFilter) []string {
	t.Helper()
	issues, err := store.GetReadyWork(context.Background(), filter)
	require.NoError(t, err)
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	return ids
}

// Create A (P1, open), create B (P2, open) blocked on A. Ready work returns
// only A; closing A unblocks B.
func TestReadyWorkUnblocksOnClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue("bd-s1a", "A", 1)
	b := makeIssue("bd-s1b", "B", 2)
	require.NoError(t, store.CreateIssue(ctx, a, "alice"))
	require.NoError(t, store.CreateIssue(ctx, b, "alice"))
	addDep(t, store, "bd-s1b", "bd-s1a", types.DepBlocks)

	assert.Equal(t, []string{"bd-s1a"}, readyIDs(t, store, types.WorkFilter{}))

	blocked, err := store.IsBlocked(ctx, "bd-s1b")
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, store.CloseIssue(ctx, "bd-s1a", "done", "alice", "", false))

	assert.Equal(t, []string{"bd-s1b"}, readyIDs(t, store, types.WorkFilter{}))
}

func TestTombstoneBlockerUnblocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocker := makeIssue("bd-tb1", "blocker", 2)
	holder := makeIssue("bd-tb2", "holder", 2)
	require.NoError(t, store.CreateIssue(ctx, blocker, "alice"))
	require.NoError(t, store.CreateIssue(ctx, holder, "alice"))
	addDep(t, store, "bd-tb2", "bd-tb1", types.DepBlocks)

	require.NoError(t, store.DeleteIssue(ctx, "bd-tb1", "alice", "dropped"))

	blocked, err := store.IsBlocked(ctx, "bd-tb2")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestConditionalBlocks(t *testing.T) {
	cases := []struct {
		name        string
		closeReason string
		wantBlocked bool
	}{
		{"clean close unblocks", "merged upstream", false},
		{"failed keeps blocked", "build FAILED on ci", true},
		{"wontfix keeps blocked", "closing as WontFix", true},
		{"cancelled keeps blocked", "cancelled by requester", true},
		{"timeout keeps blocked", "gave up: timeout", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()

			blocker := makeIssue("bd-cb1", "upstream", 2)
			holder := makeIssue("bd-cb2", "downstream", 2)
			require.NoError(t, store.CreateIssue(ctx, blocker, "alice"))
			require.NoError(t, store.CreateIssue(ctx, holder, "alice"))
			addDep(t, store, "bd-cb2", "bd-cb1", types.DepConditionalBlocks)

			// Open blocker always blocks
			blocked, err := store.IsBlocked(ctx, "bd-cb2")
			require.NoError(t, err)
			assert.True(t, blocked)

			require.NoError(t, store.CloseIssue(ctx, "bd-cb1", tc.closeReason, "alice", "", false))

			blocked, err = store.IsBlocked(ctx, "bd-cb2")
			require.NoError(t, err)
			assert.Equal(t, tc.wantBlocked, blocked)
		})
	}
}

func TestWaitsForAllChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spawner := makeIssue("bd-w0", "spawner", 2)
	child1 := makeIssue("bd-w1", "child 1", 2)
	child2 := makeIssue("bd-w2", "child 2", 2)
	waiter := makeIssue("bd-w9", "waiter", 2)
	for _, issue := range []*types.Issue{spawner, child1, child2, waiter} {
		require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	}
	addDep(t, store, "bd-w1", "bd-w0", types.DepParentChild)
	addDep(t, store, "bd-w2", "bd-w0", types.DepParentChild)
	addDep(t, store, "bd-w9", "bd-w0", types.DepWaitsFor) // default gate: all-children

	blocked, err := store.IsBlocked(ctx, "bd-w9")
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, store.CloseIssue(ctx, "bd-w1", "done", "alice", "", false))
	blocked, err = store.IsBlocked(ctx, "bd-w9")
	require.NoError(t, err)
	assert.True(t, blocked, "one open child still gates all-children")

	require.NoError(t, store.CloseIssue(ctx, "bd-w2", "done", "alice", "", false))
	blocked, err = store.IsBlocked(ctx, "bd-w9")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestWaitsForAnyChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spawner := makeIssue("bd-g0", "spawner", 2)
	child1 := makeIssue("bd-g1", "child 1", 2)
	child2 := makeIssue("bd-g2", "child 2", 2)
	waiter := makeIssue("bd-g9", "waiter", 2)
	for _, issue := range []*types.Issue{spawner, child1, child2, waiter} {
		require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	}
	addDep(t, store, "bd-g1", "bd-g0", types.DepParentChild)
	addDep(t, store, "bd-g2", "bd-g0", types.DepParentChild)
	require.NoError(t, store.AddDependency(ctx, &types.Dependency{
		IssueID: "bd-g9", DependsOnID: "bd-g0", Type: types.DepWaitsFor,
		Metadata: `{"gate": "any-children"}`,
	}, "alice"))

	blocked, err := store.IsBlocked(ctx, "bd-g9")
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, store.CloseIssue(ctx, "bd-g1", "done", "alice", "", false))
	blocked, err = store.IsBlocked(ctx, "bd-g9")
	require.NoError(t, err)
	assert.False(t, blocked, "one closed child satisfies any-children")
}

func TestParentChildTransitiveBlocking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocker := makeIssue("bd-pb", "external blocker", 2)
	parent := makeIssue("bd-pp", "parent", 2)
	child := makeIssue("bd-pc", "child", 2)
	grandchild := makeIssue("bd-pg", "grandchild", 2)
	for _, issue := range []*types.Issue{blocker, parent, child, grandchild} {
		require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	}

	addDep(t, store, "bd-pp", "bd-pb", types.DepBlocks)      // parent blocked
	addDep(t, store, "bd-pc", "bd-pp", types.DepParentChild) // child of parent
	addDep(t, store, "bd-pg", "bd-pc", types.DepParentChild) // grandchild

	for _, id := range []string{"bd-pp", "bd-pc", "bd-pg"} {
		blocked, err := store.IsBlocked(ctx, id)
		require.NoError(t, err)
		assert.True(t, blocked, "%s should inherit blockage", id)
	}

	require.NoError(t, store.CloseIssue(ctx, "bd-pb", "done", "alice", "", false))
	for _, id := range []string{"bd-pp", "bd-pc", "bd-pg"} {
		blocked, err := store.IsBlocked(ctx, id)
		require.NoError(t, err)
		assert.False(t, blocked)
	}
}

func TestReadyWorkExcludesDeferredPinnedEphemeral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plain := makeIssue("bd-rw1", "plain", 2)
	require.NoError(t, store.CreateIssue(ctx, plain, "alice"))

	pinned := makeIssue("bd-rw2", "pinned anchor", 2)
	pinned.Pinned = true
	require.NoError(t, store.CreateIssue(ctx, pinned, "alice"))

	eph := makeIssue("bd-rw3", "scratch", 2)
	eph.Ephemeral = true
	require.NoError(t, store.CreateIssue(ctx, eph, "alice"))

	deferred := makeIssue("bd-rw4", "later", 2)
	future := time.Now().Add(24 * time.Hour)
	deferred.DeferUntil = &future
	require.NoError(t, store.CreateIssue(ctx, deferred, "alice"))

	pastDeferred := makeIssue("bd-rw5", "due now", 2)
	past := time.Now().Add(-24 * time.Hour)
	pastDeferred.DeferUntil = &past
	require.NoError(t, store.CreateIssue(ctx, pastDeferred, "alice"))

	assert.ElementsMatch(t, []string{"bd-rw1", "bd-rw5"}, readyIDs(t, store, types.WorkFilter{}))
}

func TestReadyWorkHybridOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Insert out of priority order; hybrid partitions P0-P1 ahead of P2-P4
	// and sorts by age within each tier.
	old4 := makeIssue("bd-h4", "old low", 4)
	require.NoError(t, store.CreateIssue(ctx, old4, "alice"))
	time.Sleep(20 * time.Millisecond)
	p1 := makeIssue("bd-h1", "urgent", 1)
	require.NoError(t, store.CreateIssue(ctx, p1, "alice"))
	time.Sleep(20 * time.Millisecond)
	p0 := makeIssue("bd-h0", "critical but newer", 0)
	require.NoError(t, store.CreateIssue(ctx, p0, "alice"))
	time.Sleep(20 * time.Millisecond)
	p2 := makeIssue("bd-h2", "newer medium", 2)
	require.NoError(t, store.CreateIssue(ctx, p2, "alice"))

	// Urgent tier first (by age within tier), then the rest by age
	assert.Equal(t, []string{"bd-h1", "bd-h0", "bd-h4", "bd-h2"},
		readyIDs(t, store, types.WorkFilter{SortPolicy: types.SortPolicyHybrid}))

	assert.Equal(t, []string{"bd-h0", "bd-h1", "bd-h2", "bd-h4"},
		readyIDs(t, store, types.WorkFilter{SortPolicy: types.SortPolicyPriority}))

	assert.Equal(t, []string{"bd-h4", "bd-h1", "bd-h0", "bd-h2"},
		readyIDs(t, store, types.WorkFilter{SortPolicy: types.SortPolicyOldest}))
}

func TestGetBlockedIssuesListsBlockers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocker := makeIssue("bd-gb1", "blocker", 1)
	holder := makeIssue("bd-gb2", "holder", 2)
	require.NoError(t, store.CreateIssue(ctx, blocker, "alice"))
	require.NoError(t, store.CreateIssue(ctx, holder, "alice"))
	addDep(t, store, "bd-gb2", "bd-gb1", types.DepBlocks)

	blocked, err := store.GetBlockedIssues(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "bd-gb2", blocked[0].ID)
	assert.Equal(t, []string{"bd-gb1"}, blocked[0].BlockedBy)
	assert.Equal(t, 1, blocked[0].BlockedByCount)
}

func TestBlockedCacheMatchesSemanticsAfterManyMutations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A chain a0 <- a1 <- ... <- a5 (each blocks the next); closing from the
	// head progressively unblocks the chain.
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("bd-ch%d", i)
		require.NoError(t, store.CreateIssue(ctx, makeIssue(ids[i], ids[i], 2), "alice"))
	}
	for i := 1; i < len(ids); i++ {
		addDep(t, store, ids[i], ids[i-1], types.DepBlocks)
	}

	for i := 0; i < len(ids)-1; i++ {
		ready := readyIDs(t, store, types.WorkFilter{})
		assert.Equal(t, []string{ids[i]}, ready, "step %d", i)
		require.NoError(t, store.CloseIssue(ctx, ids[i], "done", "alice", "", false))
	}
	assert.Equal(t, []string{ids[5]}, readyIDs(t, store, types.WorkFilter{}))
}
