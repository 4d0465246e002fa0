package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

func TestGeneratedIDsAreUniqueAndPrefixed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		issue := makeIssue("", "identical title", 2)
		require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
		assert.True(t, strings.HasPrefix(issue.ID, "bd-"))
		assert.False(t, seen[issue.ID], "duplicate ID generated: %s", issue.ID)
		seen[issue.ID] = true
	}
}

func TestIDLengthSettingsFromConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetConfig(ctx, "id.min_length", "5"))
	require.NoError(t, store.SetConfig(ctx, "id.max_length", "8"))

	issue := makeIssue("", "configured width", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	hash := strings.TrimPrefix(issue.ID, "bd-")
	assert.GreaterOrEqual(t, len(hash), 5)
	assert.LessOrEqual(t, len(hash), 8)
}

func TestWorkspaceIDSaltsGeneration(t *testing.T) {
	ctx := context.Background()

	storeA := newTestStore(t)
	storeB := newTestStore(t)
	require.NoError(t, storeA.SetMetadata(ctx, "workspace_id", "ws-a"))
	require.NoError(t, storeB.SetMetadata(ctx, "workspace_id", "ws-b"))

	// Same content in two workspaces should not be forced to collide; the
	// workspace salt participates in the hash. (The timestamps differ too,
	// so this is a smoke check, not a distribution proof.)
	a := makeIssue("", "salted", 2)
	b := makeIssue("", "salted", 2)
	require.NoError(t, storeA.CreateIssue(ctx, a, "alice"))
	require.NoError(t, storeB.CreateIssue(ctx, b, "alice"))
	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, b.ID)
}

func TestChildDepthLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := makeIssue("", "root", 2)
	require.NoError(t, store.CreateIssue(ctx, root, "alice"))

	// Default max depth is 3 dot-levels; the fourth allocation fails
	parent := root.ID
	for depth := 1; depth <= 3; depth++ {
		child := makeIssue("", "nested", 2)
		require.NoError(t, store.CreateIssuesWithOptions(ctx, []*types.Issue{child},
			"alice", BatchCreateOptions{ParentID: parent}), "depth %d", depth)
		parent = child.ID
	}

	overflow := makeIssue("", "too deep", 2)
	err := store.CreateIssuesWithOptions(ctx, []*types.Issue{overflow},
		"alice", BatchCreateOptions{ParentID: parent})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)
}
