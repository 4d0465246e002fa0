package beads

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ws, err := OpenWorkspace(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	// Cold start inferred the prefix from the directory name
	prefix, err := ws.Storage.GetConfig(ctx, "issue_prefix")
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), prefix)

	issue := &Issue{Title: "first issue", Priority: 2, Status: StatusOpen, IssueType: TypeTask}
	require.NoError(t, ws.Storage.CreateIssue(ctx, issue, "alice"))

	result, err := ws.Export(ctx, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)

	info, err := os.Stat(ws.JSONLPath())
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// Nothing changed since export
	stale, err := ws.MirrorStale(ctx)
	require.NoError(t, err)
	assert.False(t, stale)

	// Import of our own mirror is a no-op
	importResult, err := ws.Import(ctx, ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, importResult.Created)
	assert.Equal(t, 1, importResult.Unchanged)

	// Resolution works through the workspace surface
	id, err := ws.ResolveID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, id)

	// The last-touched cache backs empty input
	id, err = ws.ResolveID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, issue.ID, id)
}

func TestOpenCreatesStore(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "beads.db")

	store, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.SetConfig(ctx, "issue_prefix", "bd"))
	issue := &Issue{Title: "opened directly", Priority: 1, Status: StatusOpen, IssueType: TypeBug}
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "opened directly", got.Title)
}
