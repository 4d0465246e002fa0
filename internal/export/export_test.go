package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/jsonl"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/storage/sqlite"
	"github.com/juanlu12332/beads/internal/types"
)

func newWorkspace(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	ctx := context.Background()
	workspace := t.TempDir()

	store, err := sqlite.New(ctx, filepath.Join(workspace, "beads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SetConfig(ctx, "issue_prefix", "bd"))

	return store, workspace
}

func createIssue(t *testing.T, store *sqlite.Store, id, title string) *types.Issue {
	t.Helper()
	issue := &types.Issue{ID: id, Title: title, Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask}
	require.NoError(t, store.CreateIssue(context.Background(), issue, "test"))
	return issue
}

func TestExportWritesMirror(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	createIssue(t, store, "bd-e1", "first")
	createIssue(t, store, "bd-e2", "second")

	exp, err := New(store, workspace, "")
	require.NoError(t, err)

	result, err := exp.Export(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)

	issues, err := jsonl.ParseFile(exp.JSONLPath())
	require.NoError(t, err)
	require.Len(t, issues, 2)
	// Deterministic output: sorted by ID
	assert.Equal(t, "bd-e1", issues[0].ID)
	assert.Equal(t, "bd-e2", issues[1].ID)

	info, err := os.Stat(exp.JSONLPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestExportRecordsHashesAndClearsDirty(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	issue := createIssue(t, store, "bd-h1", "hashed")

	exp, err := New(store, workspace, "")
	require.NoError(t, err)
	_, err = exp.Export(ctx, Options{})
	require.NoError(t, err)

	// After a successful export: export_hashes[i] matches the issue's
	// recomputed content hash and the dirty bit is gone
	got, err := store.GetIssueIncludingTombstones(ctx, issue.ID)
	require.NoError(t, err)
	deps, err := store.GetDependencyRecords(ctx, issue.ID)
	require.NoError(t, err)
	got.Dependencies = deps
	comments, err := store.GetIssueComments(ctx, issue.ID)
	require.NoError(t, err)
	got.Comments = comments

	storedHash, err := store.GetExportHash(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ComputeContentHash(), storedHash)

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestIncrementalExportSkipsUnchanged(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	issue := createIssue(t, store, "bd-i1", "incremental")

	exp, err := New(store, workspace, "")
	require.NoError(t, err)
	_, err = exp.Export(ctx, Options{})
	require.NoError(t, err)

	before, err := os.ReadFile(exp.JSONLPath())
	require.NoError(t, err)

	// Dirty without a content change: the dirty bit clears, nothing rewrites
	require.NoError(t, store.MarkIssueDirty(ctx, issue.ID))
	result, err := exp.Export(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, result.NoOp)

	after, err := os.ReadFile(exp.JSONLPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// A real change rewrites the mirror
	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"title": "changed"}, "test"))
	result, err = exp.Export(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, result.NoOp)
	assert.Equal(t, 1, result.Written)
}

func TestExportExcludesEphemeralsIncludesTombstones(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	createIssue(t, store, "bd-x1", "durable")

	eph := &types.Issue{ID: "bd-x2", Title: "scratch", Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask, Ephemeral: true}
	require.NoError(t, store.CreateIssue(ctx, eph, "test"))

	dead := createIssue(t, store, "bd-x3", "deleted")
	require.NoError(t, store.DeleteIssue(ctx, dead.ID, "test", "gone"))

	exp, err := New(store, workspace, "")
	require.NoError(t, err)
	_, err = exp.Export(ctx, Options{})
	require.NoError(t, err)

	issues, err := jsonl.ParseFile(exp.JSONLPath())
	require.NoError(t, err)
	ids := map[string]types.Status{}
	for _, issue := range issues {
		ids[issue.ID] = issue.Status
	}
	assert.Contains(t, ids, "bd-x1")
	assert.NotContains(t, ids, "bd-x2")
	assert.Equal(t, types.StatusTombstone, ids["bd-x3"])
}

func TestEmptyStoreRefusal(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	mirror := filepath.Join(workspace, "issues.jsonl")
	content := []byte(`{"id":"bd-old","title":"previous life","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}` + "\n")
	require.NoError(t, os.WriteFile(mirror, content, 0o600))

	exp, err := New(store, workspace, "")
	require.NoError(t, err)

	_, err = exp.Export(ctx, Options{Full: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// The mirror is byte-identical after the refusal
	after, err := os.ReadFile(mirror)
	require.NoError(t, err)
	assert.Equal(t, content, after)

	// Force overrides
	_, err = exp.Export(ctx, Options{Full: true, Force: true})
	require.NoError(t, err)
	after, err = os.ReadFile(mirror)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestExportRejectsUnsafePath(t *testing.T) {
	store, workspace := newWorkspace(t)

	_, err := New(store, workspace, filepath.Join(workspace, "..", "outside.jsonl"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPathUnsafe)

	_, err = New(store, workspace, "/etc/issues.jsonl")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPathUnsafe)
}

func TestMirrorStale(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	mirror := filepath.Join(workspace, "issues.jsonl")

	// No mirror: nothing to import
	stale, err := MirrorStale(ctx, store, mirror)
	require.NoError(t, err)
	assert.False(t, stale)

	createIssue(t, store, "bd-f1", "fresh")
	exp, err := New(store, workspace, "")
	require.NoError(t, err)
	_, err = exp.Export(ctx, Options{})
	require.NoError(t, err)

	// Just exported: store and mirror agree
	stale, err = MirrorStale(ctx, store, mirror)
	require.NoError(t, err)
	assert.False(t, stale)

	// Out-of-band edit (a merge, a pull) makes it stale
	extra := `{"id":"bd-f2","title":"merged in","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}` + "\n"
	f, err := os.OpenFile(mirror, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(extra)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stale, err = MirrorStale(ctx, store, mirror)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestEnsureIntegrity(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	createIssue(t, store, "bd-g1", "guarded")
	exp, err := New(store, workspace, "")
	require.NoError(t, err)
	_, err = exp.Export(ctx, Options{})
	require.NoError(t, err)

	// Untouched mirror: incremental export is safe
	needFull, err := EnsureIntegrity(ctx, store, exp.JSONLPath())
	require.NoError(t, err)
	assert.False(t, needFull)

	// Out-of-band mutation invalidates the per-issue export hashes
	require.NoError(t, os.WriteFile(exp.JSONLPath(), []byte("{}\n"), 0o600))
	needFull, err = EnsureIntegrity(ctx, store, exp.JSONLPath())
	require.NoError(t, err)
	assert.True(t, needFull)

	hash, err := store.GetExportHash(ctx, "bd-g1")
	require.NoError(t, err)
	assert.Empty(t, hash, "export hashes cleared by the integrity guard")
}

func TestInferPrefix(t *testing.T) {
	store, workspace := newWorkspace(t)
	ctx := context.Background()

	// Configured prefix wins
	prefix, err := InferPrefix(ctx, store, filepath.Join(workspace, "issues.jsonl"), workspace)
	require.NoError(t, err)
	assert.Equal(t, "bd", prefix)

	// Unconfigured store + unique mirror prefix infers from the mirror
	store2, workspace2 := newWorkspace(t)
	require.NoError(t, store2.SetConfig(ctx, "issue_prefix", ""))
	mirror2 := filepath.Join(workspace2, "issues.jsonl")
	require.NoError(t, os.WriteFile(mirror2, []byte(
		`{"id":"web-1","title":"a","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"id":"web-2","title":"b","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`+"\n"), 0o600))
	prefix, err = InferPrefix(ctx, store2, mirror2, workspace2)
	require.NoError(t, err)
	assert.Equal(t, "web", prefix)

	// Mixed prefixes fall back to the workspace directory name
	require.NoError(t, os.WriteFile(mirror2, []byte(
		`{"id":"web-1","title":"a","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"id":"app-2","title":"b","priority":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`+"\n"), 0o600))
	prefix, err = InferPrefix(ctx, store2, mirror2, workspace2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(workspace2), prefix)
}
