package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := New(ctx, filepath.Join(t.TempDir(), "beads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetConfig(ctx, "issue_prefix", "bd"))
	return store
}

func makeIssue(id, title string, priority int) *types.Issue {
	return &types.Issue{
		ID:        id,
		Title:     title,
		Status:    types.StatusOpen,
		Priority:  priority,
		IssueType: types.TypeTask,
	}
}

func TestCreateAndGetIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "Fix the flux capacitor", 1)
	issue.Description = "It fluxes the wrong way"
	issue.Labels = []string{"hardware", "urgent"}

	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	require.NotEmpty(t, issue.ID)
	assert.Regexp(t, `^bd-[0-9a-z]{3,16}$`, issue.ID)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Fix the flux capacitor", got.Title)
	assert.Equal(t, "It fluxes the wrong way", got.Description)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Equal(t, 1, got.Priority)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.ElementsMatch(t, []string{"hardware", "urgent"}, got.Labels)
	assert.NotEmpty(t, got.ContentHash)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Nil(t, got.ClosedAt)
}

func TestCreateIssueTrimsTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "  padded title  ", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "padded title", got.Title)
}

func TestCreateIssueValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		issue *types.Issue
	}{
		{"empty title", makeIssue("", "   ", 2)},
		{"priority out of range", makeIssue("", "ok", 5)},
		{"bad status", &types.Issue{Title: "ok", Status: "nonsense", Priority: 2, IssueType: types.TypeTask}},
		{"bad type", &types.Issue{Title: "ok", Status: types.StatusOpen, Priority: 2, IssueType: "widget"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.CreateIssue(ctx, tt.issue, "alice")
			require.Error(t, err)
			assert.ErrorIs(t, err, storage.ErrValidation)
		})
	}
}

func TestCreateIssueCustomStatusAndType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetConfig(ctx, "status.custom", "triage,review"))
	require.NoError(t, store.SetConfig(ctx, "types.custom", "spike"))

	issue := &types.Issue{Title: "triage me", Status: "triage", Priority: 2, IssueType: "spike"}
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Status("triage"), got.Status)
	assert.Equal(t, types.IssueType("spike"), got.IssueType)
}

func TestCreateIssueRejectsWrongPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.CreateIssue(ctx, makeIssue("xx-abc", "wrong prefix", 2), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPrefixMismatch)
}

func TestUniqueExternalRef(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := "gh-42"
	first := makeIssue("", "first", 2)
	first.ExternalRef = &ref
	require.NoError(t, store.CreateIssue(ctx, first, "alice"))

	second := makeIssue("", "second", 2)
	second.ExternalRef = &ref
	err := store.CreateIssue(ctx, second, "alice")
	require.Error(t, err)
	assert.True(t, IsUniqueConstraintError(err))

	got, err := store.GetIssueByExternalRef(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

func TestUpdateIssueManagesClosedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "close me via update", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "closed"}, "alice"))
	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)

	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "open"}, "alice"))
	got, err = store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Nil(t, got.ClosedAt)
	assert.Empty(t, got.CloseReason)
}

func TestUpdateIssueRecomputesContentHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "original title", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	before, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"title": "new title"}, "alice"))
	after, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)

	assert.NotEqual(t, before.ContentHash, after.ContentHash)
	assert.Equal(t, "new title", after.Title)
}

func TestUpdateIssueRejectsTombstoneTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "no tombstone via update", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "tombstone"}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestUpdateIssueNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateIssue(context.Background(), "bd-nope", map[string]interface{}{"title": "x"}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCloseAndReopenIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "lifecycle", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	require.NoError(t, store.CloseIssue(ctx, issue.ID, "done", "alice", "sess-1", false))
	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, "done", got.CloseReason)
	assert.Equal(t, "sess-1", got.ClosedBySession)

	require.NoError(t, store.ReopenIssue(ctx, issue.ID, "alice"))
	got, err = store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Nil(t, got.ClosedAt)
	assert.Empty(t, got.CloseReason)
	assert.Empty(t, got.ClosedBySession)
}

func TestCloseIssueBlockedByOpenBlocker(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocker := makeIssue("", "blocker", 2)
	blocked := makeIssue("", "blocked", 2)
	require.NoError(t, store.CreateIssue(ctx, blocker, "alice"))
	require.NoError(t, store.CreateIssue(ctx, blocked, "alice"))
	require.NoError(t, store.AddDependency(ctx, &types.Dependency{
		IssueID: blocked.ID, DependsOnID: blocker.ID, Type: types.DepBlocks,
	}, "alice"))

	err := store.CloseIssue(ctx, blocked.ID, "done", "alice", "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)

	// force closes anyway
	require.NoError(t, store.CloseIssue(ctx, blocked.ID, "done", "alice", "", true))
}

func TestSoftDeleteCreatesTombstone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "delete me", 2)
	issue.IssueType = types.TypeBug
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	require.NoError(t, store.DeleteIssue(ctx, issue.ID, "alice", "obsolete"))

	// Default read path hides tombstones
	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	tomb, err := store.GetIssueIncludingTombstones(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.Equal(t, types.StatusTombstone, tomb.Status)
	require.NotNil(t, tomb.DeletedAt)
	assert.Equal(t, "alice", tomb.DeletedBy)
	assert.Equal(t, "obsolete", tomb.DeleteReason)
	assert.Equal(t, string(types.TypeBug), tomb.OriginalType)

	// Tombstones can't be updated or reopened
	assert.ErrorIs(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"title": "x"}, "a"), storage.ErrValidation)
	assert.ErrorIs(t, store.ReopenIssue(ctx, issue.ID, "a"), storage.ErrValidation)
}

func TestRestoreIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "restore me", 2)
	issue.IssueType = types.TypeFeature
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	require.NoError(t, store.DeleteIssue(ctx, issue.ID, "alice", "oops"))

	require.NoError(t, store.RestoreIssue(ctx, issue.ID, "alice"))
	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StatusOpen, got.Status)
	assert.Equal(t, types.TypeFeature, got.IssueType)
	assert.Nil(t, got.DeletedAt)

	// Restoring a live issue fails
	assert.ErrorIs(t, store.RestoreIssue(ctx, issue.ID, "alice"), storage.ErrValidation)
}

func TestHardDeleteOnlyForNeverExportedEphemerals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	durable := makeIssue("", "durable", 2)
	require.NoError(t, store.CreateIssue(ctx, durable, "alice"))
	assert.ErrorIs(t, store.HardDeleteIssue(ctx, durable.ID), storage.ErrValidation)

	eph := makeIssue("", "ephemeral scratch", 2)
	eph.Ephemeral = true
	require.NoError(t, store.CreateIssue(ctx, eph, "alice"))
	require.NoError(t, store.HardDeleteIssue(ctx, eph.ID))

	got, err := store.GetIssueIncludingTombstones(ctx, eph.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// An exported ephemeral may not be hard deleted
	eph2 := makeIssue("", "exported ephemeral", 2)
	eph2.Ephemeral = true
	require.NoError(t, store.CreateIssue(ctx, eph2, "alice"))
	require.NoError(t, store.BatchSetExportHashes(ctx, map[string]string{eph2.ID: "deadbeef"}))
	assert.ErrorIs(t, store.HardDeleteIssue(ctx, eph2.ID), storage.ErrValidation)
}

func TestDuplicateIDWithinBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := makeIssue("bd-dup", "a", 2)
	b := makeIssue("bd-dup", "b", 2)
	err := store.CreateIssues(ctx, []*types.Issue{a, b}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)

	// Nothing escaped the rolled-back transaction
	got, err := store.GetIssue(ctx, "bd-dup")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChildIDAllocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := makeIssue("", "parent epic", 1)
	parent.IssueType = types.TypeEpic
	require.NoError(t, store.CreateIssue(ctx, parent, "alice"))

	child1 := makeIssue("", "first child", 2)
	child2 := makeIssue("", "second child", 2)
	require.NoError(t, store.CreateIssuesWithOptions(ctx, []*types.Issue{child1}, "alice", BatchCreateOptions{ParentID: parent.ID}))
	require.NoError(t, store.CreateIssuesWithOptions(ctx, []*types.Issue{child2}, "alice", BatchCreateOptions{ParentID: parent.ID}))

	assert.Equal(t, parent.ID+".1", child1.ID)
	assert.Equal(t, parent.ID+".2", child2.ID)
}

func TestEventsRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "event trail", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))
	require.NoError(t, store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"priority": 1}, "bob"))
	require.NoError(t, store.CloseIssue(ctx, issue.ID, "done", "carol", "", false))

	events, err := store.GetEvents(ctx, issue.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	kinds := make([]types.EventType, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.EventType)
	}
	assert.Contains(t, kinds, types.EventCreated)
	assert.Contains(t, kinds, types.EventUpdated)
	assert.Contains(t, kinds, types.EventClosed)

	since, err := store.GetEventsSince(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, since, 3)
}

func TestCommentsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "commented", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	_, err := store.AddIssueComment(ctx, issue.ID, "", "text")
	assert.ErrorIs(t, err, storage.ErrValidation)

	c1, err := store.AddIssueComment(ctx, issue.ID, "alice", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", c1.Text)

	// Duplicate text is allowed on the add path; dedupe is import-only
	_, err = store.AddIssueComment(ctx, issue.ID, "alice", "first")
	require.NoError(t, err)

	comments, err := store.GetIssueComments(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 2)
}

func TestReservedLabelNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue("", "labeled", 2)
	require.NoError(t, store.CreateIssue(ctx, issue, "alice"))

	err := store.AddLabel(ctx, issue.ID, "provides:auth", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrValidation)

	require.NoError(t, store.AddLabel(ctx, issue.ID, "backend", "alice"))
	// Idempotent re-add
	require.NoError(t, store.AddLabel(ctx, issue.ID, "backend", "alice"))

	labels, err := store.GetLabels(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, labels)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, RunMigrations(store.UnderlyingDB()))

	version, err := SchemaVersion(store.UnderlyingDB())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open := makeIssue("", "open one", 2)
	require.NoError(t, store.CreateIssue(ctx, open, "alice"))

	closed := makeIssue("", "closed one", 2)
	require.NoError(t, store.CreateIssue(ctx, closed, "alice"))
	require.NoError(t, store.CloseIssue(ctx, closed.ID, "done", "alice", "", false))

	deleted := makeIssue("", "deleted one", 2)
	require.NoError(t, store.CreateIssue(ctx, deleted, "alice"))
	require.NoError(t, store.DeleteIssue(ctx, deleted.ID, "alice", ""))

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalIssues)
	assert.Equal(t, 1, stats.OpenIssues)
	assert.Equal(t, 1, stats.ClosedIssues)
	assert.Equal(t, 1, stats.TombstoneIssues)
	assert.Equal(t, 1, stats.ReadyIssues)
}
