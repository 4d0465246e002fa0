package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// ImportPlan is a fully resolved set of import mutations. The importer builds
// the plan read-only; ApplyImportPlan executes it in one immediate-lock
// transaction so an import either lands whole or not at all.
type ImportPlan struct {
	// Creates are new issues, already sorted parents-before-children. Each
	// carries its labels, dependencies, and comments.
	Creates []*types.Issue
	// Updates replace the substantive fields of existing issues
	// (last-writer-wins resolution).
	Updates []*types.Issue
	// Renames replace a stored ID with the incoming one (same content, same
	// prefix). The Issue carries the new identity and relations.
	Renames []ImportRename
	// Deps are additional edges for issues that already exist.
	Deps []*types.Dependency
	// Labels are additional labels for issues that already exist.
	Labels []types.Label
	// Comments are additional comments (timestamps preserved).
	Comments []*types.Comment
}

// ImportRename replaces oldID with the incoming issue's identity.
type ImportRename struct {
	OldID string
	Issue *types.Issue
}

// Empty reports whether the plan contains no mutations.
func (p *ImportPlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Renames) == 0 &&
		len(p.Deps) == 0 && len(p.Labels) == 0 && len(p.Comments) == 0
}

// ApplyImportPlan executes an import plan atomically. Export hashes are
// cleared first (stale hashes would suppress changed rows on the next
// incremental export), then renames, updates, creates, and relation
// additions land, and the blocked cache is rebuilt — all in one transaction.
// On any error nothing is applied: no rows, no events, no dirty bits.
func (s *Store) ApplyImportPlan(ctx context.Context, plan *ImportPlan, actor string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		// Any import invalidates the incremental-export baseline
		if _, err := conn.ExecContext(ctx, `DELETE FROM export_hashes`); err != nil {
			return wrapDBError("clear export hashes", err)
		}

		for _, rename := range plan.Renames {
			if err := applyRename(ctx, conn, rename, actor); err != nil {
				return err
			}
		}

		for _, issue := range plan.Updates {
			if err := applyImportUpdate(ctx, conn, issue, actor); err != nil {
				return err
			}
		}

		// Rows first, edges after: edges may reference issues created later
		// in the same batch. The planner has already validated endpoints and
		// checked the post-import graph for cycles.
		for _, issue := range plan.Creates {
			if err := applyImportCreate(ctx, conn, issue, actor); err != nil {
				return err
			}
		}

		for _, issue := range plan.Creates {
			for _, dep := range issue.Dependencies {
				dep.IssueID = issue.ID
				if err := insertImportedDependency(ctx, conn, dep); err != nil {
					return err
				}
			}
		}

		for _, dep := range plan.Deps {
			if err := insertImportedDependency(ctx, conn, dep); err != nil {
				return err
			}
		}

		for _, label := range plan.Labels {
			if err := validateLabel(label.Label); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, label.IssueID, label.Label); err != nil {
				return wrapDBError("insert label", err)
			}
			if err := markDirty(ctx, conn, label.IssueID); err != nil {
				return wrapDBError("mark issue dirty", err)
			}
		}

		for _, comment := range plan.Comments {
			createdAt := comment.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO comments (issue_id, author, text, created_at)
				VALUES (?, ?, ?, ?)
			`, comment.IssueID, comment.Author, comment.Text, createdAt); err != nil {
				return wrapDBError("insert comment", err)
			}
			if err := markDirty(ctx, conn, comment.IssueID); err != nil {
				return wrapDBError("mark issue dirty", err)
			}
		}

		return rebuildBlockedCache(ctx, conn)
	})
}

func applyImportCreate(ctx context.Context, conn *sql.Conn, issue *types.Issue, actor string) error {
	if issue.ContentHash == "" {
		issue.ContentHash = issue.ComputeContentHash()
	}

	if err := insertIssue(ctx, conn, issue); err != nil {
		return wrapDBErrorf(err, "insert imported issue %s", issue.ID)
	}

	for _, label := range issue.Labels {
		if _, err := conn.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issue.ID, label); err != nil {
			return wrapDBError("insert label", err)
		}
	}

	for _, comment := range issue.Comments {
		createdAt := comment.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO comments (issue_id, author, text, created_at)
			VALUES (?, ?, ?, ?)
		`, issue.ID, comment.Author, comment.Text, createdAt); err != nil {
			return wrapDBError("insert comment", err)
		}
	}

	if err := recordEvent(ctx, conn, issue.ID, types.EventCreated, actor, "", "", issue.Title); err != nil {
		return wrapDBError("record creation event", err)
	}

	return markDirty(ctx, conn, issue.ID)
}

// insertImportedDependency lands a planner-validated edge: a plain upsert
// plus dirty marks, with no existence or cycle checks of its own.
func insertImportedDependency(ctx context.Context, conn *sql.Conn, dep *types.Dependency) error {
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now()
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = "import"
	}
	metadata := dep.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO dependencies (issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id) DO UPDATE SET type = excluded.type, metadata = excluded.metadata
	`, dep.IssueID, dep.DependsOnID, dep.Type, dep.CreatedAt, dep.CreatedBy, metadata, dep.ThreadID); err != nil {
		return wrapDBErrorf(err, "insert imported dependency %s → %s", dep.IssueID, dep.DependsOnID)
	}

	if err := markDirty(ctx, conn, dep.IssueID); err != nil {
		return wrapDBError("mark issue dirty", err)
	}
	return nil
}

// applyImportUpdate replaces the substantive fields of an existing row with
// the incoming issue's. Incoming timestamps are preserved so round trips stay
// byte-stable; the content hash is recomputed from the new field values.
func applyImportUpdate(ctx context.Context, conn *sql.Conn, issue *types.Issue, actor string) error {
	issue.ContentHash = issue.ComputeContentHash()

	result, err := conn.ExecContext(ctx, `
		UPDATE issues SET
			content_hash = ?, title = ?, description = ?, design = ?,
			acceptance_criteria = ?, notes = ?, status = ?, priority = ?,
			issue_type = ?, assignee = ?, owner = ?, estimated_minutes = ?,
			created_by = ?, updated_at = ?, closed_at = ?, close_reason = ?,
			closed_by_session = ?, due_at = ?, defer_until = ?,
			external_ref = ?, source_system = ?,
			deleted_at = ?, deleted_by = ?, delete_reason = ?, original_type = ?,
			pinned = ?, is_template = ?, ephemeral = ?
		WHERE id = ?
	`,
		issue.ContentHash, issue.Title, issue.Description, issue.Design,
		issue.AcceptanceCriteria, issue.Notes, issue.Status, issue.Priority,
		issue.IssueType, nullString(issue.Assignee), issue.Owner, nullIntPtr(issue.EstimatedMinutes),
		issue.CreatedBy, issue.UpdatedAt, issue.ClosedAt, issue.CloseReason,
		issue.ClosedBySession, issue.DueAt, issue.DeferUntil,
		nullStringPtr(issue.ExternalRef), issue.SourceSystem,
		formatNullableTime(issue.DeletedAt), issue.DeletedBy, issue.DeleteReason, issue.OriginalType,
		boolToInt(issue.Pinned), boolToInt(issue.IsTemplate), boolToInt(issue.Ephemeral),
		issue.ID,
	)
	if err != nil {
		return wrapDBErrorf(err, "update imported issue %s", issue.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapDBError("get rows affected", err)
	}
	if rows == 0 {
		return notFoundErrorf("issue %s", issue.ID)
	}

	if err := recordEvent(ctx, conn, issue.ID, types.EventUpdated, actor, "", "", "import"); err != nil {
		return wrapDBError("record update event", err)
	}

	return markDirty(ctx, conn, issue.ID)
}

// applyRename deletes the old identity and creates the incoming one. The
// old row's comments move across when the incoming record has none; the old
// ID's events are deleted along with its row, since the entity identity is
// replaced wholesale.
func applyRename(ctx context.Context, conn *sql.Conn, rename ImportRename, actor string) error {
	// Carry comments from the old identity if the incoming record lacks them
	if len(rename.Issue.Comments) == 0 {
		rows, err := conn.QueryContext(ctx, `
			SELECT author, text, created_at FROM comments WHERE issue_id = ? ORDER BY created_at ASC, id ASC
		`, rename.OldID)
		if err != nil {
			return wrapDBError("read comments for rename", err)
		}
		for rows.Next() {
			var c types.Comment
			if err := rows.Scan(&c.Author, &c.Text, &c.CreatedAt); err != nil {
				_ = rows.Close()
				return err
			}
			rename.Issue.Comments = append(rename.Issue.Comments, &c)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()
	}

	for _, stmt := range []struct {
		sql  string
		args []interface{}
	}{
		{`DELETE FROM dependencies WHERE issue_id = ? OR depends_on_id = ?`, []interface{}{rename.OldID, rename.OldID}},
		{`DELETE FROM labels WHERE issue_id = ?`, []interface{}{rename.OldID}},
		{`DELETE FROM comments WHERE issue_id = ?`, []interface{}{rename.OldID}},
		{`DELETE FROM events WHERE issue_id = ?`, []interface{}{rename.OldID}},
		{`DELETE FROM dirty_issues WHERE issue_id = ?`, []interface{}{rename.OldID}},
		{`DELETE FROM issues WHERE id = ?`, []interface{}{rename.OldID}},
	} {
		if _, err := conn.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
			return wrapDBErrorf(err, "remove old identity %s", rename.OldID)
		}
	}

	if err := applyImportCreate(ctx, conn, rename.Issue, actor); err != nil {
		return err
	}

	for _, dep := range rename.Issue.Dependencies {
		dep.IssueID = rename.Issue.ID
		if err := insertImportedDependency(ctx, conn, dep); err != nil {
			return err
		}
	}

	// Retarget edges that still point at the old identity
	if _, err := conn.ExecContext(ctx, `
		UPDATE OR IGNORE dependencies SET depends_on_id = ? WHERE depends_on_id = ?
	`, rename.Issue.ID, rename.OldID); err != nil {
		return wrapDBError("retarget dependencies", err)
	}

	return nil
}
