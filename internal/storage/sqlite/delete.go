package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// DeleteIssue soft-deletes an issue by converting it to a tombstone.
// The tombstone preserves the original issue type, stays in the store and the
// textual mirror, and propagates the deletion to other clones. Dependencies
// in both directions are removed since tombstones neither block nor are
// blocked.
func (s *Store) DeleteIssue(ctx context.Context, id, deletedBy, reason string) error {
	existing, err := s.GetIssue(ctx, id)
	if err != nil {
		return wrapDBError("get issue for delete", err)
	}
	if existing == nil {
		return notFoundErrorf("issue %s", id)
	}

	now := time.Now()
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id = ? OR depends_on_id = ?`, id, id); err != nil {
			return wrapDBError("delete dependencies", err)
		}

		// Recompute content hash for the tombstone form so export-side change
		// detection sees the deletion.
		updated := *existing
		updated.Status = types.StatusTombstone
		updated.DeletedAt = &now
		updated.DeletedBy = deletedBy
		updated.DeleteReason = reason
		updated.OriginalType = string(existing.IssueType)
		updated.Dependencies = nil

		// closed_at is cleared on the tombstone (the CHECK constraint itself
		// would allow a tombstone to keep it)
		result, err := conn.ExecContext(ctx, `
			UPDATE issues
			SET status = ?, closed_at = NULL, deleted_at = ?, deleted_by = ?,
			    delete_reason = ?, original_type = ?, updated_at = ?, content_hash = ?
			WHERE id = ?
		`, types.StatusTombstone, formatTime(now), deletedBy, reason, existing.IssueType, now, updated.ComputeContentHash(), id)
		if err != nil {
			return wrapDBError("create tombstone", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("get rows affected", err)
		}
		if rows == 0 {
			return notFoundErrorf("issue %s", id)
		}

		if err := recordEvent(ctx, conn, id, types.EventDeleted, deletedBy, "", "", reason); err != nil {
			return wrapDBError("record delete event", err)
		}

		if err := markDirty(ctx, conn, id); err != nil {
			return wrapDBError("mark issue dirty", err)
		}

		// Removed edges change the blocked computation
		return rebuildBlockedCache(ctx, conn)
	})
}

// HardDeleteIssue permanently removes an issue and all its related data.
// Permitted only for ephemerals that have never been exported (no row in
// export_hashes): anything that ever reached the mirror must tombstone
// instead, or the deletion would silently resurrect on the next import.
// Does not mark dirty — the row never existed as far as the mirror knows.
func (s *Store) HardDeleteIssue(ctx context.Context, id string) error {
	existing, err := s.GetIssueIncludingTombstones(ctx, id)
	if err != nil {
		return wrapDBError("get issue for hard delete", err)
	}
	if existing == nil {
		return notFoundErrorf("issue %s", id)
	}
	if !existing.Ephemeral {
		return validationErrorf("hard delete is only permitted for ephemeral issues; %s is not ephemeral", id)
	}

	exported, err := s.HasEverBeenExported(ctx, id)
	if err != nil {
		return wrapDBError("check export history", err)
	}
	if exported {
		return validationErrorf("issue %s has been exported; use DeleteIssue to tombstone it", id)
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id = ? OR depends_on_id = ?`, id, id); err != nil {
			return wrapDBError("cascade hard delete dependencies", err)
		}
		for _, stmt := range []string{
			`DELETE FROM labels WHERE issue_id = ?`,
			`DELETE FROM comments WHERE issue_id = ?`,
			`DELETE FROM events WHERE issue_id = ?`,
			`DELETE FROM dirty_issues WHERE issue_id = ?`,
		} {
			if _, err := conn.ExecContext(ctx, stmt, id); err != nil {
				return wrapDBError("cascade hard delete", err)
			}
		}

		result, err := conn.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id)
		if err != nil {
			return wrapDBError("delete issue", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("get rows affected", err)
		}
		if rows == 0 {
			return notFoundErrorf("issue %s", id)
		}

		return rebuildBlockedCache(ctx, conn)
	})
}

// RestoreIssue reverses a soft delete, transitioning a tombstone back to open
// with its original type. Only valid while the record is still a tombstone
// locally.
func (s *Store) RestoreIssue(ctx context.Context, id, actor string) error {
	existing, err := s.GetIssueIncludingTombstones(ctx, id)
	if err != nil {
		return wrapDBError("get issue for restore", err)
	}
	if existing == nil {
		return notFoundErrorf("issue %s", id)
	}
	if !existing.IsTombstone() {
		return validationErrorf("issue %s is not deleted", id)
	}

	issueType := existing.OriginalType
	if issueType == "" {
		issueType = string(types.TypeTask)
	}

	now := time.Now()
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		updated := *existing
		updated.Status = types.StatusOpen
		updated.IssueType = types.IssueType(issueType)
		updated.DeletedAt = nil
		updated.DeletedBy = ""
		updated.DeleteReason = ""
		updated.OriginalType = ""
		updated.ClosedAt = nil

		if _, err := conn.ExecContext(ctx, `
			UPDATE issues
			SET status = ?, issue_type = ?, closed_at = NULL, deleted_at = NULL,
			    deleted_by = '', delete_reason = '', original_type = '',
			    updated_at = ?, content_hash = ?
			WHERE id = ?
		`, types.StatusOpen, issueType, now, updated.ComputeContentHash(), id); err != nil {
			return wrapDBError("restore issue", err)
		}

		if err := recordEvent(ctx, conn, id, types.EventRestored, actor, string(types.StatusTombstone), string(types.StatusOpen), ""); err != nil {
			return wrapDBError("record restore event", err)
		}

		if err := markDirty(ctx, conn, id); err != nil {
			return wrapDBError("mark issue dirty", err)
		}

		return rebuildBlockedCache(ctx, conn)
	})
}
