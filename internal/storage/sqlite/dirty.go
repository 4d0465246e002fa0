// Package sqlite implements dirty issue tracking for incremental JSONL export.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkIssueDirty marks an issue as dirty (needs to be exported to JSONL).
// This is called whenever an issue is created, updated, or has dependencies,
// labels, or comments changed.
func (s *Store) MarkIssueDirty(ctx context.Context, issueID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dirty_issues (issue_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (issue_id) DO UPDATE SET marked_at = excluded.marked_at
	`, issueID, time.Now())
	return wrapDBErrorf(err, "mark issue %s dirty", issueID)
}

// GetDirtyIssues returns the list of issue IDs that need to be exported,
// in FIFO order by mark time.
func (s *Store) GetDirtyIssues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id FROM dirty_issues
		ORDER BY marked_at ASC
	`)
	if err != nil {
		return nil, wrapDBError("get dirty issues", err)
	}
	defer func() { _ = rows.Close() }()

	var issueIDs []string
	for rows.Next() {
		var issueID string
		if err := rows.Scan(&issueID); err != nil {
			return nil, fmt.Errorf("failed to scan issue ID: %w", err)
		}
		issueIDs = append(issueIDs, issueID)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate dirty issues", err)
	}
	return issueIDs, nil
}

// ClearDirtyIssuesByID removes specific issue IDs from the dirty_issues table.
// Only issues actually written by an export are cleared, which avoids races
// with mutations that land between snapshot and rename.
func (s *Store) ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error {
	if len(issueIDs) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM dirty_issues WHERE issue_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, issueID := range issueIDs {
			if _, err := stmt.ExecContext(ctx, issueID); err != nil {
				return fmt.Errorf("failed to clear dirty issue %s: %w", issueID, err)
			}
		}

		return nil
	})
}

// GetDirtyIssueCount returns the count of dirty issues (for monitoring/debugging)
func (s *Store) GetDirtyIssueCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty_issues`).Scan(&count)
	if err != nil {
		return 0, wrapDBError("count dirty issues", err)
	}
	return count, nil
}

// GetExportHash returns the content hash recorded at the last successful
// export of the issue, or empty when it has never been exported.
func (s *Store) GetExportHash(ctx context.Context, issueID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM export_hashes WHERE issue_id = ?
	`, issueID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDBErrorf(err, "get export hash for %s", issueID)
	}
	return hash, nil
}

// HasEverBeenExported reports whether the issue has a row in export_hashes.
// Hard delete uses this to refuse removing anything the mirror has seen.
func (s *Store) HasEverBeenExported(ctx context.Context, issueID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM export_hashes WHERE issue_id = ?
	`, issueID).Scan(&count)
	if err != nil {
		return false, wrapDBErrorf(err, "check export history for %s", issueID)
	}
	return count > 0, nil
}

// BatchSetExportHashes stores export hashes for multiple issues in a single
// transaction. After a successful export that includes issue i, the recorded
// hash equals the content_hash written to the mirror.
func (s *Store) BatchSetExportHashes(ctx context.Context, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO export_hashes (issue_id, content_hash, exported_at)
			VALUES (?, ?, ?)
			ON CONFLICT (issue_id) DO UPDATE SET content_hash = excluded.content_hash, exported_at = excluded.exported_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now()
		for issueID, contentHash := range hashes {
			if _, err := stmt.ExecContext(ctx, issueID, contentHash, now); err != nil {
				return fmt.Errorf("failed to set export hash for %s: %w", issueID, err)
			}
		}
		return nil
	})
}

// ClearAllExportHashes removes all export hashes. Every import clears these
// before applying rows: stale hashes would otherwise suppress legitimately
// changed rows on the next incremental export.
func (s *Store) ClearAllExportHashes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_hashes`)
	return wrapDBError("clear export hashes", err)
}
