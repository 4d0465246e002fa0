package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/juanlu12332/beads/internal/types"
)

// SearchIssues returns issues matching a free-text query (id, title,
// description, notes substring) and a structured filter. Tombstones are
// excluded unless the filter opts in.
func (s *Store) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	s.reconnectMu.RLock()
	defer s.reconnectMu.RUnlock()

	whereClauses := []string{"1=1"}
	args := []interface{}{}

	if !filter.IncludeTombstones {
		whereClauses = append(whereClauses, "status != 'tombstone'")
	}

	if query != "" {
		whereClauses = append(whereClauses, `(id LIKE ? OR title LIKE ? OR description LIKE ? OR notes LIKE ?)`)
		pattern := "%" + query + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		whereClauses = append(whereClauses, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.IssueType != nil {
		whereClauses = append(whereClauses, "issue_type = ?")
		args = append(args, *filter.IssueType)
	}
	if filter.Assignee != nil {
		whereClauses = append(whereClauses, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.Ephemeral != nil {
		whereClauses = append(whereClauses, "ephemeral = ?")
		args = append(args, boolToInt(*filter.Ephemeral))
	}
	if filter.Pinned != nil {
		whereClauses = append(whereClauses, "pinned = ?")
		args = append(args, boolToInt(*filter.Pinned))
	}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ",")))
	}

	for _, label := range filter.Labels {
		whereClauses = append(whereClauses, `
			EXISTS (
				SELECT 1 FROM labels
				WHERE issue_id = issues.id AND label = ?
			)
		`)
		args = append(args, label)
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	// #nosec G201 - controlled clause assembly with bound parameters
	sqlQuery := fmt.Sprintf(`
		SELECT %s
		FROM issues
		WHERE %s
		ORDER BY id ASC
		%s
	`, issueColumns, strings.Join(whereClauses, " AND "), limitSQL)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wrapDBError("search issues", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Labels ride along for export and collision matching
	for _, issue := range issues {
		labels, err := s.GetLabels(ctx, issue.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get labels for %s: %w", issue.ID, err)
		}
		issue.Labels = labels
	}

	return issues, nil
}

// GetStatistics returns aggregate counts across the store.
func (s *Store) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'deferred' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'tombstone' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pinned = 1 THEN 1 ELSE 0 END), 0)
		FROM issues
	`).Scan(
		&stats.TotalIssues, &stats.OpenIssues, &stats.InProgressIssues,
		&stats.ClosedIssues, &stats.DeferredIssues, &stats.TombstoneIssues,
		&stats.PinnedIssues,
	)
	if err != nil {
		return nil, wrapDBError("get statistics", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_issues_cache`).Scan(&stats.BlockedIssues); err != nil {
		return nil, wrapDBError("count blocked issues", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issues i
		WHERE i.status IN ('open', 'in_progress')
		  AND i.pinned = 0 AND i.ephemeral = 0 AND i.is_template = 0
		  AND (i.defer_until IS NULL OR datetime(i.defer_until) <= datetime('now'))
		  AND NOT EXISTS (SELECT 1 FROM blocked_issues_cache WHERE issue_id = i.id)
	`).Scan(&stats.ReadyIssues); err != nil {
		return nil, wrapDBError("count ready issues", err)
	}

	return stats, nil
}
