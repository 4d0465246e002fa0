package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/juanlu12332/beads/internal/types"
)

// GetReadyWork returns issues with no blockers: status open or in_progress,
// not in the blocked cache, defer_until absent or elapsed, not pinned, not
// ephemeral. Ordering follows the filter's sort policy.
//
// The blocked_issues_cache turns the recursive blocked computation into a
// NOT EXISTS probe. The cache is maintained inside the same transaction as
// every mutation that can change it (dependency changes of blocking types,
// any status change), so this query never observes a stale set.
func (s *Store) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	whereClauses := []string{
		"i.pinned = 0",
		"i.ephemeral = 0",
		"i.is_template = 0",
		"(i.defer_until IS NULL OR datetime(i.defer_until) <= datetime('now'))",
	}
	args := []interface{}{}

	// Default to open OR in_progress if not specified
	if filter.Status == "" {
		whereClauses = append(whereClauses, "i.status IN ('open', 'in_progress')")
	} else {
		whereClauses = append(whereClauses, "i.status = ?")
		args = append(args, filter.Status)
	}

	if filter.Priority != nil {
		whereClauses = append(whereClauses, "i.priority = ?")
		args = append(args, *filter.Priority)
	}

	// Unassigned takes precedence over Assignee filter
	if filter.Unassigned {
		whereClauses = append(whereClauses, "(i.assignee IS NULL OR i.assignee = '')")
	} else if filter.Assignee != nil {
		whereClauses = append(whereClauses, "i.assignee = ?")
		args = append(args, *filter.Assignee)
	}

	// Label filtering (AND semantics)
	for _, label := range filter.Labels {
		whereClauses = append(whereClauses, `
			EXISTS (
				SELECT 1 FROM labels
				WHERE issue_id = i.id AND label = ?
			)
		`)
		args = append(args, label)
	}

	whereSQL := strings.Join(whereClauses, " AND ")

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	sortPolicy := filter.SortPolicy
	if sortPolicy == "" {
		sortPolicy = types.SortPolicyHybrid
	}
	if !sortPolicy.IsValid() {
		return nil, validationErrorf("invalid sort policy: %q", sortPolicy)
	}
	orderBySQL := buildOrderByClause(sortPolicy)

	// #nosec G201 - safe SQL with controlled formatting
	query := fmt.Sprintf(`
		SELECT %s
		FROM issues i
		WHERE %s
		AND NOT EXISTS (
		  SELECT 1 FROM blocked_issues_cache WHERE issue_id = i.id
		)
		%s
		%s
	`, qualifyIssueColumns("i"), whereSQL, orderBySQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get ready work", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ready issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Issues gated on unsatisfied external sentinels are not ready.
	// Resolution is pull-only via the installed resolver: with one, an issue
	// is dropped when any of its sentinels is not reported satisfied (or the
	// resolver errors); without one, sentinel edges do not affect ready work.
	if s.external != nil && len(issues) > 0 {
		issues, err = s.filterByExternalDeps(ctx, issues)
		if err != nil {
			return nil, fmt.Errorf("failed to check external dependencies: %w", err)
		}
	}

	return issues, nil
}

// buildOrderByClause generates the ORDER BY clause based on sort policy
func buildOrderByClause(policy types.SortPolicy) string {
	switch policy {
	case types.SortPolicyPriority:
		return `ORDER BY i.priority ASC, i.created_at ASC`

	case types.SortPolicyOldest:
		return `ORDER BY i.created_at ASC`

	case types.SortPolicyHybrid:
		fallthrough
	default:
		// Urgent tier (P0-P1) ahead of the rest; oldest first within a tier
		return `ORDER BY
			CASE WHEN i.priority <= 1 THEN 0 ELSE 1 END ASC,
			i.created_at ASC`
	}
}

// qualifyIssueColumns prefixes every column in issueColumns with the alias.
func qualifyIssueColumns(alias string) string {
	parts := strings.Split(issueColumns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// filterByExternalDeps removes issues that have unsatisfied external
// dependencies. External deps have format external:<project>:<capability>
// and are satisfied when the target project has a closed issue carrying the
// provides:<capability> label.
func (s *Store) filterByExternalDeps(ctx context.Context, issues []*types.Issue) ([]*types.Issue, error) {
	issueIDs := make([]string, len(issues))
	for i, issue := range issues {
		issueIDs[i] = issue.ID
	}

	externalDeps, err := s.getExternalDepsForIssues(ctx, issueIDs)
	if err != nil {
		return nil, err
	}
	if len(externalDeps) == 0 {
		return issues, nil
	}

	blocked := make(map[string]bool)
	for issueID, deps := range externalDeps {
		for _, ref := range deps {
			project, capability, ok := types.ParseExternalSentinel(ref)
			if !ok {
				continue
			}
			satisfied, err := s.external.Resolve(ctx, project, capability)
			if err != nil || !satisfied {
				blocked[issueID] = true
				break // One unsatisfied dep is enough to block
			}
		}
	}

	if len(blocked) == 0 {
		return issues, nil
	}

	result := make([]*types.Issue, 0, len(issues)-len(blocked))
	for _, issue := range issues {
		if !blocked[issue.ID] {
			result = append(result, issue)
		}
	}
	return result, nil
}

// getExternalDepsForIssues returns a map of issue ID -> external dep refs
func (s *Store) getExternalDepsForIssues(ctx context.Context, issueIDs []string) (map[string][]string, error) {
	if len(issueIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(issueIDs))
	args := make([]interface{}, len(issueIDs))
	for i, id := range issueIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	// #nosec G201 -- placeholders are "?" literals, not user input
	query := fmt.Sprintf(`
		SELECT issue_id, depends_on_id
		FROM dependencies
		WHERE issue_id IN (%s)
		  AND type IN ('blocks', 'conditional-blocks', 'waits-for', 'parent-child')
		  AND depends_on_id LIKE 'external:%%'
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query external dependencies", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string][]string)
	for rows.Next() {
		var issueID, depRef string
		if err := rows.Scan(&issueID, &depRef); err != nil {
			return nil, fmt.Errorf("failed to scan external dependency: %w", err)
		}
		result[issueID] = append(result[issueID], depRef)
	}

	return result, rows.Err()
}

// GetBlockedIssues returns issues currently in the blocked set together with
// the IDs of their direct blockers, ordered by priority.
func (s *Store) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	// #nosec G201 - controlled column list
	query := fmt.Sprintf(`
		SELECT %s,
		    COALESCE(GROUP_CONCAT(d.depends_on_id, ','), '') as blocker_ids
		FROM issues i
		JOIN blocked_issues_cache c ON c.issue_id = i.id
		LEFT JOIN dependencies d ON i.id = d.issue_id
		    AND d.type IN ('blocks', 'conditional-blocks', 'waits-for', 'parent-child')
		GROUP BY i.id
		ORDER BY i.priority ASC, i.created_at ASC
	`, qualifyIssueColumns("i"))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError("get blocked issues", err)
	}
	defer func() { _ = rows.Close() }()

	var blocked []*types.BlockedIssue
	for rows.Next() {
		var bi types.BlockedIssue
		var blockerIDsStr string
		issue, err := scanIssueRowWithExtra(rows, &blockerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked issue: %w", err)
		}
		bi.Issue = *issue
		if blockerIDsStr != "" {
			bi.BlockedBy = strings.Split(blockerIDsStr, ",")
		} else {
			bi.BlockedBy = []string{}
		}
		bi.BlockedByCount = len(bi.BlockedBy)
		blocked = append(blocked, &bi)
	}

	return blocked, rows.Err()
}

// GetStaleIssues returns non-closed issues that haven't been updated in
// filter.Days days.
func (s *Store) GetStaleIssues(ctx context.Context, filter types.StaleFilter) ([]*types.Issue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM issues
		WHERE status NOT IN ('closed', 'tombstone')
		  AND datetime(updated_at) < datetime('now', '-' || ? || ' days')
	`
	args := []interface{}{filter.Days}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY updated_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query stale issues", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale issue: %w", err)
		}
		issues = append(issues, issue)
	}

	return issues, rows.Err()
}
