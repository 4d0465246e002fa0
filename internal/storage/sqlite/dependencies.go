package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

// cycleSearchDepthLimit bounds the reverse traversal used by cycle detection.
const cycleSearchDepthLimit = 100

// treeDepthDefault is the traversal depth used when the caller passes 0.
const treeDepthDefault = 50

// AddDependency adds a dependency edge. Both endpoints must exist (the target
// is exempt when it is an external sentinel), self-references are rejected,
// and blocking-family edges are refused when they would create a cycle. Both
// endpoints are marked dirty and the blocked cache refreshes when the type
// affects readiness — all within one transaction.
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	if !dep.Type.IsValid() {
		return validationErrorf("invalid dependency type: %q", dep.Type)
	}
	if dep.IssueID == dep.DependsOnID {
		return validationErrorf("issue cannot depend on itself")
	}
	if types.IsExternalSentinel(dep.DependsOnID) {
		if _, _, ok := types.ParseExternalSentinel(dep.DependsOnID); !ok {
			return validationErrorf("malformed external sentinel %q (want external:<project>:<capability>)", dep.DependsOnID)
		}
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if err := addDependencyInTx(ctx, conn, dep, actor); err != nil {
			return err
		}
		if dep.Type.AffectsReadyWork() {
			return rebuildBlockedCache(ctx, conn)
		}
		return nil
	})
}

// addDependencyInTx performs the validated insert inside an open transaction.
func addDependencyInTx(ctx context.Context, q execer, dep *types.Dependency, actor string) error {
	if !dep.Type.IsValid() {
		return validationErrorf("invalid dependency type: %q", dep.Type)
	}
	if dep.IssueID == dep.DependsOnID {
		return validationErrorf("issue cannot depend on itself")
	}

	var issueExists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, dep.IssueID).Scan(&issueExists); err != nil {
		return wrapDBError("check issue existence", err)
	}
	if issueExists == 0 {
		return notFoundErrorf("issue %s", dep.IssueID)
	}

	// External sentinels have no local row and carry no referential integrity
	if !types.IsExternalSentinel(dep.DependsOnID) {
		var targetExists int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, dep.DependsOnID).Scan(&targetExists); err != nil {
			return wrapDBError("check target existence", err)
		}
		if targetExists == 0 {
			return notFoundErrorf("dependency target %s", dep.DependsOnID)
		}
	}

	if dep.Type.AffectsReadyWork() {
		cycle, err := wouldCreateCycle(ctx, q, dep.IssueID, dep.DependsOnID)
		if err != nil {
			return wrapDBError("check for cycles", err)
		}
		if cycle {
			return fmt.Errorf("%w: %s → %s → ... → %s", storage.ErrCycle, dep.IssueID, dep.DependsOnID, dep.IssueID)
		}
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now()
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = actor
	}
	metadata := dep.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO dependencies (issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id) DO UPDATE SET type = excluded.type, metadata = excluded.metadata
	`, dep.IssueID, dep.DependsOnID, dep.Type, dep.CreatedAt, dep.CreatedBy, metadata, dep.ThreadID); err != nil {
		return wrapDBError("add dependency", err)
	}

	if err := recordEvent(ctx, q, dep.IssueID, types.EventDependencyAdded, actor, "", "",
		fmt.Sprintf("Added dependency: %s %s %s", dep.IssueID, dep.Type, dep.DependsOnID)); err != nil {
		return wrapDBError("record event", err)
	}

	if err := markDirty(ctx, q, dep.IssueID); err != nil {
		return wrapDBError("mark issue dirty", err)
	}
	if !types.IsExternalSentinel(dep.DependsOnID) {
		if err := markDirty(ctx, q, dep.DependsOnID); err != nil {
			return wrapDBError("mark depends-on issue dirty", err)
		}
	}

	return nil
}

// wouldCreateCycle reports whether adding the blocking edge from → to would
// close a cycle: it searches from `to` along blocking-family edges looking
// for `from`, bounded at cycleSearchDepthLimit. Visited tracking compares
// whole IDs, never substrings, so bd-1 is not confused with bd-10.
// relates-to and the other informational types never participate.
func wouldCreateCycle(ctx context.Context, q execer, from, to string) (bool, error) {
	visited := map[string]bool{to: true}
	frontier := []string{to}

	for depth := 0; depth < cycleSearchDepthLimit && len(frontier) > 0; depth++ {
		next := make([]string, 0)
		for _, node := range frontier {
			rows, err := q.QueryContext(ctx, `
				SELECT depends_on_id FROM dependencies
				WHERE issue_id = ?
				  AND type IN ('blocks', 'parent-child', 'conditional-blocks', 'waits-for')
			`, node)
			if err != nil {
				return false, err
			}
			for rows.Next() {
				var target string
				if err := rows.Scan(&target); err != nil {
					_ = rows.Close()
					return false, err
				}
				if target == from {
					_ = rows.Close()
					return true, nil
				}
				if !visited[target] {
					visited[target] = true
					next = append(next, target)
				}
			}
			if err := rows.Err(); err != nil {
				_ = rows.Close()
				return false, err
			}
			_ = rows.Close()
		}
		frontier = next
	}

	return false, nil
}

// RemoveDependency removes a dependency edge. Both endpoints are marked dirty
// and the blocked cache refreshes.
func (s *Store) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ?
		`, issueID, dependsOnID)
		if err != nil {
			return wrapDBError("remove dependency", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("check rows affected", err)
		}
		if rowsAffected == 0 {
			return notFoundErrorf("dependency from %s to %s", issueID, dependsOnID)
		}

		if err := recordEvent(ctx, conn, issueID, types.EventDependencyRemoved, actor, "", "",
			fmt.Sprintf("Removed dependency on %s", dependsOnID)); err != nil {
			return wrapDBError("record event", err)
		}

		if err := markDirty(ctx, conn, issueID); err != nil {
			return wrapDBError("mark issue dirty", err)
		}
		if !types.IsExternalSentinel(dependsOnID) {
			if err := markDirty(ctx, conn, dependsOnID); err != nil {
				return wrapDBError("mark depends-on issue dirty", err)
			}
		}

		return rebuildBlockedCache(ctx, conn)
	})
}

// GetDependencyRecords returns raw dependency records for an issue
func (s *Store) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id
		FROM dependencies
		WHERE issue_id = ?
		ORDER BY depends_on_id
	`, issueID)
	if err != nil {
		return nil, wrapDBError("get dependency records", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDependencyRows(rows)
}

// GetAllDependencyRecords returns every dependency record keyed by issue ID.
// Used by export to avoid N+1 queries.
func (s *Store) GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id
		FROM dependencies
		ORDER BY issue_id, depends_on_id
	`)
	if err != nil {
		return nil, wrapDBError("get all dependency records", err)
	}
	defer func() { _ = rows.Close() }()

	deps, err := scanDependencyRows(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]*types.Dependency)
	for _, dep := range deps {
		result[dep.IssueID] = append(result[dep.IssueID], dep)
	}
	return result, nil
}

func scanDependencyRows(rows *sql.Rows) ([]*types.Dependency, error) {
	var deps []*types.Dependency
	for rows.Next() {
		var dep types.Dependency
		var createdBy, metadata, threadID sql.NullString
		if err := rows.Scan(&dep.IssueID, &dep.DependsOnID, &dep.Type, &dep.CreatedAt, &createdBy, &metadata, &threadID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if createdBy.Valid {
			dep.CreatedBy = createdBy.String
		}
		if metadata.Valid && metadata.String != "{}" {
			dep.Metadata = metadata.String
		}
		if threadID.Valid {
			dep.ThreadID = threadID.String
		}
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}

// GetDependencyTree returns the dependency tree rooted at issueID as a flat
// list. Direction down follows depends_on_id edges, up follows reverse edges,
// both concatenates the two. Nodes carry depth, parent_id, and truncated (set
// when the depth limit cut the branch). Ordering is depth asc, priority asc,
// id asc for determinism. By default each issue appears once at its shallowest
// depth; showAllPaths retains diamonds. In down mode, external sentinels
// become synthesized leaf nodes whose status comes from the external resolver
// when one is installed.
func (s *Store) GetDependencyTree(ctx context.Context, issueID string, direction types.TreeDirection, maxDepth int, showAllPaths bool) ([]*types.TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = treeDepthDefault
	}
	if direction == "" {
		direction = types.TreeDown
	}

	switch direction {
	case types.TreeDown, types.TreeUp:
		nodes, err := s.buildTree(ctx, issueID, direction, maxDepth, showAllPaths)
		if err != nil {
			return nil, err
		}
		sortTreeNodes(nodes)
		return nodes, nil
	case types.TreeBoth:
		down, err := s.buildTree(ctx, issueID, types.TreeDown, maxDepth, showAllPaths)
		if err != nil {
			return nil, err
		}
		up, err := s.buildTree(ctx, issueID, types.TreeUp, maxDepth, showAllPaths)
		if err != nil {
			return nil, err
		}
		sortTreeNodes(down)
		sortTreeNodes(up)
		return append(down, up...), nil
	default:
		return nil, validationErrorf("invalid tree direction: %q", direction)
	}
}

type treeVisit struct {
	id       string
	parentID string
	depth    int
}

func (s *Store) buildTree(ctx context.Context, rootID string, direction types.TreeDirection, maxDepth int, showAllPaths bool) ([]*types.TreeNode, error) {
	root, err := s.GetIssueIncludingTombstones(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, notFoundErrorf("issue %s", rootID)
	}

	var nodes []*types.TreeNode
	seen := map[string]bool{}
	queue := []treeVisit{{id: rootID, parentID: "", depth: 0}}

	for len(queue) > 0 {
		visit := queue[0]
		queue = queue[1:]

		// Shallowest occurrence wins unless the caller wants every path.
		// BFS order guarantees the first visit is the shallowest.
		if !showAllPaths && seen[visit.id] {
			continue
		}
		seen[visit.id] = true

		if types.IsExternalSentinel(visit.id) {
			node, err := s.externalLeaf(ctx, visit)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			continue
		}

		issue, err := s.GetIssueIncludingTombstones(ctx, visit.id)
		if err != nil {
			return nil, err
		}
		if issue == nil {
			continue
		}

		node := &types.TreeNode{Issue: *issue, Depth: visit.depth, ParentID: visit.parentID}
		nodes = append(nodes, node)

		if visit.depth >= maxDepth {
			node.Truncated = true
			continue
		}

		var query string
		if direction == types.TreeUp {
			query = `SELECT issue_id FROM dependencies WHERE depends_on_id = ? ORDER BY issue_id`
		} else {
			query = `SELECT depends_on_id FROM dependencies WHERE issue_id = ? ORDER BY depends_on_id`
		}

		rows, err := s.db.QueryContext(ctx, query, visit.id)
		if err != nil {
			return nil, wrapDBError("query tree edges", err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				_ = rows.Close()
				return nil, err
			}
			// Reverse traversal never reaches sentinels; forward traversal
			// synthesizes leaves for them.
			if direction == types.TreeUp && types.IsExternalSentinel(next) {
				continue
			}
			queue = append(queue, treeVisit{id: next, parentID: visit.id, depth: visit.depth + 1})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	return nodes, nil
}

// externalLeaf synthesizes a tree node for an external sentinel target.
// Status derives from resolving provides:<capability> in the foreign project;
// without a resolver the sentinel reads as open (unsatisfied).
func (s *Store) externalLeaf(ctx context.Context, visit treeVisit) (*types.TreeNode, error) {
	project, capability, ok := types.ParseExternalSentinel(visit.id)
	status := types.StatusOpen
	if ok && s.external != nil {
		satisfied, err := s.external.Resolve(ctx, project, capability)
		if err == nil && satisfied {
			status = types.StatusClosed
		}
	}

	return &types.TreeNode{
		Issue: types.Issue{
			ID:        visit.id,
			Title:     fmt.Sprintf("external dependency: %s (%s)", capability, project),
			Status:    status,
			Priority:  2,
			IssueType: types.TypeTask,
		},
		Depth:    visit.depth,
		ParentID: visit.parentID,
	}, nil
}

func sortTreeNodes(nodes []*types.TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		if nodes[i].Priority != nodes[j].Priority {
			return nodes[i].Priority < nodes[j].Priority
		}
		return nodes[i].ID < nodes[j].ID
	})
}
