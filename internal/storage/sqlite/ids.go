package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/juanlu12332/beads/internal/idgen"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

// idSettings carries the knobs for adaptive ID generation, read from the
// config table with idgen defaults for anything unset.
type idSettings struct {
	minLength   int
	maxLength   int
	maxProb     float64
	workspaceID string
}

func loadIDSettings(ctx context.Context, q execer) idSettings {
	set := idSettings{
		minLength: idgen.DefaultMinLength,
		maxLength: idgen.DefaultMaxLength,
		maxProb:   idgen.DefaultMaxCollisionProb,
	}

	get := func(key string) string {
		var value string
		if err := q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value); err != nil {
			return ""
		}
		return value
	}

	if v, err := strconv.Atoi(get("id.min_length")); err == nil && v > 0 {
		set.minLength = v
	}
	if v, err := strconv.Atoi(get("id.max_length")); err == nil && v >= set.minLength {
		set.maxLength = v
	}
	if v, err := strconv.ParseFloat(get("id.max_collision_prob"), 64); err == nil && v > 0 && v < 1 {
		set.maxProb = v
	}

	var wsID string
	if err := q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, "workspace_id").Scan(&wsID); err == nil {
		set.workspaceID = wsID
	}

	return set
}

// generateIssueID generates a unique hash-based ID for a top-level issue.
// The base length adapts to the current top-level issue count so the
// birthday-paradox collision probability stays under the configured bound;
// on collision it tries nonces 0-9 at each length, grows the length, and
// past the maximum falls back to a 16-character hash.
func generateIssueID(ctx context.Context, q execer, prefix string, issue *types.Issue, actor string) (string, error) {
	set := loadIDSettings(ctx, q)

	var topLevel int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issues WHERE id LIKE ? AND id NOT LIKE '%.%'
	`, prefix+"-%").Scan(&topLevel)
	if err != nil {
		// Counting failed; use the fallback width rather than aborting
		topLevel = -1
	}

	baseLength := idgen.FallbackLength
	if topLevel >= 0 {
		baseLength = idgen.AdaptiveLength(topLevel, set.minLength, set.maxLength, set.maxProb)
	}

	tryLengths := make([]int, 0, set.maxLength-baseLength+2)
	for length := baseLength; length <= set.maxLength; length++ {
		tryLengths = append(tryLengths, length)
	}
	tryLengths = append(tryLengths, idgen.ExhaustedLength)

	for _, length := range tryLengths {
		for nonce := 0; nonce < idgen.MaxNonce; nonce++ {
			candidate := idgen.GenerateHashID(prefix, issue.Title, issue.Description, actor, issue.CreatedAt, nonce, set.workspaceID, length)

			var count int
			if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, candidate).Scan(&count); err != nil {
				return "", fmt.Errorf("failed to check for ID collision: %w", err)
			}
			if count == 0 {
				return candidate, nil
			}
		}
	}

	// Non-retryable: the caller cannot fix this by trying again
	return "", fmt.Errorf("failed to generate unique ID after exhausting lengths %d-%d and fallback width %d",
		baseLength, set.maxLength, idgen.ExhaustedLength)
}

// nextChildID atomically allocates the next hierarchical child ID under
// parentID using the child_counters table. Rejects allocations that would
// exceed the configured hierarchy depth.
func nextChildID(ctx context.Context, q execer, parentID string, maxDepth int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = idgen.DefaultHierarchyMaxDepth
	}
	if idgen.Depth(parentID)+1 >= maxDepth+1 {
		return "", validationErrorf("hierarchy depth limit %d exceeded for parent %s", maxDepth, parentID)
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, parentID).Scan(&exists); err != nil {
		return "", wrapDBErrorf(err, "check parent %s", parentID)
	}
	if exists == 0 {
		return "", notFoundErrorf("parent issue %s", parentID)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child) VALUES (?, 1)
		ON CONFLICT (parent_id) DO UPDATE SET last_child = last_child + 1
	`, parentID); err != nil {
		return "", wrapDBErrorf(err, "increment child counter for %s", parentID)
	}

	var n int
	if err := q.QueryRowContext(ctx, `SELECT last_child FROM child_counters WHERE parent_id = ?`, parentID).Scan(&n); err != nil {
		return "", wrapDBErrorf(err, "read child counter for %s", parentID)
	}

	return idgen.ChildID(parentID, n), nil
}

// validateIssueIDPrefix rejects explicitly supplied IDs that don't carry the
// configured prefix. Import paths skip this via BatchCreateOptions.
func validateIssueIDPrefix(id, prefix string) error {
	if prefix == "" {
		return nil
	}
	if !strings.HasPrefix(id, prefix+"-") {
		return fmt.Errorf("%w: issue ID %q does not match configured prefix %q", storage.ErrPrefixMismatch, id, prefix)
	}
	return nil
}

// issuePrefix reads the configured issue prefix, failing if the database has
// not been initialized with one.
func issuePrefix(ctx context.Context, q execer) (string, error) {
	var prefix string
	err := q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, "issue_prefix").Scan(&prefix)
	if err == sql.ErrNoRows || prefix == "" {
		return "", fmt.Errorf("%w: issue_prefix config is missing", storage.ErrNotInitialized)
	}
	if err != nil {
		return "", wrapDBError("get issue_prefix config", err)
	}
	return prefix, nil
}
