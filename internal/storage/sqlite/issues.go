package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/juanlu12332/beads/internal/idgen"
	"github.com/juanlu12332/beads/internal/types"
)

// issueColumns is the canonical SELECT column list for scanning issues.
const issueColumns = `id, content_hash, title, description, design, acceptance_criteria, notes,
	status, priority, issue_type, assignee, owner, estimated_minutes,
	created_at, created_by, updated_at, closed_at, close_reason, closed_by_session,
	due_at, defer_until, external_ref, source_system,
	deleted_at, deleted_by, delete_reason, original_type,
	pinned, is_template, ephemeral`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIssueRow scans one row in issueColumns order.
func scanIssueRow(row rowScanner) (*types.Issue, error) {
	return scanIssueRowWithExtra(row)
}

// scanIssueRowWithExtra scans one row in issueColumns order followed by any
// extra destinations appended to the SELECT list.
func scanIssueRowWithExtra(row rowScanner, extra ...interface{}) (*types.Issue, error) {
	var issue types.Issue
	var contentHash, assignee, owner, createdBy, closeReason, closedBySession sql.NullString
	var externalRef, sourceSystem, deletedAt, deletedBy, deleteReason, originalType sql.NullString
	var estimatedMinutes sql.NullInt64
	var closedAt, dueAt, deferUntil sql.NullTime
	var pinned, isTemplate, ephemeral sql.NullInt64

	dests := []interface{}{
		&issue.ID, &contentHash, &issue.Title, &issue.Description, &issue.Design,
		&issue.AcceptanceCriteria, &issue.Notes, &issue.Status, &issue.Priority,
		&issue.IssueType, &assignee, &owner, &estimatedMinutes,
		&issue.CreatedAt, &createdBy, &issue.UpdatedAt, &closedAt, &closeReason, &closedBySession,
		&dueAt, &deferUntil, &externalRef, &sourceSystem,
		&deletedAt, &deletedBy, &deleteReason, &originalType,
		&pinned, &isTemplate, &ephemeral,
	}
	dests = append(dests, extra...)

	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	if contentHash.Valid {
		issue.ContentHash = contentHash.String
	}
	if assignee.Valid {
		issue.Assignee = assignee.String
	}
	if owner.Valid {
		issue.Owner = owner.String
	}
	if createdBy.Valid {
		issue.CreatedBy = createdBy.String
	}
	if estimatedMinutes.Valid {
		mins := int(estimatedMinutes.Int64)
		issue.EstimatedMinutes = &mins
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}
	if closeReason.Valid {
		issue.CloseReason = closeReason.String
	}
	if closedBySession.Valid {
		issue.ClosedBySession = closedBySession.String
	}
	if dueAt.Valid {
		issue.DueAt = &dueAt.Time
	}
	if deferUntil.Valid {
		issue.DeferUntil = &deferUntil.Time
	}
	if externalRef.Valid && externalRef.String != "" {
		issue.ExternalRef = &externalRef.String
	}
	if sourceSystem.Valid {
		issue.SourceSystem = sourceSystem.String
	}
	issue.DeletedAt = parseNullableTimeString(deletedAt)
	if deletedBy.Valid {
		issue.DeletedBy = deletedBy.String
	}
	if deleteReason.Valid {
		issue.DeleteReason = deleteReason.String
	}
	if originalType.Valid {
		issue.OriginalType = originalType.String
	}
	issue.Pinned = pinned.Valid && pinned.Int64 != 0
	issue.IsTemplate = isTemplate.Valid && isTemplate.Int64 != 0
	issue.Ephemeral = ephemeral.Valid && ephemeral.Int64 != 0

	return &issue, nil
}

func insertIssue(ctx context.Context, q execer, issue *types.Issue) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO issues (
			id, content_hash, title, description, design, acceptance_criteria, notes,
			status, priority, issue_type, assignee, owner, estimated_minutes,
			created_at, created_by, updated_at, closed_at, close_reason, closed_by_session,
			due_at, defer_until, external_ref, source_system,
			deleted_at, deleted_by, delete_reason, original_type,
			pinned, is_template, ephemeral
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		issue.ID, issue.ContentHash, issue.Title, issue.Description, issue.Design,
		issue.AcceptanceCriteria, issue.Notes, issue.Status, issue.Priority,
		issue.IssueType, nullString(issue.Assignee), issue.Owner, nullIntPtr(issue.EstimatedMinutes),
		issue.CreatedAt, issue.CreatedBy, issue.UpdatedAt, issue.ClosedAt, issue.CloseReason, issue.ClosedBySession,
		issue.DueAt, issue.DeferUntil, nullStringPtr(issue.ExternalRef), issue.SourceSystem,
		formatNullableTime(issue.DeletedAt), issue.DeletedBy, issue.DeleteReason, issue.OriginalType,
		boolToInt(issue.Pinned), boolToInt(issue.IsTemplate), boolToInt(issue.Ephemeral),
	)
	return err
}

func recordEvent(ctx context.Context, q execer, issueID string, eventType types.EventType, actor, oldValue, newValue, comment string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, old_value, new_value, comment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, issueID, eventType, actor, nullString(oldValue), nullString(newValue), nullString(comment))
	return err
}

func markDirty(ctx context.Context, q execer, issueID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO dirty_issues (issue_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (issue_id) DO UPDATE SET marked_at = excluded.marked_at
	`, issueID, time.Now())
	return err
}

// BatchCreateOptions tunes the import-facing create path.
type BatchCreateOptions struct {
	// SkipPrefixValidation allows mixed prefixes (auto-import is lenient).
	SkipPrefixValidation bool
	// AllowUnknownTypes round-trips issue types that aren't built-in or
	// declared custom; imports must never coerce or reject them.
	AllowUnknownTypes bool
	// ParentID, when set, allocates a hierarchical child ID for each issue
	// with an empty ID.
	ParentID string
}

// CreateIssue creates a new issue: generates the ID (unless supplied),
// normalizes and validates, writes the entity plus its initial labels and
// dependencies, records the created event, marks dirty, and refreshes the
// blocked cache when blocking dependencies are present — all in one
// immediate-lock transaction.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return s.createIssues(ctx, []*types.Issue{issue}, actor, BatchCreateOptions{})
}

// CreateIssues creates multiple issues within one transaction.
func (s *Store) CreateIssues(ctx context.Context, issues []*types.Issue, actor string) error {
	return s.createIssues(ctx, issues, actor, BatchCreateOptions{})
}

// CreateIssuesWithOptions is the import-facing batch create path.
func (s *Store) CreateIssuesWithOptions(ctx context.Context, issues []*types.Issue, actor string, opts BatchCreateOptions) error {
	return s.createIssues(ctx, issues, actor, opts)
}

func (s *Store) createIssues(ctx context.Context, issues []*types.Issue, actor string, opts BatchCreateOptions) error {
	if len(issues) == 0 {
		return nil
	}

	customStatuses, err := s.GetCustomStatuses(ctx)
	if err != nil {
		return wrapDBError("get custom statuses", err)
	}
	customTypes, err := s.GetCustomTypes(ctx)
	if err != nil {
		return wrapDBError("get custom types", err)
	}

	now := time.Now()
	for _, issue := range issues {
		issue.Title = strings.TrimSpace(issue.Title)
		issue.SetDefaults()
		if issue.CreatedAt.IsZero() {
			issue.CreatedAt = now
		}
		if issue.UpdatedAt.IsZero() {
			issue.UpdatedAt = now
		}
		if issue.CreatedBy == "" {
			issue.CreatedBy = actor
		}

		// Defensive invariant repair for rows arriving from older mirrors:
		// closed without closed_at, tombstone without deleted_at.
		if issue.Status == types.StatusClosed && issue.ClosedAt == nil {
			maxTime := issue.CreatedAt
			if issue.UpdatedAt.After(maxTime) {
				maxTime = issue.UpdatedAt
			}
			closedAt := maxTime.Add(time.Second)
			issue.ClosedAt = &closedAt
		}
		if issue.Status == types.StatusTombstone && issue.DeletedAt == nil {
			maxTime := issue.CreatedAt
			if issue.UpdatedAt.After(maxTime) {
				maxTime = issue.UpdatedAt
			}
			deletedAt := maxTime.Add(time.Second)
			issue.DeletedAt = &deletedAt
		}

		effectiveTypes := customTypes
		if opts.AllowUnknownTypes && !issue.IssueType.IsValidWithCustom(customTypes) {
			// Round-trip unknown kinds as-is: extend the accepted set for this
			// row only, never coerce to a known value.
			effectiveTypes = append(append([]string{}, customTypes...), string(issue.IssueType))
		}
		if err := issue.ValidateWithCustom(customStatuses, effectiveTypes); err != nil {
			return validationErrorf("%v", err)
		}

		if issue.ContentHash == "" {
			issue.ContentHash = issue.ComputeContentHash()
		}
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		prefix, err := issuePrefix(ctx, conn)
		if err != nil {
			return err
		}

		seenIDs := make(map[string]bool)
		hasBlockingDeps := false

		for _, issue := range issues {
			if issue.ID == "" {
				if opts.ParentID != "" {
					childID, err := nextChildID(ctx, conn, opts.ParentID, 0)
					if err != nil {
						return err
					}
					issue.ID = childID
				} else {
					generatedID, err := generateIssueID(ctx, conn, prefix, issue, actor)
					if err != nil {
						return wrapDBError("generate issue ID", err)
					}
					issue.ID = generatedID
				}
			} else if !opts.SkipPrefixValidation {
				if err := validateIssueIDPrefix(issue.ID, prefix); err != nil {
					return err
				}
				if isChild, parentID := idgen.IsHierarchicalID(issue.ID); isChild {
					var parentExists int
					if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, parentID).Scan(&parentExists); err != nil {
						return wrapDBErrorf(err, "check parent %s", parentID)
					}
					if parentExists == 0 {
						return notFoundErrorf("parent issue %s does not exist", parentID)
					}
				}
			}

			if seenIDs[issue.ID] {
				return validationErrorf("duplicate issue ID within batch: %s", issue.ID)
			}
			seenIDs[issue.ID] = true

			if err := insertIssue(ctx, conn, issue); err != nil {
				return wrapDBError("insert issue", err)
			}

			if err := recordEvent(ctx, conn, issue.ID, types.EventCreated, actor, "", "", issue.Title); err != nil {
				return wrapDBError("record creation event", err)
			}

			for _, label := range issue.Labels {
				if err := validateLabel(label); err != nil {
					return err
				}
				if _, err := conn.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issue.ID, label); err != nil {
					return wrapDBError("insert label", err)
				}
			}

			for _, dep := range issue.Dependencies {
				dep.IssueID = issue.ID
				if err := addDependencyInTx(ctx, conn, dep, actor); err != nil {
					return err
				}
				if dep.Type.AffectsReadyWork() {
					hasBlockingDeps = true
				}
			}

			if err := markDirty(ctx, conn, issue.ID); err != nil {
				return wrapDBError("mark issue dirty", err)
			}
		}

		if hasBlockingDeps {
			if err := rebuildBlockedCache(ctx, conn); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetIssue retrieves an issue by ID. Tombstones are excluded by default;
// use GetIssueIncludingTombstones when deletion markers matter.
func (s *Store) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	issue, err := s.GetIssueIncludingTombstones(ctx, id)
	if err != nil || issue == nil {
		return nil, err
	}
	if issue.IsTombstone() {
		return nil, nil
	}
	return issue, nil
}

// GetIssueIncludingTombstones retrieves an issue by ID regardless of status.
func (s *Store) GetIssueIncludingTombstones(ctx context.Context, id string) (*types.Issue, error) {
	s.reconnectMu.RLock()
	defer s.reconnectMu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssueRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	labels, err := s.GetLabels(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}
	issue.Labels = labels

	return issue, nil
}

// GetIssueByExternalRef retrieves an issue by its external reference.
func (s *Store) GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error) {
	s.reconnectMu.RLock()
	defer s.reconnectMu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE external_ref = ?`, externalRef)
	issue, err := scanIssueRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue by external_ref: %w", err)
	}
	return issue, nil
}

// Allowed fields for update to prevent SQL injection
var allowedUpdateFields = map[string]bool{
	"status":              true,
	"priority":            true,
	"title":               true,
	"assignee":            true,
	"owner":               true,
	"description":         true,
	"design":              true,
	"acceptance_criteria": true,
	"notes":               true,
	"issue_type":          true,
	"estimated_minutes":   true,
	"external_ref":        true,
	"source_system":       true,
	"closed_at":           true,
	"close_reason":        true,
	"closed_by_session":   true,
	"due_at":              true,
	"defer_until":         true,
	"pinned":              true,
	"ephemeral":           true,
}

// contentHashFields are the update keys that feed the content hash.
var contentHashFields = []string{
	"title", "description", "design", "acceptance_criteria", "notes",
	"status", "priority", "issue_type", "assignee", "owner",
	"external_ref", "source_system", "close_reason", "closed_by_session", "pinned", "ephemeral",
}

// UpdateIssue updates fields on an issue. Transitioning to tombstone through
// this path is rejected; use DeleteIssue. closed_at and close_reason are
// auto-managed on status transitions across the closed boundary, the content
// hash is recomputed when any hashed field changes, one event is emitted per
// observable change, the row is marked dirty, and the blocked cache refreshes
// when status changed — all inside one transaction.
func (s *Store) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	oldIssue, err := s.GetIssueIncludingTombstones(ctx, id)
	if err != nil {
		return wrapDBError("get issue for update", err)
	}
	if oldIssue == nil {
		return notFoundErrorf("issue %s", id)
	}
	if oldIssue.IsTombstone() {
		return validationErrorf("issue %s is deleted; tombstones cannot be updated", id)
	}

	if statusVal, ok := updates["status"]; ok {
		if asString(statusVal) == string(types.StatusTombstone) {
			return validationErrorf("cannot set status=tombstone via update; use DeleteIssue")
		}
	}

	customStatuses, err := s.GetCustomStatuses(ctx)
	if err != nil {
		return wrapDBError("get custom statuses", err)
	}
	customTypes, err := s.GetCustomTypes(ctx)
	if err != nil {
		return wrapDBError("get custom types", err)
	}

	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now()}

	for key, value := range updates {
		// Prevent SQL injection by validating field names
		if !allowedUpdateFields[key] {
			return validationErrorf("invalid field for update: %s", key)
		}
		if err := validateFieldUpdate(key, value, customStatuses, customTypes); err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
		args = append(args, value)
	}

	// Auto-manage closed_at when status changes (enforce invariant)
	setClauses, args = manageClosedAt(oldIssue, updates, setClauses, args)

	// Recompute content_hash if any hashed field changed
	contentChanged := false
	for _, field := range contentHashFields {
		if _, exists := updates[field]; exists {
			contentChanged = true
			break
		}
	}
	if contentChanged {
		updatedIssue := *oldIssue
		applyUpdatesToIssue(&updatedIssue, updates)
		setClauses = append(setClauses, "content_hash = ?")
		args = append(args, updatedIssue.ComputeContentHash())
	}

	args = append(args, id)

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		query := fmt.Sprintf("UPDATE issues SET %s WHERE id = ?", strings.Join(setClauses, ", ")) // #nosec G201 - safe SQL with controlled column names
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return wrapDBError("update issue", err)
		}

		oldData, err := json.Marshal(oldIssue)
		if err != nil {
			oldData = []byte(fmt.Sprintf(`{"id":%q}`, id))
		}
		newData, err := json.Marshal(updates)
		if err != nil {
			newData = []byte(`{}`)
		}

		eventType := determineEventType(oldIssue, updates)
		if err := recordEvent(ctx, conn, id, eventType, actor, string(oldData), string(newData), ""); err != nil {
			return wrapDBError("record event", err)
		}

		if err := markDirty(ctx, conn, id); err != nil {
			return wrapDBError("mark issue dirty", err)
		}

		// Status changes affect which issues are blocked
		if _, statusChanged := updates["status"]; statusChanged {
			if err := rebuildBlockedCache(ctx, conn); err != nil {
				return err
			}
		}

		return nil
	})
}

// CloseIssue closes an issue with a reason. Unless force is set, closing is
// refused while the issue still has an open blocker.
func (s *Store) CloseIssue(ctx context.Context, id, reason, actor, session string, force bool) error {
	existing, err := s.GetIssue(ctx, id)
	if err != nil {
		return wrapDBError("get issue for close", err)
	}
	if existing == nil {
		return notFoundErrorf("issue %s", id)
	}

	if !force {
		blocked, blockers, err := s.isDirectlyBlocked(ctx, id)
		if err != nil {
			return wrapDBError("check blockers", err)
		}
		if blocked {
			return validationErrorf("issue %s has open blockers: %s (use force to close anyway)", id, strings.Join(blockers, ", "))
		}
	}

	now := time.Now()
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		// Recompute content hash up front: status and close_reason are hashed
		updated := *existing
		updated.Status = types.StatusClosed
		updated.CloseReason = reason
		updated.ClosedBySession = session

		result, err := conn.ExecContext(ctx, `
			UPDATE issues SET status = ?, closed_at = ?, updated_at = ?, close_reason = ?, closed_by_session = ?, content_hash = ?
			WHERE id = ?
		`, types.StatusClosed, now, now, reason, session, updated.ComputeContentHash(), id)
		if err != nil {
			return wrapDBError("close issue", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("get rows affected", err)
		}
		if rows == 0 {
			return notFoundErrorf("issue %s", id)
		}

		if err := recordEvent(ctx, conn, id, types.EventClosed, actor, "", "", reason); err != nil {
			return wrapDBError("record event", err)
		}

		if err := markDirty(ctx, conn, id); err != nil {
			return wrapDBError("mark issue dirty", err)
		}

		// Closed issues don't block others; refresh the blocked computation
		return rebuildBlockedCache(ctx, conn)
	})
}

// ReopenIssue transitions a closed issue back to open, clearing the close
// fields. Tombstones are rejected.
func (s *Store) ReopenIssue(ctx context.Context, id, actor string) error {
	existing, err := s.GetIssueIncludingTombstones(ctx, id)
	if err != nil {
		return wrapDBError("get issue for reopen", err)
	}
	if existing == nil {
		return notFoundErrorf("issue %s", id)
	}
	if existing.IsTombstone() {
		return validationErrorf("issue %s is deleted; tombstones cannot be reopened", id)
	}

	now := time.Now()
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		updated := *existing
		updated.Status = types.StatusOpen
		updated.CloseReason = ""
		updated.ClosedBySession = ""
		updated.ClosedAt = nil

		if _, err := conn.ExecContext(ctx, `
			UPDATE issues SET status = ?, closed_at = NULL, close_reason = '', closed_by_session = '', updated_at = ?, content_hash = ?
			WHERE id = ?
		`, types.StatusOpen, now, updated.ComputeContentHash(), id); err != nil {
			return wrapDBError("reopen issue", err)
		}

		if err := recordEvent(ctx, conn, id, types.EventReopened, actor, string(existing.Status), string(types.StatusOpen), ""); err != nil {
			return wrapDBError("record event", err)
		}

		if err := markDirty(ctx, conn, id); err != nil {
			return wrapDBError("mark issue dirty", err)
		}

		return rebuildBlockedCache(ctx, conn)
	})
}

// isDirectlyBlocked reports open blockers of the blocks type for one issue.
func (s *Store) isDirectlyBlocked(ctx context.Context, issueID string) (bool, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.depends_on_id
		FROM dependencies d
		JOIN issues blocker ON d.depends_on_id = blocker.id
		WHERE d.issue_id = ?
		  AND d.type = 'blocks'
		  AND blocker.status NOT IN ('closed', 'tombstone')
	`, issueID)
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = rows.Close() }()

	var blockers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return false, nil, err
		}
		blockers = append(blockers, id)
	}
	return len(blockers) > 0, blockers, rows.Err()
}

// determineEventType determines the event type for an update based on old and new status
func determineEventType(oldIssue *types.Issue, updates map[string]interface{}) types.EventType {
	statusVal, hasStatus := updates["status"]
	if !hasStatus {
		return types.EventUpdated
	}

	newStatus := asString(statusVal)
	if newStatus == "" {
		return types.EventUpdated
	}

	if newStatus == string(types.StatusClosed) {
		return types.EventClosed
	}
	if oldIssue.Status == types.StatusClosed {
		return types.EventReopened
	}
	return types.EventStatusChanged
}

// manageClosedAt automatically manages the closed_at field based on status changes.
// Explicit closed_at values (import path, timestamp preservation) win.
func manageClosedAt(oldIssue *types.Issue, updates map[string]interface{}, setClauses []string, args []interface{}) ([]string, []interface{}) {
	statusVal, hasStatus := updates["status"]

	if _, hasExplicitClosedAt := updates["closed_at"]; hasExplicitClosedAt {
		return setClauses, args
	}
	if !hasStatus {
		return setClauses, args
	}

	newStatus := asString(statusVal)
	if newStatus == "" {
		return setClauses, args
	}

	if newStatus == string(types.StatusClosed) {
		// Changing to closed: ensure closed_at is set
		now := time.Now()
		updates["closed_at"] = now
		setClauses = append(setClauses, "closed_at = ?")
		args = append(args, now)
	} else if oldIssue.Status == types.StatusClosed {
		// Changing from closed to something else: clear closed_at and close_reason
		updates["closed_at"] = nil
		setClauses = append(setClauses, "closed_at = ?")
		args = append(args, nil)
		if _, hasReason := updates["close_reason"]; !hasReason {
			updates["close_reason"] = ""
			setClauses = append(setClauses, "close_reason = ?")
			args = append(args, "")
		}
	}

	return setClauses, args
}

// applyUpdatesToIssue applies an update map to an issue copy for content hash
// recomputation.
func applyUpdatesToIssue(issue *types.Issue, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "title":
			issue.Title = asString(value)
		case "description":
			issue.Description = asString(value)
		case "design":
			issue.Design = asString(value)
		case "acceptance_criteria":
			issue.AcceptanceCriteria = asString(value)
		case "notes":
			issue.Notes = asString(value)
		case "status":
			issue.Status = types.Status(asString(value))
		case "priority":
			if p, ok := value.(int); ok {
				issue.Priority = p
			}
		case "issue_type":
			issue.IssueType = types.IssueType(asString(value))
		case "assignee":
			issue.Assignee = asString(value)
		case "owner":
			issue.Owner = asString(value)
		case "source_system":
			issue.SourceSystem = asString(value)
		case "close_reason":
			issue.CloseReason = asString(value)
		case "closed_by_session":
			issue.ClosedBySession = asString(value)
		case "pinned":
			if b, ok := value.(bool); ok {
				issue.Pinned = b
			}
		case "ephemeral":
			if b, ok := value.(bool); ok {
				issue.Ephemeral = b
			}
		case "external_ref":
			if value == nil {
				issue.ExternalRef = nil
			} else {
				switch v := value.(type) {
				case string:
					if v == "" {
						issue.ExternalRef = nil
					} else {
						issue.ExternalRef = &v
					}
				case *string:
					issue.ExternalRef = v
				}
			}
		}
	}
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case types.Status:
		return string(v)
	case types.IssueType:
		return string(v)
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}
