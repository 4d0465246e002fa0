package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// GetEvents returns the audit trail for an issue, newest first.
func (s *Store) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, issue_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events
		WHERE issue_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{issueID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query events", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// GetEventsSince returns events across all issues after the given timestamp,
// oldest first. Event creation is internal to mutating operations; this is
// the global read surface.
func (s *Store) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, issue_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events
		WHERE datetime(created_at) > datetime(?)
		ORDER BY created_at ASC, id ASC
	`
	// created_at defaults to CURRENT_TIMESTAMP text (UTC); bind the bound in
	// the same form so the comparison is on time, not on text layout.
	args := []interface{}{since.UTC().Format("2006-01-02 15:04:05")}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query events since", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var events []*types.Event
	for rows.Next() {
		event := &types.Event{}
		var oldValue, newValue, comment sql.NullString
		if err := rows.Scan(&event.ID, &event.IssueID, &event.EventType, &event.Actor,
			&oldValue, &newValue, &comment, &event.CreatedAt); err != nil {
			return nil, err
		}
		if oldValue.Valid {
			event.OldValue = &oldValue.String
		}
		if newValue.Valid {
			event.NewValue = &newValue.String
		}
		if comment.Valid {
			event.Comment = &comment.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
