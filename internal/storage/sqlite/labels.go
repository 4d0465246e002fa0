package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juanlu12332/beads/internal/types"
)

func validateLabel(label string) error {
	if label == "" {
		return validationErrorf("label cannot be empty")
	}
	if len(label) > 100 {
		return validationErrorf("label must be 100 characters or less (got %d)", len(label))
	}
	return nil
}

// AddLabel adds a label to an issue. Idempotent: re-adding an existing label
// is a no-op. Writes into the reserved provides: namespace are rejected —
// capability labels have a dedicated operation outside this path.
func (s *Store) AddLabel(ctx context.Context, issueID, label, actor string) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	if strings.HasPrefix(label, types.ReservedLabelPrefix) {
		return validationErrorf("label %q uses the reserved %s namespace", label, types.ReservedLabelPrefix)
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var exists int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, issueID).Scan(&exists); err != nil {
			return wrapDBError("check issue existence", err)
		}
		if exists == 0 {
			return notFoundErrorf("issue %s", issueID)
		}

		result, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)
		`, issueID, label)
		if err != nil {
			return wrapDBError("add label", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("check rows affected", err)
		}
		if rows == 0 {
			// Label already existed, no change made
			return nil
		}

		if err := recordEvent(ctx, conn, issueID, types.EventLabelAdded, actor, "", "", fmt.Sprintf("Added label: %s", label)); err != nil {
			return wrapDBError("record event", err)
		}

		return markDirty(ctx, conn, issueID)
	})
}

// RemoveLabel removes a label from an issue. Idempotent.
func (s *Store) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			DELETE FROM labels WHERE issue_id = ? AND label = ?
		`, issueID, label)
		if err != nil {
			return wrapDBError("remove label", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("check rows affected", err)
		}
		if rows == 0 {
			// Label didn't exist, no change made
			return nil
		}

		if err := recordEvent(ctx, conn, issueID, types.EventLabelRemoved, actor, "", "", fmt.Sprintf("Removed label: %s", label)); err != nil {
			return wrapDBError("record event", err)
		}

		return markDirty(ctx, conn, issueID)
	})
}

// GetLabels retrieves labels for an issue in sorted order.
func (s *Store) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label FROM labels WHERE issue_id = ? ORDER BY label
	`, issueID)
	if err != nil {
		return nil, wrapDBError("get labels", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}
