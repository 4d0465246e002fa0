package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// AddIssueComment adds a comment to an issue. Comments are append-only; there
// is no dedupe on this path (import dedupes separately).
func (s *Store) AddIssueComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	return s.addComment(ctx, issueID, author, text, time.Now())
}

// ImportIssueComment adds a comment preserving its original timestamp.
// Used by import to keep mirrored comments byte-stable across round trips.
func (s *Store) ImportIssueComment(ctx context.Context, issueID, author, text string, createdAt time.Time) (*types.Comment, error) {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.addComment(ctx, issueID, author, text, createdAt)
}

func (s *Store) addComment(ctx context.Context, issueID, author, text string, createdAt time.Time) (*types.Comment, error) {
	if strings.TrimSpace(author) == "" {
		return nil, validationErrorf("comment author is required")
	}
	if text == "" {
		return nil, validationErrorf("comment text is required")
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, issueID).Scan(&exists)
	if err != nil {
		return nil, wrapDBError("check issue existence", err)
	}
	if !exists {
		return nil, notFoundErrorf("issue %s", issueID)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (issue_id, author, text, created_at)
		VALUES (?, ?, ?, ?)
	`, issueID, author, text, createdAt)
	if err != nil {
		return nil, wrapDBError("insert comment", err)
	}

	commentID, err := result.LastInsertId()
	if err != nil {
		return nil, wrapDBError("get comment ID", err)
	}

	comment := &types.Comment{}
	err = s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, author, text, created_at
		FROM comments WHERE id = ?
	`, commentID).Scan(&comment.ID, &comment.IssueID, &comment.Author, &comment.Text, &comment.CreatedAt)
	if err != nil {
		return nil, wrapDBError("fetch comment", err)
	}

	if err := recordEvent(ctx, s.db, issueID, types.EventCommented, author, "", "", text); err != nil {
		return nil, wrapDBError("record comment event", err)
	}

	// Mark issue as dirty for JSONL export
	if err := s.MarkIssueDirty(ctx, issueID); err != nil {
		return nil, fmt.Errorf("failed to mark issue dirty: %w", err)
	}

	return comment, nil
}

// GetIssueComments retrieves all comments for an issue
func (s *Store) GetIssueComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, author, text, created_at
		FROM comments
		WHERE issue_id = ?
		ORDER BY created_at ASC, id ASC
	`, issueID)
	if err != nil {
		return nil, wrapDBError("query comments", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*types.Comment
	for rows.Next() {
		comment := &types.Comment{}
		err := rows.Scan(&comment.ID, &comment.IssueID, &comment.Author, &comment.Text, &comment.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, comment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}

	return comments, nil
}
