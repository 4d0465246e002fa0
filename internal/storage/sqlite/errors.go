package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/juanlu12332/beads/internal/storage"
)

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to storage.ErrNotFound and SQLITE_BUSY conditions
// to storage.ErrLocked for consistent kind-based handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isBusyError(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrLocked, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// validationErrorf builds a validation-kind error with a human description.
func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", storage.ErrValidation, fmt.Sprintf(format, args...))
}

// notFoundErrorf builds a not-found-kind error naming the missing entity.
func notFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", storage.ErrNotFound, fmt.Sprintf(format, args...))
}

// IsNotFound checks if an error is or wraps storage.ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// IsUniqueConstraintError checks if an error is a UNIQUE constraint violation
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyConstraintError checks if an error is a FOREIGN KEY constraint
// violation. This can occur when importing issues that reference missing
// issues (e.g., after an external merge).
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "foreign key constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
