package sqlite

import (
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// validateFieldUpdate validates a single update value against the invariants
// for its column, allowing workspace-declared custom statuses and types.
func validateFieldUpdate(key string, value interface{}, customStatuses, customTypes []string) error {
	switch key {
	case "priority":
		if priority, ok := value.(int); ok {
			if priority < 0 || priority > 4 {
				return validationErrorf("priority must be between 0 and 4 (got %d)", priority)
			}
		}
	case "status":
		if status, ok := value.(string); ok {
			if !types.Status(status).IsValidWithCustom(customStatuses) {
				return validationErrorf("invalid status: %s", status)
			}
		}
	case "issue_type":
		if issueType, ok := value.(string); ok {
			if !types.IssueType(issueType).IsValidWithCustom(customTypes) {
				return validationErrorf("invalid issue type: %s", issueType)
			}
		}
	case "title":
		if title, ok := value.(string); ok {
			if len(title) == 0 || len(title) > 500 {
				return validationErrorf("title must be 1-500 characters")
			}
		}
	case "estimated_minutes":
		if mins, ok := value.(int); ok {
			if mins < 0 {
				return validationErrorf("estimated_minutes cannot be negative")
			}
		}
	case "due_at", "defer_until":
		switch value.(type) {
		case nil, time.Time, *time.Time:
		default:
			return validationErrorf("%s must be a timestamp", key)
		}
	}
	return nil
}
