package sqlite

import (
	"database/sql"
	"time"
)

// parseNullableTimeString parses a nullable time string from database TEXT
// columns. The ncruces/go-sqlite3 driver only auto-converts TEXT→time.Time
// for columns declared as DATETIME/DATE/TIME/TIMESTAMP. For TEXT columns
// (like deleted_at), we must parse manually.
// Supports RFC3339, RFC3339Nano, and SQLite's native format.
func parseNullableTimeString(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ns.String); err == nil {
			return &t
		}
	}
	return nil // Unparseable - shouldn't happen with valid data
}

// formatTime renders a timestamp for TEXT column storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatNullableTime renders an optional timestamp for TEXT column storage.
func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullIntPtr(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
