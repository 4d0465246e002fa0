package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single forward-only schema change. Each migration runs in its
// own transaction and is recorded in schema_migrations; a migration whose
// version is already recorded is skipped. No migration removes or rewrites
// data required by an existing invariant.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []migration{
	{
		version: 1,
		name:    "external_ref_unique_index",
		apply: func(tx *sql.Tx) error {
			// Partial unique index: NULL external_refs don't collide
			return execAll(tx, `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_external_ref
				ON issues(external_ref) WHERE external_ref IS NOT NULL AND external_ref != ''
			`)
		},
	},
	{
		version: 2,
		name:    "blocked_issues_cache",
		apply: func(tx *sql.Tx) error {
			return execAll(tx, `
				CREATE TABLE IF NOT EXISTS blocked_issues_cache (
					issue_id TEXT NOT NULL,
					PRIMARY KEY (issue_id),
					FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
				)
			`)
		},
	},
	{
		version: 3,
		name:    "child_counters",
		apply: func(tx *sql.Tx) error {
			// Tracks sequential child numbers per parent for hierarchical IDs
			return execAll(tx, `
				CREATE TABLE IF NOT EXISTS child_counters (
					parent_id TEXT PRIMARY KEY,
					last_child INTEGER NOT NULL DEFAULT 0,
					FOREIGN KEY (parent_id) REFERENCES issues(id) ON DELETE CASCADE
				)
			`)
		},
	},
	{
		version: 4,
		name:    "tombstone_partial_index",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_issues_tombstone ON issues(deleted_at) WHERE status = 'tombstone'`,
			)
		},
	},
	{
		version: 5,
		name:    "flag_partial_indexes",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_issues_ephemeral ON issues(id) WHERE ephemeral = 1`,
				`CREATE INDEX IF NOT EXISTS idx_issues_pinned ON issues(id) WHERE pinned = 1`,
			)
		},
	},
	{
		version: 6,
		name:    "ready_work_index",
		apply: func(tx *sql.Tx) error {
			// Composite index matching the ready-work query shape: active,
			// non-ephemeral, non-pinned issues ordered by priority and age.
			return execAll(tx, `
				CREATE INDEX IF NOT EXISTS idx_issues_ready
				ON issues(status, priority, created_at)
				WHERE status IN ('open', 'in_progress') AND ephemeral = 0 AND pinned = 0
			`)
		},
	},
}

// RunMigrations executes all pending migrations in ascending version order.
func RunMigrations(db *sql.DB) error {
	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to iterate schema_migrations: %w", err)
	}
	_ = rows.Close()

	highest := 0
	for _, m := range migrations {
		if m.version > highest {
			highest = m.version
		}
		if applied[m.version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d (%s): %w", m.version, m.name, err)
		}

		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d (%s): %w", m.version, m.name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d (%s): %w", m.version, m.name, err)
		}
	}

	// Mirror the applied version into metadata for external inspection
	if _, err := db.Exec(`
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", highest)); err != nil {
		return fmt.Errorf("failed to record schema_version: %w", err)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}
