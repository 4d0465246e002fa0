package sqlite

import (
	"context"
	"database/sql"
	"strings"
)

// SetConfig sets a configuration value
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetConfig gets a configuration value
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetAllConfig gets all configuration key-value pairs
func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		config[key] = value
	}
	return config, rows.Err()
}

// DeleteConfig deletes a configuration value
func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	return err
}

// GetCustomStatuses returns workspace-declared custom statuses
// (config key status.custom, comma-separated).
func (s *Store) GetCustomStatuses(ctx context.Context) ([]string, error) {
	return s.getCSVConfig(ctx, "status.custom")
}

// GetCustomTypes returns workspace-declared custom issue types
// (config key types.custom, comma-separated).
func (s *Store) GetCustomTypes(ctx context.Context) ([]string, error) {
	return s.getCSVConfig(ctx, "types.custom")
}

func (s *Store) getCSVConfig(ctx context.Context, key string) ([]string, error) {
	value, err := s.GetConfig(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// OrphanHandling defines how to handle orphan issues during import
type OrphanHandling string

// Orphan handling modes
const (
	OrphanStrict    OrphanHandling = "strict"    // Fail import on missing parent
	OrphanResurrect OrphanHandling = "resurrect" // Create closed placeholder parents
	OrphanSkip      OrphanHandling = "skip"      // Skip orphaned issues with warning
	OrphanAllow     OrphanHandling = "allow"     // Keep the edge without validation (default)
)

// GetOrphanHandling gets the import.orphan_handling config value.
// Returns OrphanAllow (the default) if not set or if the value is invalid.
func (s *Store) GetOrphanHandling(ctx context.Context) OrphanHandling {
	value, err := s.GetConfig(ctx, "import.orphan_handling")
	if err != nil || value == "" {
		return OrphanAllow
	}

	switch OrphanHandling(value) {
	case OrphanStrict, OrphanResurrect, OrphanSkip, OrphanAllow:
		return OrphanHandling(value)
	default:
		return OrphanAllow
	}
}

// SetMetadata sets a metadata value (for internal state like import hashes)
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata gets a metadata value (for internal state like import hashes)
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteMetadata removes a metadata key.
func (s *Store) DeleteMetadata(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	return err
}
