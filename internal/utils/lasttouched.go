package utils

import (
	"os"
	"path/filepath"
	"strings"
)

const lastTouchedFile = "last-touched"

// CacheDirEnv overrides where transient files like last-touched are stored.
// Useful for monorepo setups where the workspace directory is checked into
// version control but transient cache files should live elsewhere.
const CacheDirEnv = "BEADS_CACHE_DIR"

// ResolveCacheDir returns the effective cache directory for transient files:
// BEADS_CACHE_DIR when set, otherwise the workspace directory itself.
func ResolveCacheDir(workspaceDir string) string {
	if cacheDir := os.Getenv(CacheDirEnv); cacheDir != "" {
		return cacheDir
	}
	return workspaceDir
}

// LastTouchedPath builds the path to the last-touched file.
func LastTouchedPath(workspaceDir string) string {
	return filepath.Join(ResolveCacheDir(workspaceDir), lastTouchedFile)
}

// SetLastTouchedID records the last issue ID the user interacted with.
// Best-effort: errors are ignored. The value lives in a cache file as a
// convenience for ID resolution; it is not persistent state of the store.
func SetLastTouchedID(workspaceDir, id string) {
	path := LastTouchedPath(workspaceDir)
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	_ = os.WriteFile(path, []byte(id+"\n"), 0o600)
}

// GetLastTouchedID reads the last-touched issue ID.
// Returns an empty string if the file is missing or unreadable.
func GetLastTouchedID(workspaceDir string) string {
	data, err := os.ReadFile(LastTouchedPath(workspaceDir)) // #nosec G304 - controlled path
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

// ClearLastTouched removes the last-touched file (best effort).
func ClearLastTouched(workspaceDir string) {
	_ = os.Remove(LastTouchedPath(workspaceDir))
}
