package export

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juanlu12332/beads/internal/jsonl"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/utils"
)

// Metadata keys shared between the export and import sides of the sync engine.
const (
	// MetaJSONLContentHash is the mirror hash at the last successful import
	// or export; staleness detection compares against it.
	MetaJSONLContentHash = "jsonl_content_hash"
	// MetaJSONLFileHash is the mirror hash at the last known good point;
	// the integrity guard compares against it before incremental exports.
	MetaJSONLFileHash = "jsonl_file_hash"
	// MetaLastImportTime gates the mtime fast path of staleness detection.
	MetaLastImportTime = "last_import_time"
	// MetaLastExportTime records when the mirror was last written.
	MetaLastExportTime = "last_export_time"
)

// MirrorStale reports whether the mirror has changed since the last sync
// point and should be imported. An mtime comparison gates the hash
// computation: the file's own metadata is read with Lstat so a symlinked
// mirror is judged as a symlink, and the content hash is only computed when
// the mtime is newer than last_import_time. On hash mismatch the mirror is
// stale; on match it is not.
func MirrorStale(ctx context.Context, store storage.Storage, jsonlPath string) (bool, error) {
	info, err := os.Lstat(jsonlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil // nothing to import
		}
		return false, err
	}

	if lastImport, err := store.GetMetadata(ctx, MetaLastImportTime); err == nil && lastImport != "" {
		if t, perr := time.Parse(time.RFC3339Nano, lastImport); perr == nil {
			if !info.ModTime().After(t) {
				return false, nil // untouched since the last import
			}
		}
	}

	currentHash, err := jsonl.ComputeFileHash(jsonlPath)
	if err != nil {
		return false, err
	}

	lastHash, err := store.GetMetadata(ctx, MetaJSONLContentHash)
	if err != nil {
		return false, err
	}
	if lastHash == "" {
		return true, nil // first contact with this mirror
	}

	return currentHash != lastHash, nil
}

// EnsureIntegrity guards incremental exports against out-of-band mirror
// mutation. When jsonl_file_hash no longer matches the mirror (or the mirror
// is gone), the per-issue export hashes are untrustworthy: they are cleared
// along with the stored file hash, and the caller must run a full export to
// restore convergence. Returns true when a full export is required.
func EnsureIntegrity(ctx context.Context, store storage.Storage, jsonlPath string) (bool, error) {
	storedHash, err := store.GetMetadata(ctx, MetaJSONLFileHash)
	if err != nil {
		return false, err
	}
	if storedHash == "" {
		// Never exported through this path; a full export establishes the baseline
		return true, nil
	}

	currentHash, err := jsonl.ComputeFileHash(jsonlPath)
	if err != nil {
		if os.IsNotExist(err) {
			currentHash = ""
		} else {
			return false, err
		}
	}

	if currentHash == storedHash {
		return false, nil
	}

	if err := store.ClearAllExportHashes(ctx); err != nil {
		return false, err
	}
	if err := store.SetMetadata(ctx, MetaJSONLFileHash, ""); err != nil {
		return false, err
	}
	return true, nil
}

// InferPrefix determines the issue prefix on cold start. When the store lacks
// an issue_prefix config but a mirror exists, the prefix is the common prefix
// of all mirror IDs — and it must be unique, otherwise inference fails over
// to the workspace directory name.
func InferPrefix(ctx context.Context, store storage.Storage, jsonlPath, workspaceDir string) (string, error) {
	if configured, err := store.GetConfig(ctx, "issue_prefix"); err == nil && strings.TrimSpace(configured) != "" {
		return configured, nil
	}

	issues, err := jsonl.ParseFile(jsonlPath)
	if err == nil && len(issues) > 0 {
		prefixes := make(map[string]bool)
		for _, issue := range issues {
			if p := utils.ExtractIssuePrefix(issue.ID); p != "" {
				prefixes[p] = true
			}
		}
		if len(prefixes) == 1 {
			var only []string
			for p := range prefixes {
				only = append(only, p)
			}
			sort.Strings(only)
			return only[0], nil
		}
	}

	// Fall back to the workspace directory name
	base := filepath.Base(utils.CanonicalizePath(workspaceDir))
	base = strings.TrimPrefix(base, ".")
	if base == "" || base == string(filepath.Separator) {
		base = "bd"
	}
	return base, nil
}
