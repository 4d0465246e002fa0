// Package export writes the textual mirror: an atomic, deterministic JSONL
// snapshot of the store, with content-hash-driven incremental skipping.
package export

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/juanlu12332/beads/internal/debug"
	"github.com/juanlu12332/beads/internal/jsonl"
	"github.com/juanlu12332/beads/internal/lockfile"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
	"github.com/juanlu12332/beads/internal/utils"
)

// Options controls a single export run.
type Options struct {
	// Full exports every issue regardless of dirty state.
	Full bool
	// Force overrides the empty-store refusal. Without it, a full export of a
	// non-empty mirror from a store with zero issues is refused: that shape
	// almost always means a corrupt or freshly re-initialized store, and
	// overwriting would destroy the only surviving copy.
	Force bool
	// SharedWorkspace widens the mirror mode to 0644 for multi-user shares
	// (default 0600).
	SharedWorkspace bool
}

// Result reports what an export did.
type Result struct {
	Written int  // Issues written to the mirror
	Skipped int  // Dirty issues skipped because their content hash was unchanged
	NoOp    bool // Nothing dirty and nothing forced; mirror untouched
}

// Exporter writes mirror snapshots for one workspace.
type Exporter struct {
	store        storage.Storage
	workspaceDir string
	jsonlPath    string
}

// New builds an Exporter. The mirror path must canonicalize into the
// workspace directory; anything else is rejected here, before any I/O.
func New(store storage.Storage, workspaceDir, jsonlPath string) (*Exporter, error) {
	if jsonlPath == "" {
		jsonlPath = utils.FindJSONLInDir(workspaceDir)
	}
	if err := utils.ValidateWorkspacePath(workspaceDir, jsonlPath); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrPathUnsafe, err)
	}
	return &Exporter{store: store, workspaceDir: workspaceDir, jsonlPath: jsonlPath}, nil
}

// JSONLPath returns the validated mirror path.
func (e *Exporter) JSONLPath() string {
	return e.jsonlPath
}

// Export runs the atomic export pipeline:
//
//  1. Acquire the dirty snapshot (incremental) or full set (full export).
//  2. Filter: exclude ephemerals, include tombstones, sort by ID.
//  3. Recompute content_hash for each record; the stored hash is never
//     trusted at this stage.
//  4. Write a temp sibling file, flush and fsync it.
//  5. Atomically rename into place; on failure, remove the temp file and
//     leave the existing mirror untouched.
//  6. Record export hashes and metadata.
//  7. Clear only the dirty bits for IDs actually written.
//
// Incremental runs whose dirty issues all hash identically to their last
// export clear those dirty bits and touch nothing else.
func (e *Exporter) Export(ctx context.Context, opts Options) (*Result, error) {
	lock := lockfile.NewSyncLock(e.workspaceDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	result := &Result{}

	dirtyIDs, err := e.store.GetDirtyIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dirty issues: %w", err)
	}

	if !opts.Full && len(dirtyIDs) == 0 {
		result.NoOp = true
		return result, nil
	}

	// Tombstones are exported so they propagate to other clones and prevent
	// resurrection; ephemerals never leave the local store.
	issues, err := e.store.SearchIssues(ctx, "", types.IssueFilter{IncludeTombstones: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get issues: %w", err)
	}

	filtered := make([]*types.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.Ephemeral {
			continue
		}
		filtered = append(filtered, issue)
	}
	issues = filtered

	// Safety check: refuse to export an empty store over a non-empty mirror
	if len(issues) == 0 && !opts.Force {
		existingCount, countErr := jsonl.CountIssues(e.jsonlPath)
		if countErr != nil && !os.IsNotExist(countErr) {
			return nil, fmt.Errorf("failed to read existing mirror: %w", countErr)
		}
		if countErr == nil && existingCount > 0 {
			return nil, fmt.Errorf("%w: refusing to export empty store over non-empty mirror (%d issues); pass Force to override",
				storage.ErrConflict, existingCount)
		}
	}

	// Sort by ID for deterministic output
	slices.SortFunc(issues, func(a, b *types.Issue) int {
		return cmp.Compare(a.ID, b.ID)
	})

	// Populate relations once (avoid N+1)
	allDeps, err := e.store.GetAllDependencyRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	for _, issue := range issues {
		issue.Dependencies = allDeps[issue.ID]
		comments, err := e.store.GetIssueComments(ctx, issue.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get comments for %s: %w", issue.ID, err)
		}
		issue.Comments = comments
	}

	// Recompute content hashes against the fully populated records
	hashes := make(map[string]string, len(issues))
	for _, issue := range issues {
		issue.ContentHash = issue.ComputeContentHash()
		hashes[issue.ID] = issue.ContentHash
	}

	// Incremental fast path: when every dirty issue hashes identically to its
	// last export, skip the write and just clear the dirty bits.
	if !opts.Full {
		changed := false
		for _, id := range dirtyIDs {
			stored, err := e.store.GetExportHash(ctx, id)
			if err != nil {
				return nil, err
			}
			current, ok := hashes[id]
			if !ok || stored == "" || stored != current {
				changed = true
				break
			}
			result.Skipped++
		}
		if !changed {
			if err := e.store.ClearDirtyIssuesByID(ctx, dirtyIDs); err != nil {
				return nil, fmt.Errorf("failed to clear dirty flags: %w", err)
			}
			result.NoOp = true
			return result, nil
		}
		result.Skipped = 0
	}

	if err := e.writeAtomic(issues, opts); err != nil {
		return nil, err
	}
	result.Written = len(issues)

	if err := e.store.BatchSetExportHashes(ctx, hashes); err != nil {
		return nil, fmt.Errorf("failed to record export hashes: %w", err)
	}

	// Clear dirty bits only for IDs actually written. A dirty ephemeral stays
	// dirty-free too: it was intentionally excluded, so drop its bit as well
	// when it appears in the dirty set.
	written := make([]string, 0, len(issues))
	for _, issue := range issues {
		written = append(written, issue.ID)
	}
	for _, id := range dirtyIDs {
		if _, ok := hashes[id]; !ok {
			written = append(written, id)
		}
	}
	if err := e.store.ClearDirtyIssuesByID(ctx, written); err != nil {
		return nil, fmt.Errorf("failed to clear dirty flags: %w", err)
	}

	// Content-based staleness tracking: after export, store and mirror agree
	if currentHash, err := jsonl.ComputeFileHash(e.jsonlPath); err == nil {
		if err := e.store.SetMetadata(ctx, MetaJSONLContentHash, currentHash); err != nil {
			debug.Logf("Warning: failed to update %s: %v\n", MetaJSONLContentHash, err)
		}
		if err := e.store.SetMetadata(ctx, MetaJSONLFileHash, currentHash); err != nil {
			debug.Logf("Warning: failed to update %s: %v\n", MetaJSONLFileHash, err)
		}
		if err := e.store.SetMetadata(ctx, MetaLastExportTime, time.Now().Format(time.RFC3339Nano)); err != nil {
			debug.Logf("Warning: failed to update %s: %v\n", MetaLastExportTime, err)
		}
	}

	return result, nil
}

// writeAtomic writes the snapshot to a temp sibling and renames into place.
func (e *Exporter) writeAtomic(issues []*types.Issue, opts Options) error {
	dir := filepath.Dir(e.jsonlPath)
	base := filepath.Base(e.jsonlPath)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	mode := os.FileMode(0o600)
	if opts.SharedWorkspace {
		mode = 0o644
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}

	if err := jsonl.WriteIssues(tempFile, issues); err != nil {
		return err
	}

	// Flush user buffers then fsync before the rename makes it visible
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync mirror: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Write through symlinks rather than replacing them
	target, err := utils.ResolveForWrite(e.jsonlPath)
	if err != nil {
		return fmt.Errorf("failed to resolve mirror path: %w", err)
	}
	if target != e.jsonlPath {
		if err := utils.ValidateWorkspacePath(e.workspaceDir, target); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrPathUnsafe, err)
		}
	}

	if err := utils.DefaultRenameRetry(tempPath, target); err != nil {
		return fmt.Errorf("failed to replace mirror: %w", err)
	}

	return nil
}
