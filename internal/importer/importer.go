// Package importer resolves incoming mirror records against the store.
//
// Records resolve in four phases, in order: external_ref match, content-hash
// match (same ID = idempotent no-op, different ID = rename or cross-project
// skip), ID match with differing content (last-writer-wins on updated_at),
// and finally creation. Tombstone protection runs before every phase:
// a local tombstone is authoritative for the rest of the clone's lifetime.
package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/juanlu12332/beads/internal/debug"
	"github.com/juanlu12332/beads/internal/idgen"
	"github.com/juanlu12332/beads/internal/jsonl"
	"github.com/juanlu12332/beads/internal/lockfile"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/storage/sqlite"
	"github.com/juanlu12332/beads/internal/types"
	"github.com/juanlu12332/beads/internal/utils"
)

// OrphanHandling is an alias to sqlite.OrphanHandling for convenience
type OrphanHandling = sqlite.OrphanHandling

// Orphan handling modes re-exported for callers
const (
	OrphanStrict    = sqlite.OrphanStrict
	OrphanResurrect = sqlite.OrphanResurrect
	OrphanSkip      = sqlite.OrphanSkip
	OrphanAllow     = sqlite.OrphanAllow
)

// Options contains import configuration
type Options struct {
	DryRun                     bool           // Preview changes without applying them
	SkipUpdate                 bool           // Skip updating existing issues (create-only mode)
	Strict                     bool           // Fail on any per-record error instead of skipping
	RenameOnImport             bool           // Rename imported issues to match the workspace prefix
	SkipPrefixValidation       bool           // Skip prefix validation (for auto-import)
	OrphanHandling             OrphanHandling // How to handle missing parent issues (default: allow)
	ClearDuplicateExternalRefs bool           // Clear duplicate external_ref values instead of erroring

	// ProtectLocalExports maps issue ID to a protect-since timestamp: an
	// incoming record whose updated_at is at or before its entry is skipped.
	// This stops round-trip races where a remote clone echoes back a stale
	// version of a locally exported change.
	ProtectLocalExports map[string]time.Time
}

// Result contains statistics about the import operation
type Result struct {
	Created   int // New issues created
	Updated   int // Existing issues updated
	Unchanged int // Existing issues that matched exactly (idempotent)
	Skipped   int // Issues skipped (duplicates, tombstone-protected, stale)
	Renamed   int // Stored identities replaced by incoming ones

	IDMapping        map[string]string // Remapped IDs (old -> new)
	PrefixMismatch   bool              // Prefix mismatch detected
	ExpectedPrefix   string            // Workspace configured prefix
	MismatchPrefixes map[string]int    // Mismatched prefixes to record count

	SkippedDependencies []string // Edges dropped (missing endpoint or would-be cycle)
	TombstonesProtected []string // Incoming records refused by local tombstones
}

// ImportFile imports the mirror file at path: validates the path against the
// workspace, holds the cross-process sync lock for the whole sequence, parses
// (rejecting merge markers before any row is touched), resolves, applies, and
// records freshness metadata.
func ImportFile(ctx context.Context, store *sqlite.Store, workspaceDir, path string, opts Options) (*Result, error) {
	if path == "" {
		path = utils.FindJSONLInDir(workspaceDir)
	}
	if err := utils.ValidateWorkspacePath(workspaceDir, path); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrPathUnsafe, err)
	}

	lock := lockfile.NewSyncLock(workspaceDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	issues, err := jsonl.ParseFile(path)
	if err != nil {
		return nil, err
	}

	result, err := ImportIssues(ctx, store, issues, opts)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		if hash, hashErr := jsonl.ComputeFileHash(path); hashErr == nil {
			_ = store.SetMetadata(ctx, "jsonl_content_hash", hash)
			_ = store.SetMetadata(ctx, "jsonl_file_hash", hash)
		}
		_ = store.SetMetadata(ctx, "last_import_time", time.Now().Format(time.RFC3339Nano))
	}

	return result, nil
}

// ImportIssues resolves parsed mirror records and applies them in one
// transaction. Collision resolution, prefix policy, orphan handling, and
// duplicate-external-ref detection all happen here; on any error the store
// is untouched.
func ImportIssues(ctx context.Context, store *sqlite.Store, issues []*types.Issue, opts Options) (*Result, error) {
	result := &Result{
		IDMapping:        make(map[string]string),
		MismatchPrefixes: make(map[string]int),
	}

	if opts.OrphanHandling == "" {
		opts.OrphanHandling = store.GetOrphanHandling(ctx)
	}

	// Always recompute content hashes: mirror files never carry them and any
	// stale value would corrupt phase-1 matching.
	for _, issue := range issues {
		issue.ContentHash = issue.ComputeContentHash()
	}

	issues, err := applyPrefixPolicy(ctx, store, issues, opts, result)
	if err != nil {
		return result, err
	}

	if err := validateNoDuplicateExternalRefs(issues, opts.ClearDuplicateExternalRefs, result); err != nil {
		return result, err
	}

	plan, err := buildPlan(ctx, store, issues, opts, result)
	if err != nil {
		return result, err
	}

	if opts.DryRun {
		return result, nil
	}

	if plan.Empty() {
		// Even a no-op import invalidates the incremental-export baseline
		if err := store.ClearAllExportHashes(ctx); err != nil {
			return result, fmt.Errorf("failed to clear export hashes: %w", err)
		}
		return result, nil
	}

	if err := store.ApplyImportPlan(ctx, plan, "import"); err != nil {
		return result, err
	}

	if err := store.CheckpointWAL(ctx); err != nil {
		debug.Logf("Warning: failed to checkpoint WAL: %v\n", err)
	}

	return result, nil
}

// applyPrefixPolicy enforces the workspace prefix on incoming records.
// Mismatched tombstones are dropped as noise; live mismatches either fail the
// batch, pass through (SkipPrefixValidation), or are renamed into the
// workspace prefix with every textual reference rewritten.
func applyPrefixPolicy(ctx context.Context, store *sqlite.Store, issues []*types.Issue, opts Options, result *Result) ([]*types.Issue, error) {
	configuredPrefix, err := store.GetConfig(ctx, "issue_prefix")
	if err != nil {
		return nil, fmt.Errorf("failed to get configured prefix: %w", err)
	}
	if strings.TrimSpace(configuredPrefix) == "" {
		if opts.RenameOnImport {
			return nil, fmt.Errorf("cannot rename: issue_prefix not configured")
		}
		return issues, nil
	}

	result.ExpectedPrefix = configuredPrefix

	var liveMismatch bool
	for _, issue := range issues {
		prefix := utils.ExtractIssuePrefix(issue.ID)
		if prefix != configuredPrefix {
			result.PrefixMismatch = true
			result.MismatchPrefixes[prefix]++
			if !issue.IsTombstone() {
				liveMismatch = true
			}
		}
	}

	if !result.PrefixMismatch {
		return issues, nil
	}

	if !liveMismatch && !opts.RenameOnImport {
		// Foreign tombstones are sync noise, not data; drop them silently
		kept := make([]*types.Issue, 0, len(issues))
		for _, issue := range issues {
			if utils.ExtractIssuePrefix(issue.ID) != configuredPrefix && issue.IsTombstone() {
				result.Skipped++
				continue
			}
			kept = append(kept, issue)
		}
		result.PrefixMismatch = false
		result.MismatchPrefixes = make(map[string]int)
		return kept, nil
	}

	if opts.RenameOnImport {
		mapping := RenamePrefixes(issues, configuredPrefix)
		for oldID, newID := range mapping {
			result.IDMapping[oldID] = newID
		}
		result.PrefixMismatch = false
		result.MismatchPrefixes = make(map[string]int)
		return issues, nil
	}

	if opts.SkipPrefixValidation {
		return issues, nil
	}

	return nil, fmt.Errorf("%w: workspace uses %q but batch contains prefixes %v (enable rename-on-import to rewrite)",
		storage.ErrPrefixMismatch, configuredPrefix, prefixList(result.MismatchPrefixes))
}

// buildPlan runs the phase resolution against a read snapshot of the store.
func buildPlan(ctx context.Context, store *sqlite.Store, issues []*types.Issue, opts Options, result *Result) (*sqlite.ImportPlan, error) {
	dbIssues, err := store.SearchIssues(ctx, "", types.IssueFilter{IncludeTombstones: true})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}
	allDeps, err := store.GetAllDependencyRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot dependencies: %w", err)
	}

	dbByID := make(map[string]*types.Issue, len(dbIssues))
	dbByHash := make(map[string]*types.Issue, len(dbIssues))
	dbByExternalRef := make(map[string]*types.Issue)
	for _, issue := range dbIssues {
		issue.Dependencies = allDeps[issue.ID]
		// Hash over the fully populated record (labels + deps participate)
		issue.ContentHash = issue.ComputeContentHash()
		dbByID[issue.ID] = issue
		if issue.IsTombstone() {
			continue
		}
		dbByHash[issue.ContentHash] = issue
		if issue.ExternalRef != nil && *issue.ExternalRef != "" {
			dbByExternalRef[*issue.ExternalRef] = issue
		}
	}

	// Unknown statuses and kinds round-trip as-is: the plan's apply path
	// relies on the schema's CHECK constraints, never on the API validators.
	plan := &sqlite.ImportPlan{}
	var newIssues []*types.Issue
	seenHashes := make(map[string]bool)

	for _, incoming := range issues {
		hash := incoming.ContentHash

		// Duplicate content within the batch collapses to one record
		if seenHashes[hash] {
			result.Skipped++
			continue
		}
		seenHashes[hash] = true

		// Tombstone protection runs before any phase: once deleted locally,
		// an identity never resurrects from an import, however new the
		// incoming record claims to be.
		if existing, ok := dbByID[incoming.ID]; ok && existing.IsTombstone() {
			if incoming.IsTombstone() {
				result.Unchanged++
			} else {
				result.Skipped++
				result.TombstonesProtected = append(result.TombstonesProtected, incoming.ID)
			}
			continue
		}

		// Timestamp-aware local protection against round-trip echo
		if protectSince, ok := opts.ProtectLocalExports[incoming.ID]; ok {
			if !incoming.UpdatedAt.After(protectSince) {
				result.Skipped++
				continue
			}
		}

		// Phase 0: match by external_ref (re-sync from external trackers)
		if incoming.ExternalRef != nil && *incoming.ExternalRef != "" {
			if existing, found := dbByExternalRef[*incoming.ExternalRef]; found {
				resolvePhase0(incoming, existing, opts, plan, result)
				continue
			}
		}

		// Phase 1: match by content hash
		if existing, found := dbByHash[hash]; found {
			if existing.ID == incoming.ID {
				// Idempotent no-op for the row; comments aren't hashed, so
				// incoming comment additions still ride along
				result.Unchanged++
				planRelationDeltas(ctx, store, incoming, existing, plan)
			} else if utils.ExtractIssuePrefix(existing.ID) == utils.ExtractIssuePrefix(incoming.ID) {
				// Same content, same prefix, different ID: a rename
				if opts.SkipUpdate {
					result.Skipped++
				} else {
					plan.Renames = append(plan.Renames, sqlite.ImportRename{OldID: existing.ID, Issue: incoming})
					result.IDMapping[existing.ID] = incoming.ID
					result.Renamed++
					delete(dbByID, existing.ID)
					dbByID[incoming.ID] = incoming
				}
			} else {
				// Cross-project duplicate content: leave both alone
				result.Skipped++
			}
			continue
		}

		// Phase 2: ID exists with different content — last writer wins
		if existing, found := dbByID[incoming.ID]; found {
			if opts.SkipUpdate {
				result.Skipped++
				continue
			}
			if !incoming.UpdatedAt.After(existing.UpdatedAt) {
				result.Unchanged++
				continue
			}
			if existing.CreatedAt.Before(incoming.CreatedAt) {
				incoming.CreatedAt = existing.CreatedAt
			}
			update := *incoming
			update.Dependencies = nil // relation deltas land separately
			plan.Updates = append(plan.Updates, &update)
			result.Updated++
			planRelationDeltas(ctx, store, incoming, existing, plan)
			continue
		}

		// Phase 3: no match — create
		newIssues = append(newIssues, incoming)
	}

	if err := resolveOrphans(newIssues, dbByID, opts, plan, result); err != nil {
		return nil, err
	}

	// Parents before children, stable within a depth level
	sort.SliceStable(plan.Creates, func(i, j int) bool {
		di, dj := idgen.Depth(plan.Creates[i].ID), idgen.Depth(plan.Creates[j].ID)
		if di != dj {
			return di < dj
		}
		return plan.Creates[i].ID < plan.Creates[j].ID
	})
	result.Created = len(plan.Creates)

	if err := pruneInvalidEdges(plan, dbByID, allDeps, result, opts); err != nil {
		return nil, err
	}

	return plan, nil
}

// resolvePhase0 updates an existing issue matched by external_ref. The
// incoming record wins only when strictly newer. Empty incoming assignee and
// external_ref clear the stored values; an unset pinned flag never clears a
// true one.
func resolvePhase0(incoming, existing *types.Issue, opts Options, plan *sqlite.ImportPlan, result *Result) {
	if opts.SkipUpdate {
		result.Skipped++
		return
	}
	if !incoming.UpdatedAt.After(existing.UpdatedAt) {
		result.Unchanged++
		return
	}

	update := *incoming
	update.ID = existing.ID
	update.CreatedAt = existing.CreatedAt
	if existing.Pinned && !incoming.Pinned {
		update.Pinned = true
	}
	update.Dependencies = nil
	plan.Updates = append(plan.Updates, &update)
	result.Updated++
}

// planRelationDeltas adds missing labels, dependencies, and comments of an
// incoming record for an issue that already exists.
func planRelationDeltas(ctx context.Context, store *sqlite.Store, incoming, existing *types.Issue, plan *sqlite.ImportPlan) {
	existingLabels := make(map[string]bool, len(existing.Labels))
	for _, label := range existing.Labels {
		existingLabels[label] = true
	}
	for _, label := range incoming.Labels {
		if !existingLabels[label] {
			plan.Labels = append(plan.Labels, types.Label{IssueID: existing.ID, Label: label})
		}
	}

	existingDeps := make(map[string]bool, len(existing.Dependencies))
	for _, dep := range existing.Dependencies {
		existingDeps[dep.DependsOnID] = true
	}
	for _, dep := range incoming.Dependencies {
		if !existingDeps[dep.DependsOnID] {
			edge := *dep
			edge.IssueID = existing.ID
			plan.Deps = append(plan.Deps, &edge)
		}
	}

	if len(incoming.Comments) > 0 {
		// Dedupe by author plus trimmed text; dedupe happens only on import
		current, err := store.GetIssueComments(ctx, existing.ID)
		if err != nil {
			current = nil
		}
		seen := make(map[string]bool, len(current))
		for _, c := range current {
			seen[c.Author+":"+strings.TrimSpace(c.Text)] = true
		}
		for _, c := range incoming.Comments {
			key := c.Author + ":" + strings.TrimSpace(c.Text)
			if !seen[key] {
				seen[key] = true
				comment := *c
				comment.IssueID = existing.ID
				plan.Comments = append(plan.Comments, &comment)
			}
		}
	}
}

// resolveOrphans applies the orphan policy to new issues whose parent-child
// target is neither in the store nor in the batch.
func resolveOrphans(newIssues []*types.Issue, dbByID map[string]*types.Issue, opts Options, plan *sqlite.ImportPlan, result *Result) error {
	batchIDs := make(map[string]*types.Issue, len(newIssues))
	for _, issue := range newIssues {
		batchIDs[issue.ID] = issue
	}

	known := func(id string) bool {
		if _, ok := dbByID[id]; ok {
			return true
		}
		_, ok := batchIDs[id]
		return ok
	}

	var resurrected []*types.Issue
	for _, issue := range newIssues {
		missingParent := ""
		for _, dep := range issue.Dependencies {
			if dep.Type == types.DepParentChild && !types.IsExternalSentinel(dep.DependsOnID) && !known(dep.DependsOnID) {
				missingParent = dep.DependsOnID
				break
			}
		}
		if missingParent == "" {
			if isChild, parentID := idgen.IsHierarchicalID(issue.ID); isChild && !known(parentID) {
				missingParent = parentID
			}
		}

		if missingParent == "" {
			plan.Creates = append(plan.Creates, issue)
			continue
		}

		switch opts.OrphanHandling {
		case OrphanStrict:
			return fmt.Errorf("%w: issue %s references missing parent %s", storage.ErrConflict, issue.ID, missingParent)
		case OrphanSkip:
			debug.Logf("Skipping orphan %s (missing parent %s)\n", issue.ID, missingParent)
			result.Skipped++
		case OrphanResurrect:
			// Walk the ancestor chain, resurrecting every missing link
			for id := missingParent; id != "" && !known(id); {
				placeholder := resurrectPlaceholder(id, batchIDs)
				resurrected = append(resurrected, placeholder)
				batchIDs[id] = placeholder
				if isChild, parent := idgen.IsHierarchicalID(id); isChild {
					id = parent
				} else {
					id = ""
				}
			}
			plan.Creates = append(plan.Creates, issue)
		default: // OrphanAllow
			plan.Creates = append(plan.Creates, issue)
		}
	}

	plan.Creates = append(plan.Creates, resurrected...)
	return nil
}

// resurrectPlaceholder builds a closed stand-in for a missing parent. It is
// only called for IDs that neither the batch nor the store holds, so the
// placeholder is always a closed "(resurrected)" task; no earlier version of
// the parent is consulted.
func resurrectPlaceholder(id string, batch map[string]*types.Issue) *types.Issue {
	now := time.Now()
	closedAt := now

	title := "(resurrected)"
	issueType := types.TypeTask
	if prior, ok := batch[id]; ok {
		if prior.Title != "" {
			title = prior.Title
		}
		if prior.IssueType != "" {
			issueType = prior.IssueType
		}
	}

	return &types.Issue{
		ID:          id,
		Title:       title,
		Status:      types.StatusClosed,
		Priority:    2,
		IssueType:   issueType,
		CreatedAt:   now,
		UpdatedAt:   now,
		ClosedAt:    &closedAt,
		CloseReason: "resurrected placeholder for missing parent",
	}
}

// pruneInvalidEdges drops planned edges whose endpoints are missing or that
// would close a blocking cycle. Strict mode turns any drop into a failure.
// Cycle validation happens here, against the post-import graph, so the
// transactional apply never has to unwind half a batch.
func pruneInvalidEdges(plan *sqlite.ImportPlan, dbByID map[string]*types.Issue, allDeps map[string][]*types.Dependency, result *Result, opts Options) error {
	known := make(map[string]bool, len(dbByID)+len(plan.Creates))
	for id := range dbByID {
		known[id] = true
	}
	for _, issue := range plan.Creates {
		known[issue.ID] = true
	}

	// Post-import blocking graph: existing edges plus everything planned
	graph := make(map[string][]string)
	addEdge := func(dep *types.Dependency) {
		if dep.Type.AffectsReadyWork() {
			graph[dep.IssueID] = append(graph[dep.IssueID], dep.DependsOnID)
		}
	}
	for _, deps := range allDeps {
		for _, dep := range deps {
			addEdge(dep)
		}
	}

	reaches := func(from, to string) bool {
		if from == to {
			return true
		}
		visited := map[string]bool{}
		stack := []string{from}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if node == to {
				return true
			}
			if visited[node] {
				continue
			}
			visited[node] = true
			stack = append(stack, graph[node]...)
		}
		return false
	}

	admit := func(dep *types.Dependency) (bool, string) {
		if !types.IsExternalSentinel(dep.DependsOnID) && !known[dep.DependsOnID] {
			if opts.OrphanHandling == OrphanAllow {
				// Edge kept without validation: no FK on depends_on_id
				return true, ""
			}
			return false, "missing endpoint"
		}
		if dep.Type.AffectsReadyWork() && reaches(dep.DependsOnID, dep.IssueID) {
			return false, "would create a cycle"
		}
		return true, ""
	}

	for _, issue := range plan.Creates {
		kept := issue.Dependencies[:0]
		for _, dep := range issue.Dependencies {
			dep.IssueID = issue.ID
			ok, reason := admit(dep)
			if !ok {
				desc := fmt.Sprintf("%s → %s (%s): %s", dep.IssueID, dep.DependsOnID, dep.Type, reason)
				if opts.Strict {
					return fmt.Errorf("%w: dependency %s", storage.ErrConflict, desc)
				}
				result.SkippedDependencies = append(result.SkippedDependencies, desc)
				continue
			}
			kept = append(kept, dep)
			addEdge(dep)
		}
		issue.Dependencies = kept
	}

	keptDeps := plan.Deps[:0]
	for _, dep := range plan.Deps {
		ok, reason := admit(dep)
		if !ok {
			desc := fmt.Sprintf("%s → %s (%s): %s", dep.IssueID, dep.DependsOnID, dep.Type, reason)
			if opts.Strict {
				return fmt.Errorf("%w: dependency %s", storage.ErrConflict, desc)
			}
			result.SkippedDependencies = append(result.SkippedDependencies, desc)
			continue
		}
		keptDeps = append(keptDeps, dep)
		addEdge(dep)
	}
	plan.Deps = keptDeps

	return nil
}

func validateNoDuplicateExternalRefs(issues []*types.Issue, clearDuplicates bool, result *Result) error {
	seen := make(map[string][]string)
	for _, issue := range issues {
		if issue.ExternalRef != nil && *issue.ExternalRef != "" {
			ref := *issue.ExternalRef
			seen[ref] = append(seen[ref], issue.ID)
		}
	}

	var duplicates []string
	duplicateIssueIDs := make(map[string]bool)
	for ref, issueIDs := range seen {
		if len(issueIDs) > 1 {
			duplicates = append(duplicates, fmt.Sprintf("external_ref %q appears in issues: %v", ref, issueIDs))
			// Keep the first occurrence, clear the rest
			for i := 1; i < len(issueIDs); i++ {
				duplicateIssueIDs[issueIDs[i]] = true
			}
		}
	}

	if len(duplicates) == 0 {
		return nil
	}

	if clearDuplicates {
		for _, issue := range issues {
			if duplicateIssueIDs[issue.ID] {
				issue.ExternalRef = nil
				issue.ContentHash = issue.ComputeContentHash()
			}
		}
		if result != nil {
			result.Skipped += len(duplicateIssueIDs)
		}
		return nil
	}

	sort.Strings(duplicates)
	return fmt.Errorf("%w: batch contains duplicate external_ref values:\n%s",
		storage.ErrCorruptInput, strings.Join(duplicates, "\n"))
}

func prefixList(prefixes map[string]int) []string {
	keys := make([]string, 0, len(prefixes))
	for k := range prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result []string
	for _, prefix := range keys {
		result = append(result, fmt.Sprintf("%s- (%d issues)", prefix, prefixes[prefix]))
	}
	return result
}
