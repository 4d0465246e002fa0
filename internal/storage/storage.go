// Package storage provides shared types for issue storage.
//
// The concrete storage implementation lives in the sqlite sub-package.
// This package holds interface and value types that are referenced by
// both the sqlite implementation and its consumers (export, importer, etc.).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/juanlu12332/beads/internal/types"
)

// Sentinel errors with stable kind tags. Consumers classify failures with
// errors.Is rather than string matching; the wrapped message carries the
// human description.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousID is returned when partial-ID resolution matches more than
	// one issue. The error message lists the candidates.
	ErrAmbiguousID = errors.New("ambiguous id")

	// ErrValidation is returned for invalid field values (title bounds,
	// priority range, unknown status/kind, self-dependency, malformed
	// external sentinel).
	ErrValidation = errors.New("validation failed")

	// ErrCycle is returned when a blocking dependency would create a cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrConflict is returned for unique constraint violations and import
	// collisions that cannot be resolved under the active policy.
	ErrConflict = errors.New("conflict")

	// ErrPrefixMismatch is returned when an issue ID does not match the
	// configured prefix and no rename policy is in effect.
	ErrPrefixMismatch = errors.New("prefix mismatch")

	// ErrCorruptInput is returned for merge markers, invalid JSON, or
	// duplicate IDs in an import batch. No partial write occurs.
	ErrCorruptInput = errors.New("corrupt input")

	// ErrPathUnsafe is returned before any I/O when a mirror path does not
	// canonicalize into the workspace.
	ErrPathUnsafe = errors.New("unsafe path")

	// ErrLocked is returned when the database stays busy beyond the backoff
	// budget. Callers may retry.
	ErrLocked = errors.New("database locked")

	// ErrNotInitialized is returned when the database has not been initialized
	// (e.g., issue_prefix config is missing).
	ErrNotInitialized = errors.New("database not initialized")
)

// Storage is the interface satisfied by *sqlite.Store.
// Consumers depend on this interface rather than on the concrete type so that
// decorators (telemetry instrumentation, mocks) can be substituted.
type Storage interface {
	// Issue CRUD
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	CreateIssues(ctx context.Context, issues []*types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	GetIssueIncludingTombstones(ctx context.Context, id string) (*types.Issue, error)
	GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error)
	UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error
	CloseIssue(ctx context.Context, id, reason, actor, session string, force bool) error
	ReopenIssue(ctx context.Context, id, actor string) error
	DeleteIssue(ctx context.Context, id, deletedBy, reason string) error
	HardDeleteIssue(ctx context.Context, id string) error
	RestoreIssue(ctx context.Context, id, actor string) error
	SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error
	GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error)
	GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error)
	GetDependencyTree(ctx context.Context, issueID string, direction types.TreeDirection, maxDepth int, showAllPaths bool) ([]*types.TreeNode, error)

	// Labels
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RemoveLabel(ctx context.Context, issueID, label, actor string) error
	GetLabels(ctx context.Context, issueID string) ([]string, error)

	// Work queries
	GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error)
	GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error)

	// Comments and events
	AddIssueComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	ImportIssueComment(ctx context.Context, issueID, author, text string, createdAt time.Time) (*types.Comment, error)
	GetIssueComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error)
	GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error)

	// Dirty tracking and export hashes (incremental export)
	MarkIssueDirty(ctx context.Context, issueID string) error
	GetDirtyIssues(ctx context.Context) ([]string, error)
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error
	GetExportHash(ctx context.Context, issueID string) (string, error)
	BatchSetExportHashes(ctx context.Context, hashes map[string]string) error
	ClearAllExportHashes(ctx context.Context) error
	HasEverBeenExported(ctx context.Context, issueID string) (bool, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Configuration and metadata
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Lifecycle
	Close() error
}

// ExternalResolver resolves external dependency sentinels
// (external:<project>:<capability>) against foreign workspaces. Resolution is
// pull-only: the core never opens another workspace's store on its own; the
// collaborator supplies an implementation when it wants sentinel statuses in
// dependency trees and ready-work filtering.
type ExternalResolver interface {
	// Resolve reports whether the named project has a closed issue carrying
	// the provides:<capability> label.
	Resolve(ctx context.Context, project, capability string) (satisfied bool, err error)
}
