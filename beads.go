// Package beads provides the public API of the issue graph and sync engine.
//
// The core couples a relational, content-addressed store of work items with
// an append-only textual mirror (issues.jsonl) suitable for distributed
// version control. Callers open a workspace, mutate issues through the
// Storage interface, and run export/import to keep the mirror converged.
//
// The core performs no hidden I/O: it never invokes a version-control tool,
// spawns a process, or touches paths outside the workspace.
package beads

import (
	"context"

	"github.com/juanlu12332/beads/internal/export"
	"github.com/juanlu12332/beads/internal/importer"
	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/storage/sqlite"
	"github.com/juanlu12332/beads/internal/telemetry"
	"github.com/juanlu12332/beads/internal/types"
)

// Version is the library version, overridable at link time.
var Version = "dev"

// Core types for working with issues
type (
	Issue       = types.Issue
	Status      = types.Status
	IssueType   = types.IssueType
	Dependency  = types.Dependency
	Comment     = types.Comment
	Event       = types.Event
	WorkFilter  = types.WorkFilter
	IssueFilter = types.IssueFilter
	TreeNode    = types.TreeNode
)

// Status constants
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusDeferred   = types.StatusDeferred
	StatusClosed     = types.StatusClosed
	StatusTombstone  = types.StatusTombstone
	StatusPinned     = types.StatusPinned
)

// IssueType constants
const (
	TypeBug      = types.TypeBug
	TypeFeature  = types.TypeFeature
	TypeTask     = types.TypeTask
	TypeEpic     = types.TypeEpic
	TypeChore    = types.TypeChore
	TypeDocs     = types.TypeDocs
	TypeQuestion = types.TypeQuestion
)

// Storage is the issue graph engine's operation surface.
type Storage = storage.Storage

// ImportOptions and ExportOptions parameterize the sync engine.
type (
	ImportOptions = importer.Options
	ImportResult  = importer.Result
	ExportOptions = export.Options
	ExportResult  = export.Result
)

// Open opens (creating if necessary) the relational store at dbPath and
// returns it wrapped with telemetry instrumentation when enabled.
func Open(ctx context.Context, dbPath string) (Storage, error) {
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return telemetry.WrapStorage(store), nil
}
