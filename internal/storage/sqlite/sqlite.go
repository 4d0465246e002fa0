// Package sqlite implements the storage interface using SQLite.
//
// This package is split into focused files:
//
// Core storage components:
//   - store.go: Store struct, New() constructor, pragmas, WASM cache setup,
//     and database utility methods (Close, Path, CheckpointWAL, UnderlyingDB)
//   - issues.go: Issue CRUD including CreateIssue, GetIssue, UpdateIssue,
//     CloseIssue, ReopenIssue
//   - delete.go: soft delete (tombstones), hard delete, restore
//   - search.go: SearchIssues, GetStatistics
//   - config.go: Configuration and metadata management
//
// Supporting components:
//   - schema.go: Database schema definitions
//   - migrations.go: Forward-only schema migration logic
//   - dependencies.go: Dependency management, cycle detection, tree traversal
//   - labels.go: Label operations
//   - comments.go: Comment operations
//   - events.go: Audit trail reads
//   - dirty.go: Dirty issue tracking and export hashes for incremental export
//   - blocked_cache.go: Blocked-issue materialization
//   - ready.go: Ready-work and blocked-work queries
//   - ids.go: Hash-based ID generation
//   - txn.go: Immediate-lock transaction plumbing with busy backoff
//   - validators.go: Input validation functions
//   - parsing.go: Scan/format helpers
package sqlite
