// Package types defines core data structures for the bd issue tracker.
package types

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Issue represents a trackable work item
type Issue struct {
	ID                 string    `json:"id"`
	ContentHash        string    `json:"-"` // Internal: SHA256 hash of canonical content (excludes ID, timestamps) - NOT exported to JSONL
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Design             string    `json:"design,omitempty"`
	AcceptanceCriteria string    `json:"acceptance_criteria,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	Status             Status    `json:"status,omitempty"`
	Priority           int       `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	IssueType          IssueType `json:"issue_type,omitempty"`
	Assignee           string    `json:"assignee,omitempty"`
	Owner              string    `json:"owner,omitempty"`
	EstimatedMinutes   *int      `json:"estimated_minutes,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	CloseReason     string `json:"close_reason,omitempty"`      // Reason provided when closing the issue
	ClosedBySession string `json:"closed_by_session,omitempty"` // Session identifier that closed the issue

	DueAt      *time.Time `json:"due_at,omitempty"`
	DeferUntil *time.Time `json:"defer_until,omitempty"` // Hidden from ready work until this time

	ExternalRef  *string `json:"external_ref,omitempty"` // e.g., "gh-9", "jira-ABC"
	SourceSystem string  `json:"source_system,omitempty"`

	// Tombstone fields: inline soft-delete support
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`    // When the issue was deleted
	DeletedBy    string     `json:"deleted_by,omitempty"`    // Who deleted the issue
	DeleteReason string     `json:"delete_reason,omitempty"` // Why the issue was deleted
	OriginalType string     `json:"original_type,omitempty"` // Issue type before deletion (for tombstones)

	// Pinned issues are persistent context markers, not actionable work
	Pinned bool `json:"pinned,omitempty"`
	// Templates are read-only and never appear in ready work
	IsTemplate bool `json:"is_template,omitempty"`
	// Ephemeral issues exist only in the local store and are never exported
	Ephemeral bool `json:"ephemeral,omitempty"`

	Labels       []string      `json:"labels,omitempty"`       // Populated only for export/import
	Dependencies []*Dependency `json:"dependencies,omitempty"` // Populated only for export/import
	Comments     []*Comment    `json:"comments,omitempty"`     // Populated only for export/import
}

// ComputeContentHash creates a deterministic hash of the issue's content.
// Uses all substantive fields (excluding ID, timestamps, and internal routing
// fields) so that identical content produces identical hashes across all clones.
// Labels and dependencies participate in sorted order; every field contributes
// its raw UTF-8 bytes followed by a NUL separator, so the hash is stable without
// any JSON framing.
func (i *Issue) ComputeContentHash() string {
	h := sha256.New()

	writeField := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	writeField(i.Title)
	writeField(i.Description)
	writeField(i.Design)
	writeField(i.AcceptanceCriteria)
	writeField(i.Notes)
	writeField(string(i.Status))
	writeField(fmt.Sprintf("%d", i.Priority))
	writeField(string(i.IssueType))
	writeField(i.Assignee)
	writeField(i.Owner)
	writeField(i.CreatedBy)
	if i.ExternalRef != nil {
		h.Write([]byte(*i.ExternalRef))
	}
	h.Write([]byte{0})
	writeField(i.SourceSystem)
	writeField(i.CloseReason)
	writeField(i.ClosedBySession)
	writeField(i.DeletedBy)
	writeField(i.DeleteReason)
	writeField(i.OriginalType)
	if i.Pinned {
		h.Write([]byte("pinned"))
	}
	h.Write([]byte{0})
	if i.IsTemplate {
		h.Write([]byte("template"))
	}
	h.Write([]byte{0})
	if i.Ephemeral {
		h.Write([]byte("ephemeral"))
	}
	h.Write([]byte{0})

	labels := make([]string, len(i.Labels))
	copy(labels, i.Labels)
	sort.Strings(labels)
	for _, label := range labels {
		writeField(label)
	}

	deps := make([]string, 0, len(i.Dependencies))
	for _, d := range i.Dependencies {
		deps = append(deps, fmt.Sprintf("%s|%s|%s", d.DependsOnID, d.Type, d.Metadata))
	}
	sort.Strings(deps)
	for _, dep := range deps {
		writeField(dep)
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsTombstone returns true if the issue has been soft-deleted
func (i *Issue) IsTombstone() bool {
	return i.Status == StatusTombstone
}

// Validate checks if the issue has valid field values (built-in statuses and types only)
func (i *Issue) Validate() error {
	return i.ValidateWithCustom(nil, nil)
}

// ValidateWithCustom checks if the issue has valid field values, allowing
// workspace-declared custom statuses and issue types in addition to built-ins.
func (i *Issue) ValidateWithCustom(customStatuses, customTypes []string) error {
	title := strings.TrimSpace(i.Title)
	if len(title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValidWithCustom(customStatuses) {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.IssueType.IsValidWithCustom(customTypes) {
		return fmt.Errorf("invalid issue type: %s", i.IssueType)
	}
	if i.EstimatedMinutes != nil && *i.EstimatedMinutes < 0 {
		return fmt.Errorf("estimated_minutes cannot be negative")
	}
	// Enforce closed_at invariant: closed_at is set if and only if status is
	// closed. Tombstones may retain closed_at from before deletion.
	if i.Status == StatusClosed && i.ClosedAt == nil {
		return fmt.Errorf("closed issues must have closed_at timestamp")
	}
	if i.Status != StatusClosed && i.Status != StatusTombstone && i.ClosedAt != nil {
		return fmt.Errorf("non-closed issues cannot have closed_at timestamp")
	}
	// Tombstone invariant: deleted_at must be set for tombstones, and only for tombstones
	if i.Status == StatusTombstone && i.DeletedAt == nil {
		return fmt.Errorf("tombstone issues must have deleted_at timestamp")
	}
	if i.Status != StatusTombstone && i.DeletedAt != nil {
		return fmt.Errorf("non-tombstone issues cannot have deleted_at timestamp")
	}
	return nil
}

// SetDefaults applies default values for fields omitted during JSONL import.
// Call this after json.Unmarshal to ensure missing fields have proper defaults:
//   - Status: defaults to StatusOpen if empty
//   - IssueType: defaults to TypeTask if empty
//
// This enables smaller JSONL output by using omitempty on these fields.
// Priority 0 in JSONL is P0, not "use default"; the default of 2 applies only
// to new issues created through the API.
func (i *Issue) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
	if i.IssueType == "" {
		i.IssueType = TypeTask
	}
}

// Status represents the current state of an issue
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred" // Deliberately put on ice for later
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone" // Soft-deleted issue
	StatusPinned     Status = "pinned"    // Persistent issue that stays open indefinitely
)

// IsValid checks if the status value is valid (built-in statuses only)
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred, StatusClosed, StatusTombstone, StatusPinned:
		return true
	}
	return false
}

// IsValidWithCustom checks if the status is valid, including custom statuses.
// Custom statuses are declared via config key status.custom ("status1,status2,...")
func (s Status) IsValidWithCustom(customStatuses []string) bool {
	if s.IsValid() {
		return true
	}
	for _, custom := range customStatuses {
		if string(s) == custom {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends an issue's participation in
// blocking: closed and tombstone issues do not block their dependents.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusTombstone
}

// IssueType categorizes the kind of work
type IssueType string

// Issue type constants
const (
	TypeBug      IssueType = "bug"
	TypeFeature  IssueType = "feature"
	TypeTask     IssueType = "task"
	TypeEpic     IssueType = "epic"
	TypeChore    IssueType = "chore"
	TypeDocs     IssueType = "docs"
	TypeQuestion IssueType = "question"
)

// IsValid checks if the issue type value is valid (built-in types only)
func (t IssueType) IsValid() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore, TypeDocs, TypeQuestion:
		return true
	}
	return false
}

// IsValidWithCustom checks if the issue type is valid, including custom types.
func (t IssueType) IsValidWithCustom(customTypes []string) bool {
	if t.IsValid() {
		return true
	}
	for _, custom := range customTypes {
		if string(t) == custom {
			return true
		}
	}
	return false
}

// Dependency represents a relationship between issues.
// DependsOnID may be a local issue ID or an external sentinel of the form
// external:<project>:<capability>; sentinels carry no referential integrity.
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	// Metadata contains type-specific edge data (JSON blob).
	// Examples: waits-for gate selection, similarity scores.
	Metadata string `json:"metadata,omitempty"`
	// ThreadID groups conversation edges for efficient thread queries
	ThreadID string `json:"thread_id,omitempty"`
}

// DependencyType categorizes the relationship
type DependencyType string

// Dependency type constants
const (
	// Workflow types (affect ready work calculation)
	DepBlocks            DependencyType = "blocks"
	DepParentChild       DependencyType = "parent-child"
	DepConditionalBlocks DependencyType = "conditional-blocks"
	DepWaitsFor          DependencyType = "waits-for"

	// Association types (informational only)
	DepRelated        DependencyType = "related"
	DepDiscoveredFrom DependencyType = "discovered-from"
	DepRepliesTo      DependencyType = "replies-to" // Conversation threading
	DepRelatesTo      DependencyType = "relates-to" // Loose knowledge graph edges
	DepDuplicates     DependencyType = "duplicates" // Deduplication link
	DepSupersedes     DependencyType = "supersedes" // Version chain link
	DepCausedBy       DependencyType = "caused-by"  // Causal link
)

// IsValid checks if the dependency type value is valid.
// Accepts any non-empty string up to 50 characters.
// Use IsWellKnown() to check if it's a built-in type.
func (d DependencyType) IsValid() bool {
	return len(d) > 0 && len(d) <= 50
}

// IsWellKnown checks if the dependency type is a well-known constant.
// Returns false for custom/user-defined types (which are still valid).
func (d DependencyType) IsWellKnown() bool {
	switch d {
	case DepBlocks, DepParentChild, DepConditionalBlocks, DepWaitsFor,
		DepRelated, DepDiscoveredFrom, DepRepliesTo, DepRelatesTo,
		DepDuplicates, DepSupersedes, DepCausedBy:
		return true
	}
	return false
}

// AffectsReadyWork returns true if this dependency type blocks work.
// Only the workflow family participates in the blocked computation and in
// cycle detection; relates-to and the other association types never do.
func (d DependencyType) AffectsReadyWork() bool {
	switch d {
	case DepBlocks, DepParentChild, DepConditionalBlocks, DepWaitsFor:
		return true
	}
	return false
}

// ExternalSentinelPrefix marks dependency targets that live in another workspace.
const ExternalSentinelPrefix = "external:"

// IsExternalSentinel reports whether a depends_on_id names an external
// capability rather than a local issue.
func IsExternalSentinel(dependsOnID string) bool {
	return strings.HasPrefix(dependsOnID, ExternalSentinelPrefix)
}

// ParseExternalSentinel splits external:<project>:<capability> into its parts.
// Returns ok=false for malformed sentinels (missing project or capability).
func ParseExternalSentinel(dependsOnID string) (project, capability string, ok bool) {
	if !IsExternalSentinel(dependsOnID) {
		return "", "", false
	}
	rest := strings.TrimPrefix(dependsOnID, ExternalSentinelPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ReservedLabelPrefix is the provides: namespace. Labels under it mark
// capability advertisements and may only be written by the dedicated
// capability operation, never through the normal label path.
const ReservedLabelPrefix = "provides:"

// Label represents a tag on an issue
type Label struct {
	IssueID string `json:"issue_id"`
	Label   string `json:"label"`
}

// Comment represents a comment on an issue
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents an audit trail entry
type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

// Event type constants for audit trail
const (
	EventCreated           EventType = "created"
	EventUpdated           EventType = "updated"
	EventStatusChanged     EventType = "status_changed"
	EventCommented         EventType = "commented"
	EventClosed            EventType = "closed"
	EventReopened          EventType = "reopened"
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventLabelAdded        EventType = "label_added"
	EventLabelRemoved      EventType = "label_removed"
	EventDeleted           EventType = "deleted"
	EventRestored          EventType = "restored"
)

// BlockedIssue extends Issue with blocking information
type BlockedIssue struct {
	Issue
	BlockedByCount int      `json:"blocked_by_count"`
	BlockedBy      []string `json:"blocked_by"`
}

// TreeNode represents a node in a dependency tree
type TreeNode struct {
	Issue
	Depth     int    `json:"depth"`
	ParentID  string `json:"parent_id"`
	Truncated bool   `json:"truncated"`
}

// TreeDirection selects which edges a dependency tree traversal follows.
type TreeDirection string

// Tree direction constants
const (
	TreeDown TreeDirection = "down" // follow depends_on_id edges
	TreeUp   TreeDirection = "up"   // follow reverse edges
	TreeBoth TreeDirection = "both" // down then up, concatenated
)

// Statistics provides aggregate metrics
type Statistics struct {
	TotalIssues      int `json:"total_issues"`
	OpenIssues       int `json:"open_issues"`
	InProgressIssues int `json:"in_progress_issues"`
	ClosedIssues     int `json:"closed_issues"`
	BlockedIssues    int `json:"blocked_issues"`
	DeferredIssues   int `json:"deferred_issues"`
	ReadyIssues      int `json:"ready_issues"`
	TombstoneIssues  int `json:"tombstone_issues"`
	PinnedIssues     int `json:"pinned_issues"`
}

// IssueFilter is used to filter issue queries
type IssueFilter struct {
	Status    *Status
	Priority  *int
	IssueType *IssueType
	Assignee  *string
	Labels    []string // AND semantics: issue must have ALL these labels
	IDs       []string // Filter by specific issue IDs
	Limit     int

	// Tombstone filtering
	IncludeTombstones bool // If false (default), exclude tombstones from results

	// Ephemeral filtering (nil = any)
	Ephemeral *bool

	// Pinned filtering (nil = any)
	Pinned *bool
}

// SortPolicy determines how ready work is ordered
type SortPolicy string

// Sort policy constants
const (
	// SortPolicyHybrid partitions by priority tier (P0-P1 before P2-P4) and
	// orders by creation date within each tier. This is the default.
	SortPolicyHybrid SortPolicy = "hybrid"

	// SortPolicyPriority always sorts by priority first, then creation date.
	// Use for autonomous execution, CI/CD, priority-driven workflows.
	SortPolicyPriority SortPolicy = "priority"

	// SortPolicyOldest always sorts by creation date (oldest first).
	// Use for backlog clearing, preventing issue starvation.
	SortPolicyOldest SortPolicy = "oldest"
)

// IsValid checks if the sort policy value is valid
func (s SortPolicy) IsValid() bool {
	switch s {
	case SortPolicyHybrid, SortPolicyPriority, SortPolicyOldest, "":
		return true
	}
	return false
}

// WorkFilter is used to filter ready work queries
type WorkFilter struct {
	Status     Status
	Priority   *int
	Assignee   *string
	Unassigned bool     // Filter for issues with no assignee
	Labels     []string // AND semantics: issue must have ALL these labels
	Limit      int
	SortPolicy SortPolicy
}

// StaleFilter is used to filter stale issue queries
type StaleFilter struct {
	Days   int    // Issues not updated in this many days
	Status string // Filter by status (open|in_progress|blocked), empty = all non-closed
	Limit  int    // Maximum issues to return
}
