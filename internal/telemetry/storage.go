package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

const storageScopeName = "github.com/juanlu12332/beads/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method except Close gets a span and is counted in bd.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner  storage.Storage
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// Verify InstrumentedStorage implements storage.Storage at compile time
var _ storage.Storage = (*InstrumentedStorage)(nil)

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("bd.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("bd.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bd.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStorage{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func issueAttr(id string) attribute.KeyValue {
	return attribute.String("bd.issue.id", id)
}

// ── Issue CRUD ──────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	attrs := []attribute.KeyValue{
		attribute.String("bd.actor", actor),
		attribute.String("bd.issue.type", string(issue.IssueType)),
	}
	ctx, span, t := s.op(ctx, "CreateIssue", attrs...)
	err := s.inner.CreateIssue(ctx, issue, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) CreateIssues(ctx context.Context, issues []*types.Issue, actor string) error {
	attrs := []attribute.KeyValue{
		attribute.String("bd.actor", actor),
		attribute.Int("bd.issue.count", len(issues)),
	}
	ctx, span, t := s.op(ctx, "CreateIssues", attrs...)
	err := s.inner.CreateIssues(ctx, issues, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "GetIssue", attrs...)
	v, err := s.inner.GetIssue(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetIssueIncludingTombstones(ctx context.Context, id string) (*types.Issue, error) {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "GetIssueIncludingTombstones", attrs...)
	v, err := s.inner.GetIssueIncludingTombstones(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error) {
	ctx, span, t := s.op(ctx, "GetIssueByExternalRef")
	v, err := s.inner.GetIssueByExternalRef(ctx, externalRef)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	attrs := []attribute.KeyValue{issueAttr(id), attribute.Int("bd.update.fields", len(updates))}
	ctx, span, t := s.op(ctx, "UpdateIssue", attrs...)
	err := s.inner.UpdateIssue(ctx, id, updates, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) CloseIssue(ctx context.Context, id, reason, actor, session string, force bool) error {
	attrs := []attribute.KeyValue{issueAttr(id), attribute.Bool("bd.force", force)}
	ctx, span, t := s.op(ctx, "CloseIssue", attrs...)
	err := s.inner.CloseIssue(ctx, id, reason, actor, session, force)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ReopenIssue(ctx context.Context, id, actor string) error {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "ReopenIssue", attrs...)
	err := s.inner.ReopenIssue(ctx, id, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DeleteIssue(ctx context.Context, id, deletedBy, reason string) error {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "DeleteIssue", attrs...)
	err := s.inner.DeleteIssue(ctx, id, deletedBy, reason)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) HardDeleteIssue(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "HardDeleteIssue", attrs...)
	err := s.inner.HardDeleteIssue(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) RestoreIssue(ctx context.Context, id, actor string) error {
	attrs := []attribute.KeyValue{issueAttr(id)}
	ctx, span, t := s.op(ctx, "RestoreIssue", attrs...)
	err := s.inner.RestoreIssue(ctx, id, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	ctx, span, t := s.op(ctx, "SearchIssues")
	v, err := s.inner.SearchIssues(ctx, query, filter)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Dependencies ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	attrs := []attribute.KeyValue{
		issueAttr(dep.IssueID),
		attribute.String("bd.dep.type", string(dep.Type)),
	}
	ctx, span, t := s.op(ctx, "AddDependency", attrs...)
	err := s.inner.AddDependency(ctx, dep, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	attrs := []attribute.KeyValue{issueAttr(issueID)}
	ctx, span, t := s.op(ctx, "RemoveDependency", attrs...)
	err := s.inner.RemoveDependency(ctx, issueID, dependsOnID, actor)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	ctx, span, t := s.op(ctx, "GetDependencyRecords", issueAttr(issueID))
	v, err := s.inner.GetDependencyRecords(ctx, issueID)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error) {
	ctx, span, t := s.op(ctx, "GetAllDependencyRecords")
	v, err := s.inner.GetAllDependencyRecords(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetDependencyTree(ctx context.Context, issueID string, direction types.TreeDirection, maxDepth int, showAllPaths bool) ([]*types.TreeNode, error) {
	attrs := []attribute.KeyValue{issueAttr(issueID), attribute.String("bd.tree.direction", string(direction))}
	ctx, span, t := s.op(ctx, "GetDependencyTree", attrs...)
	v, err := s.inner.GetDependencyTree(ctx, issueID, direction, maxDepth, showAllPaths)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Labels ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	ctx, span, t := s.op(ctx, "AddLabel", issueAttr(issueID))
	err := s.inner.AddLabel(ctx, issueID, label, actor)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	ctx, span, t := s.op(ctx, "RemoveLabel", issueAttr(issueID))
	err := s.inner.RemoveLabel(ctx, issueID, label, actor)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	ctx, span, t := s.op(ctx, "GetLabels", issueAttr(issueID))
	v, err := s.inner.GetLabels(ctx, issueID)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Work queries ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	ctx, span, t := s.op(ctx, "GetReadyWork")
	v, err := s.inner.GetReadyWork(ctx, filter)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	ctx, span, t := s.op(ctx, "GetBlockedIssues")
	v, err := s.inner.GetBlockedIssues(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Comments and events ─────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddIssueComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	ctx, span, t := s.op(ctx, "AddIssueComment", issueAttr(issueID))
	v, err := s.inner.AddIssueComment(ctx, issueID, author, text)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ImportIssueComment(ctx context.Context, issueID, author, text string, createdAt time.Time) (*types.Comment, error) {
	ctx, span, t := s.op(ctx, "ImportIssueComment", issueAttr(issueID))
	v, err := s.inner.ImportIssueComment(ctx, issueID, author, text, createdAt)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetIssueComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	ctx, span, t := s.op(ctx, "GetIssueComments", issueAttr(issueID))
	v, err := s.inner.GetIssueComments(ctx, issueID)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	ctx, span, t := s.op(ctx, "GetEvents", issueAttr(issueID))
	v, err := s.inner.GetEvents(ctx, issueID, limit)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error) {
	ctx, span, t := s.op(ctx, "GetEventsSince")
	v, err := s.inner.GetEventsSince(ctx, since, limit)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Dirty tracking and export hashes ────────────────────────────────────────

func (s *InstrumentedStorage) MarkIssueDirty(ctx context.Context, issueID string) error {
	ctx, span, t := s.op(ctx, "MarkIssueDirty", issueAttr(issueID))
	err := s.inner.MarkIssueDirty(ctx, issueID)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetDirtyIssues(ctx context.Context) ([]string, error) {
	ctx, span, t := s.op(ctx, "GetDirtyIssues")
	v, err := s.inner.GetDirtyIssues(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error {
	ctx, span, t := s.op(ctx, "ClearDirtyIssuesByID", attribute.Int("bd.issue.count", len(issueIDs)))
	err := s.inner.ClearDirtyIssuesByID(ctx, issueIDs)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetExportHash(ctx context.Context, issueID string) (string, error) {
	ctx, span, t := s.op(ctx, "GetExportHash", issueAttr(issueID))
	v, err := s.inner.GetExportHash(ctx, issueID)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) BatchSetExportHashes(ctx context.Context, hashes map[string]string) error {
	ctx, span, t := s.op(ctx, "BatchSetExportHashes", attribute.Int("bd.issue.count", len(hashes)))
	err := s.inner.BatchSetExportHashes(ctx, hashes)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) ClearAllExportHashes(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "ClearAllExportHashes")
	err := s.inner.ClearAllExportHashes(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) HasEverBeenExported(ctx context.Context, issueID string) (bool, error) {
	ctx, span, t := s.op(ctx, "HasEverBeenExported", issueAttr(issueID))
	v, err := s.inner.HasEverBeenExported(ctx, issueID)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Statistics, configuration, lifecycle ────────────────────────────────────

func (s *InstrumentedStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	ctx, span, t := s.op(ctx, "GetStatistics")
	v, err := s.inner.GetStatistics(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) SetConfig(ctx context.Context, key, value string) error {
	ctx, span, t := s.op(ctx, "SetConfig")
	err := s.inner.SetConfig(ctx, key, value)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetConfig(ctx context.Context, key string) (string, error) {
	ctx, span, t := s.op(ctx, "GetConfig")
	v, err := s.inner.GetConfig(ctx, key)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	ctx, span, t := s.op(ctx, "GetAllConfig")
	v, err := s.inner.GetAllConfig(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) SetMetadata(ctx context.Context, key, value string) error {
	ctx, span, t := s.op(ctx, "SetMetadata")
	err := s.inner.SetMetadata(ctx, key, value)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, span, t := s.op(ctx, "GetMetadata")
	v, err := s.inner.GetMetadata(ctx, key)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
