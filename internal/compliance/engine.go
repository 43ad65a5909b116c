// Package compliance scans business entities for missing mandatory fields and
// tracks the resulting issues until they are fixed.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"trustledger/internal/audit"
	"trustledger/internal/entity"
	"trustledger/internal/platform/config"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

// Engine runs mandatory-field scans.
type Engine struct {
	entities entity.Store
	issues   Store
	recorder Recorder
	policies map[domain.EntityType]config.FieldPolicy
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(entities entity.Store, issues Store, recorder Recorder, policies map[string]config.FieldPolicy, opts ...Option) (*Engine, error) {
	if entities == nil {
		return nil, errors.New("entity store is required")
	}
	if issues == nil {
		return nil, errors.New("issue store is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	e := &Engine{
		entities: entities,
		issues:   issues,
		recorder: recorder,
		policies: make(map[domain.EntityType]config.FieldPolicy, len(policies)),
		logger:   slog.Default(),
	}
	for t, p := range policies {
		e.policies[domain.EntityType(t)] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ScanReport summarises one scan of an entity type.
type ScanReport struct {
	ScanID     string            `json:"scanId"`
	EntityType domain.EntityType `json:"entityType"`
	Scanned    int               `json:"scanned"`
	Issues     []*Issue          `json:"issues"`
	Resolved   int               `json:"resolved"`
	Failed     int               `json:"failed"`
}

// Scan checks every live entity of entityType and returns the issues that are
// open after the scan, new and escalated alike.
func (e *Engine) Scan(ctx context.Context, entityType domain.EntityType) ([]*Issue, error) {
	report, err := e.scan(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return report.Issues, nil
}

// ScanAll scans every entity type that has a mandatory field policy. A type
// that cannot be scanned is counted and the others still run.
func (e *Engine) ScanAll(ctx context.Context) ([]ScanReport, error) {
	types := make([]domain.EntityType, 0, len(e.policies))
	for t := range e.policies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var (
		reports []ScanReport
		errs    []error
	)
	for _, t := range types {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := e.scan(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", t, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (e *Engine) scan(ctx context.Context, entityType domain.EntityType) (ScanReport, error) {
	policy, ok := e.policies[entityType]
	if !ok {
		return ScanReport{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("no mandatory field policy for %s", entityType))
	}
	now := requestcontext.Now(ctx).UTC()
	report := ScanReport{ScanID: uuid.NewString(), EntityType: entityType}

	live, err := e.entities.ListLive(ctx, entityType)
	if err != nil {
		return report, fmt.Errorf("list %s entities: %w", entityType, err)
	}
	openIssues, err := e.issues.ListOpen(ctx, entityType)
	if err != nil {
		return report, fmt.Errorf("list open issues: %w", err)
	}
	open := make(map[string]*Issue, len(openIssues))
	for _, issue := range openIssues {
		if issue.IssueType == IssueMandatoryFields {
			open[issue.EntityID] = issue
		}
	}

	required := append(append(append([]string{}, policy.Blocking...), policy.Required...), policy.Advisory...)
	for _, snap := range live {
		report.Scanned++
		missing := snap.Missing(required)
		issue, resolved, err := e.checkEntity(ctx, snap, missing, policy, open[snap.ID], now)
		if err != nil {
			report.Failed++
			e.logger.WarnContext(ctx, "compliance check failed for entity",
				"entity_type", entityType,
				"entity_id", snap.ID,
				"error", err,
			)
			continue
		}
		if resolved {
			report.Resolved++
		}
		if issue != nil {
			report.Issues = append(report.Issues, issue)
		}
	}

	e.metrics.observeScan(report)
	e.recordScan(ctx, report)
	return report, nil
}

func (e *Engine) checkEntity(ctx context.Context, snap *entity.Snapshot, missing []string, policy config.FieldPolicy, existing *Issue, now time.Time) (*Issue, bool, error) {
	if len(missing) == 0 {
		if existing == nil {
			return nil, false, nil
		}
		return nil, true, e.resolve(ctx, existing, SystemResolver, now)
	}

	severity := classify(missing, policy, existing)
	if existing != nil {
		existing.Cycles++
		existing.Severity = severity
		existing.MissingFields = missing
		existing.LastSeenAt = now
		if due := now.Add(severity.DueIn()); due.Before(existing.DueDate) {
			existing.DueDate = due
		}
		if err := e.issues.Update(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	issue := &Issue{
		ID:            domain.NewIssueID(),
		EntityType:    snap.Type,
		EntityID:      snap.ID,
		IssueType:     IssueMandatoryFields,
		Severity:      severity,
		MissingFields: missing,
		Cycles:        1,
		DueDate:       now.Add(severity.DueIn()),
		DetectedAt:    now,
		LastSeenAt:    now,
	}
	if err := e.issues.Create(ctx, issue); err != nil {
		return nil, false, err
	}
	return issue, false, nil
}

// classify picks the severity for an entity's missing fields. An issue left
// open from an earlier cycle that still lacks any of the same fields is
// CRITICAL; otherwise a missing blocking field is HIGH and advisory-only gaps
// are LOW.
func classify(missing []string, policy config.FieldPolicy, existing *Issue) Severity {
	if existing != nil {
		for _, f := range missing {
			if slices.Contains(existing.MissingFields, f) {
				return SeverityCritical
			}
		}
	}
	advisoryOnly := true
	for _, f := range missing {
		if slices.Contains(policy.Blocking, f) {
			return SeverityHigh
		}
		if !slices.Contains(policy.Advisory, f) {
			advisoryOnly = false
		}
	}
	if advisoryOnly {
		return SeverityLow
	}
	return SeverityMedium
}

// Resolve closes an open issue on behalf of an operator.
func (e *Engine) Resolve(ctx context.Context, id domain.IssueID, actor string) (*Issue, error) {
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "resolving actor is required")
	}
	issue, err := e.issues.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "compliance issue not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load compliance issue")
	}
	if !issue.Open() {
		return nil, dErrors.New(dErrors.CodeConflict, "compliance issue already resolved")
	}
	if err := e.resolve(ctx, issue, actor, requestcontext.Now(ctx).UTC()); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve compliance issue")
	}
	return issue, nil
}

// ListOpen returns the open issues of an entity type.
func (e *Engine) ListOpen(ctx context.Context, entityType domain.EntityType) ([]*Issue, error) {
	issues, err := e.issues.ListOpen(ctx, entityType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list compliance issues")
	}
	return issues, nil
}

func (e *Engine) resolve(ctx context.Context, issue *Issue, actor string, now time.Time) error {
	old := map[string]any{"severity": string(issue.Severity), "missingFields": issue.MissingFields, "resolvedAt": nil}
	issue.ResolvedAt = &now
	issue.ResolvedBy = actor
	if err := e.issues.Update(ctx, issue); err != nil {
		return err
	}
	e.record(ctx, audit.Event{
		Action:     audit.ActionUpdate,
		EntityType: domain.EntityComplianceIssue,
		EntityID:   issue.ID.String(),
		Actor:      audit.Actor{ID: actor},
		OldValues:  old,
		NewValues: map[string]any{
			"entityType": string(issue.EntityType),
			"entityId":   issue.EntityID,
			"resolvedAt": now.Format(time.RFC3339Nano),
			"resolvedBy": actor,
		},
	})
	return nil
}

func (e *Engine) recordScan(ctx context.Context, report ScanReport) {
	severities := map[string]int{}
	for _, issue := range report.Issues {
		severities[string(issue.Severity)]++
	}
	e.record(ctx, audit.Event{
		Action:     audit.ActionValidate,
		EntityType: domain.EntityComplianceScan,
		EntityID:   report.ScanID,
		Actor:      audit.Actor{ID: SystemResolver},
		NewValues: map[string]any{
			"entityType": string(report.EntityType),
			"scanned":    report.Scanned,
			"issues":     len(report.Issues),
			"resolved":   report.Resolved,
			"failed":     report.Failed,
			"severities": severities,
		},
	})
}

// record writes an audit event. Audit trouble never fails a scan.
func (e *Engine) record(ctx context.Context, event audit.Event) {
	if _, err := e.recorder.Record(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "compliance audit record failed",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}
