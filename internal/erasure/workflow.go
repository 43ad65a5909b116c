// Package erasure schedules and executes data subject erasure requests while
// respecting statutory retention holds.
package erasure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"trustledger/internal/audit"
	"trustledger/internal/entity"
	"trustledger/internal/ledger"
	"trustledger/internal/platform/config"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

const (
	defaultGracePeriod = 30 * 24 * time.Hour
	defaultBatchSize   = 100
)

// Workflow drives erasure records through their lifecycle.
type Workflow struct {
	store         Store
	entities      entity.Store
	holds         HoldChecker
	recorder      Recorder
	schema        entity.Schema
	pseudonymizer *Pseudonymizer
	policyID      string
	method        Method
	gracePeriod   time.Duration
	delay         time.Duration
	batchSize     int
	logger        *slog.Logger
	metrics       *Metrics
}

type Option func(*Workflow)

func WithPolicy(p config.ErasurePolicy) Option {
	return func(w *Workflow) {
		if p.PolicyID != "" {
			w.policyID = p.PolicyID
		}
		if m, err := ParseMethod(p.DefaultMethod); err == nil {
			w.method = m
		}
		if p.GracePeriod > 0 {
			w.gracePeriod = p.GracePeriod
		}
		if p.DefaultDelay > 0 {
			w.delay = p.DefaultDelay
		}
	}
}

func WithSchema(s entity.Schema) Option {
	return func(w *Workflow) {
		w.schema = s
	}
}

func WithPseudonymizer(p *Pseudonymizer) Option {
	return func(w *Workflow) {
		w.pseudonymizer = p
	}
}

func WithBatchSize(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

func New(store Store, entities entity.Store, holds HoldChecker, recorder Recorder, opts ...Option) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("erasure store is required")
	}
	if entities == nil {
		return nil, errors.New("entity store is required")
	}
	if holds == nil {
		return nil, errors.New("hold checker is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	w := &Workflow{
		store:       store,
		entities:    entities,
		holds:       holds,
		recorder:    recorder,
		schema:      entity.DefaultSchema(),
		policyID:    "default",
		method:      MethodSoftDelete,
		gracePeriod: defaultGracePeriod,
		batchSize:   defaultBatchSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RequestErasure checks legal holds and schedules the erasure. A held entity
// is refused unless the request is forced, in which case execution waits for
// the grace period. A refusal creates no record.
func (w *Workflow) RequestErasure(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Method == 0 {
		req.Method = w.method
	}
	if req.RequestedBy == "" {
		req.RequestedBy = requestcontext.ActorID(ctx)
	}
	if req.RequestedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requesting actor is required")
	}

	ref := entity.Ref{Type: req.EntityType, ID: req.EntityID}
	if _, err := w.entities.Get(ctx, ref); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}

	held, reasons, err := w.holds.HasActiveLegalHold(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to evaluate legal holds")
	}
	if held && !req.Force {
		w.metrics.observeRequest("refused")
		w.logger.InfoContext(ctx, "erasure refused by legal hold",
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"reasons", reasons,
		)
		w.record(ctx, audit.Event{
			Action:     audit.ActionReject,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Actor:      audit.Actor{ID: req.RequestedBy},
			NewValues: map[string]any{
				"erasureReason":    req.Reason,
				"deletionMethod":   req.Method.String(),
				"retentionReasons": reasons,
			},
			Level: domain.ComplianceRegulatory,
		})
		return &Outcome{CanDelete: false, RetentionReasons: reasons}, nil
	}

	now := requestcontext.Now(ctx).UTC()
	scheduledFor := now.Add(w.delay)
	if held {
		scheduledFor = now.Add(w.gracePeriod)
	}
	rec := &Record{
		ID:               domain.NewErasureID(),
		PolicyID:         w.policyID,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Reason:           req.Reason,
		RequestedBy:      req.RequestedBy,
		Forced:           req.Force,
		Method:           req.Method,
		State:            StateScheduled,
		Result:           ResultPending,
		RetentionReasons: reasons,
		ScheduledFor:     scheduledFor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := w.store.Create(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule erasure")
	}
	outcome := "scheduled"
	if held {
		outcome = "forced"
	}
	w.metrics.observeRequest(outcome)
	w.record(ctx, audit.Event{
		Action:     audit.ActionCreate,
		EntityType: domain.EntityErasureRecord,
		EntityID:   rec.ID.String(),
		Actor:      audit.Actor{ID: req.RequestedBy},
		NewValues:  recordValues(rec),
	})

	return &Outcome{
		CanDelete:         !held,
		DeletionScheduled: true,
		RetentionReasons:  reasons,
		ScheduledFor:      scheduledFor,
		RecordID:          rec.ID,
	}, nil
}

// Get returns an erasure record.
func (w *Workflow) Get(ctx context.Context, id domain.ErasureID) (*Record, error) {
	rec, err := w.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "erasure record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load erasure record")
	}
	return rec, nil
}

// Execute runs a due erasure. When the run fails the record is stored as
// FAILED and the cause is returned along with it. A record that already
// finished is returned unchanged with the same kind of error: nil for
// SUCCESS, a RetentionViolation or ErrExecutionFailed for FAILED.
func (w *Workflow) Execute(ctx context.Context, id domain.ErasureID) (*Record, error) {
	rec, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, storedError(rec)
	}
	if rec.State != StateScheduled {
		return nil, dErrors.New(dErrors.CodeConflict, "erasure is already executing")
	}
	now := requestcontext.Now(ctx).UTC()
	if now.Before(rec.ScheduledFor) {
		return nil, dErrors.New(dErrors.CodeConflict, "erasure is not due yet")
	}

	if err := w.store.Transition(ctx, rec.ID, StateScheduled, StateExecuting); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "erasure was claimed by another executor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim erasure")
	}
	rec.State = StateExecuting

	started := time.Now()
	runErr := w.run(ctx, rec)
	w.metrics.observeExecution(rec.Method, runErr == nil, time.Since(started))

	done := requestcontext.Now(ctx).UTC()
	rec.UpdatedAt = done
	if runErr != nil {
		rec.State, rec.Result, rec.Error = StateFailed, ResultFailed, runErr.Error()
	} else {
		rec.State, rec.Result, rec.Error = StateSuccess, ResultSuccess, ""
		rec.DeletedAt = &done
	}
	if err := w.store.Finish(ctx, rec); err != nil {
		// The record stays EXECUTING until RecoverStale fails it.
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store erasure outcome")
	}
	w.auditExecution(ctx, rec)

	if runErr != nil {
		w.logger.WarnContext(ctx, "erasure failed",
			"erasure_id", rec.ID.String(),
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"method", rec.Method.String(),
			"error", runErr,
		)
		return rec, runErr
	}
	w.logger.InfoContext(ctx, "erasure executed",
		"erasure_id", rec.ID.String(),
		"entity_type", rec.EntityType,
		"entity_id", rec.EntityID,
		"method", rec.Method.String(),
	)
	return rec, nil
}

// run re-checks holds, snapshots the entity and applies the strategy. A
// panicking strategy is turned into an error.
func (w *Workflow) run(ctx context.Context, rec *Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("erasure strategy panicked: %v", r)
		}
	}()

	held, reasons, err := w.holds.HasActiveLegalHold(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		return fmt.Errorf("evaluate legal holds: %w", err)
	}
	if held {
		rec.RetentionReasons = reasons
		return &RetentionViolation{EntityType: rec.EntityType, EntityID: rec.EntityID, Reasons: reasons}
	}

	snap, err := w.entities.Get(ctx, entity.Ref{Type: rec.EntityType, ID: rec.EntityID})
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	rec.Snapshot = snapshotValues(snap)

	apply, ok := strategies[rec.Method]
	if !ok {
		return fmt.Errorf("no strategy for %s", rec.Method)
	}
	return apply(ctx, w, snap)
}

// ExecuteDue runs every due erasure, one at a time. A failing record does not
// stop the batch.
func (w *Workflow) ExecuteDue(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	due, err := w.store.ListDue(ctx, requestcontext.Now(ctx).UTC(), w.batchSize)
	if err != nil {
		return result, fmt.Errorf("list due erasures: %w", err)
	}
	for _, rec := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++
		done, err := w.Execute(ctx, rec.ID)
		switch {
		case err == nil:
			result.Successful++
		case done == nil && dErrors.HasCode(err, dErrors.CodeConflict):
			// Another executor claimed it.
			result.Processed--
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
		}
	}
	if result.Processed > 0 {
		w.logger.InfoContext(ctx, "erasure batch executed",
			"processed", result.Processed,
			"successful", result.Successful,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// RecoverStale fails records left EXECUTING for longer than olderThan, which
// happens when an executor dies between its two transitions.
func (w *Workflow) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := requestcontext.Now(ctx).UTC()
	stale, err := w.store.ListStale(ctx, now.Add(-olderThan), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale erasures: %w", err)
	}
	recovered := 0
	for _, rec := range stale {
		rec.State, rec.Result = StateFailed, ResultFailed
		rec.Error = "execution interrupted"
		rec.UpdatedAt = now
		if err := w.store.Finish(ctx, rec); err != nil {
			w.logger.WarnContext(ctx, "failed to recover stale erasure",
				"erasure_id", rec.ID.String(),
				"error", err,
			)
			continue
		}
		recovered++
		w.auditExecution(ctx, rec)
	}
	return recovered, nil
}

func (w *Workflow) auditExecution(ctx context.Context, rec *Record) {
	w.record(ctx, audit.Event{
		Action:     audit.ActionDelete,
		EntityType: domain.EntityErasureRecord,
		EntityID:   rec.ID.String(),
		Actor:      audit.Actor{ID: "system:erasure-executor"},
		OldValues:  snapshotSummary(rec.Snapshot),
		NewValues:  recordValues(rec),
	})
}

// record writes an audit event. Audit trouble is logged and never changes the
// erasure outcome.
func (w *Workflow) record(ctx context.Context, event audit.Event) {
	if _, err := w.recorder.Record(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "erasure audit record failed",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}

func recordValues(rec *Record) map[string]any {
	v := map[string]any{
		"policyId":       rec.PolicyID,
		"entityType":     string(rec.EntityType),
		"entityId":       rec.EntityID,
		"reason":         rec.Reason,
		"requestedBy":    rec.RequestedBy,
		"forced":         rec.Forced,
		"deletionMethod": rec.Method.String(),
		"state":          string(rec.State),
		"result":         string(rec.Result),
		"scheduledFor":   rec.ScheduledFor.Format(time.RFC3339Nano),
	}
	if len(rec.RetentionReasons) > 0 {
		v["retentionReasons"] = rec.RetentionReasons
	}
	if rec.Error != "" {
		v["error"] = rec.Error
	}
	if rec.DeletedAt != nil {
		v["deletedAt"] = rec.DeletedAt.Format(time.RFC3339Nano)
	}
	return v
}

// snapshotSummary describes a snapshot for the append-only ledger without
// its values: the erased data must not survive there. The digest lets the
// snapshot kept on the erasure record be matched against the trail.
func snapshotSummary(snap map[string]any) map[string]any {
	if snap == nil {
		return nil
	}
	var fields []string
	if values, ok := snap["fields"].(map[string]any); ok {
		for k := range values {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	out := map[string]any{"fields": fields}
	if canonical, err := ledger.Canonicalize(snap); err == nil {
		sum := sha256.Sum256(canonical)
		out["snapshotSha256"] = hex.EncodeToString(sum[:])
	}
	return out
}

func snapshotValues(s *entity.Snapshot) map[string]any {
	refs := make([]string, len(s.Refs))
	for i, r := range s.Refs {
		refs[i] = r.String()
	}
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return map[string]any{
		"type":      string(s.Type),
		"id":        s.ID,
		"fields":    fields,
		"refs":      refs,
		"createdAt": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"active":    s.Active,
	}
}
