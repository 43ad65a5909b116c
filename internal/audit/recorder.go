// Package audit records every mutation of a regulated entity twice: once in
// the append-only ledger and once in a queryable index that references the
// ledger transaction.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustledger/internal/ledger"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

// Recorder performs the audit dual write.
type Recorder struct {
	ledger        ledger.Ledger
	store         Store
	deadlines     DeadlineCalculator
	sanitizer     *Sanitizer
	defaultLevels map[domain.EntityType]domain.ComplianceLevel
	sink          Sink
	metrics       *Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
	keys          keyGenerator
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithSanitizer(s *Sanitizer) Option {
	return func(r *Recorder) {
		r.sanitizer = s
	}
}

// WithDefaultLevels sets the compliance level used when an event has no hint.
func WithDefaultLevels(levels map[domain.EntityType]domain.ComplianceLevel) Option {
	return func(r *Recorder) {
		r.defaultLevels = levels
	}
}

func WithSink(sink Sink) Option {
	return func(r *Recorder) {
		r.sink = sink
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Recorder) {
		r.tracer = t
	}
}

// DefaultSensitiveKeys is used when no sanitizer is configured.
var DefaultSensitiveKeys = []string{"password", "token", "secret", "creditCard", "cardNumber", "cvv", "apiKey"}

func New(l ledger.Ledger, store Store, deadlines DeadlineCalculator, opts ...Option) (*Recorder, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if deadlines == nil {
		return nil, errors.New("deadline calculator is required")
	}
	r := &Recorder{
		ledger:        l,
		store:         store,
		deadlines:     deadlines,
		sanitizer:     NewSanitizer(DefaultSensitiveKeys),
		defaultLevels: map[domain.EntityType]domain.ComplianceLevel{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("trustledger/audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record writes event to the ledger and then to the index.
//
// A ledger failure is not an error: the record is indexed with
// LedgerVerified=false and picked up by the Reconciler. An index failure
// returns a *PartialWriteError that tells the caller whether the ledger half
// was written. Neither case should abort the caller's business operation.
func (r *Recorder) Record(ctx context.Context, event Event) (*Record, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("audit.action", string(event.Action)),
		attribute.String("audit.entity_type", string(event.EntityType)),
	))
	defer span.End()

	if err := event.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid event")
		return nil, err
	}

	actor := r.resolveActor(ctx, event.Actor)
	now := requestcontext.Now(ctx).UTC()
	createdAt := now.Truncate(time.Microsecond)
	level := r.resolveLevel(event.EntityType, event.Level)

	rec := &Record{
		ID:              domain.NewRecordID(),
		Action:          event.Action,
		EntityType:      event.EntityType,
		EntityID:        event.EntityID,
		ActorID:         actor.ID,
		OldValues:       r.sanitizer.Sanitize(event.OldValues),
		NewValues:       r.sanitizer.Sanitize(event.NewValues),
		IPAddress:       actor.IPAddress,
		UserAgent:       actor.UserAgent,
		SessionID:       actor.SessionID,
		RequestID:       actor.RequestID,
		ComplianceLevel: level,
		RetentionUntil:  r.deadlines.Deadline(event.EntityType, level, createdAt),
		LedgerKey:       r.keys.next(event.EntityType, event.EntityID, now.UnixNano()),
		CreatedAt:       createdAt,
	}
	span.SetAttributes(attribute.String("audit.ledger_key", rec.LedgerKey))

	receipt, err := r.ledger.Append(ctx, rec.LedgerKey, rec.LedgerPayload())
	if err != nil {
		r.metrics.incLedgerFailures()
		r.logger.WarnContext(ctx, "ledger append failed, recording unverified",
			"ledger_key", rec.LedgerKey,
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"unavailable", ledger.IsUnavailable(err),
			"error", err,
		)
	} else {
		rec.LedgerTxID = receipt.TxID
		rec.LedgerHash = receipt.Hash
		rec.LedgerVerified = true
	}

	if err := r.store.Create(ctx, rec); err != nil {
		r.metrics.incPartialWrites()
		r.logger.ErrorContext(ctx, "audit index write failed",
			"ledger_key", rec.LedgerKey,
			"ledger_written", rec.LedgerVerified,
			"error", err,
		)
		span.SetStatus(codes.Error, "partial write")
		return nil, &PartialWriteError{
			LedgerKey:     rec.LedgerKey,
			LedgerWritten: rec.LedgerVerified,
			Record:        rec,
			Err:           err,
		}
	}

	r.metrics.observeRecorded(rec.Action, rec.LedgerVerified, started)
	r.publish(ctx, rec)
	return rec, nil
}

// GetTrail returns an entity's audit records, newest first.
func (r *Recorder) GetTrail(ctx context.Context, entityType domain.EntityType, entityID string, filter Filter) ([]*Record, error) {
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}
	if filter.Level != "" && !filter.Level.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid compliance level filter")
	}
	records, err := r.store.ListByEntity(ctx, entityType, entityID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return records, nil
}

func (r *Recorder) publish(ctx context.Context, rec *Record) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Publish(ctx, rec); err != nil {
		r.metrics.incSinkFailures()
		r.logger.WarnContext(ctx, "audit sink publish failed", "record_id", rec.ID.String(), "error", err)
	}
}

func (r *Recorder) resolveLevel(entityType domain.EntityType, hint domain.ComplianceLevel) domain.ComplianceLevel {
	if hint != "" {
		return hint
	}
	if level, ok := r.defaultLevels[entityType]; ok {
		return level
	}
	return domain.ComplianceStandard
}

// resolveActor fills missing actor fields from the request context.
func (r *Recorder) resolveActor(ctx context.Context, a Actor) Actor {
	if a.ID == "" {
		a.ID = requestcontext.ActorID(ctx)
	}
	if a.SessionID == "" {
		a.SessionID = requestcontext.SessionID(ctx)
	}
	if a.IPAddress == "" {
		a.IPAddress = requestcontext.ClientIP(ctx)
	}
	if a.UserAgent == "" {
		a.UserAgent = requestcontext.UserAgent(ctx)
	}
	if a.RequestID == "" {
		a.RequestID = requestcontext.RequestID(ctx)
	}
	return a
}
