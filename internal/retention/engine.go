// Package retention decides how long audit records are kept and whether an
// entity is still under a legal retention obligation.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trustledger/internal/audit"
	"trustledger/internal/platform/config"
	"trustledger/pkg/domain"
	"trustledger/pkg/requestcontext"
)

const defaultBatchSize = 500

// Engine computes retention deadlines, finds expiring records and evaluates
// legal holds. The tier tables are copied at construction and never change.
type Engine struct {
	tiers     map[domain.ComplianceLevel]int
	entities  map[domain.EntityType]map[domain.ComplianceLevel]int
	records   audit.Store
	holds     []HoldRule
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Engine)

// WithHoldRules sets the legal hold rules consulted by HasActiveLegalHold.
func WithHoldRules(rules ...HoldRule) Option {
	return func(e *Engine) {
		e.holds = rules
	}
}

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

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func New(policy config.RetentionPolicy, records audit.Store, opts ...Option) (*Engine, error) {
	if records == nil {
		return nil, errors.New("audit store is required")
	}
	if _, ok := policy.Default[domain.ComplianceStandard]; !ok {
		return nil, errors.New("retention policy needs a STANDARD tier")
	}
	e := &Engine{
		tiers:     make(map[domain.ComplianceLevel]int, len(policy.Default)),
		entities:  make(map[domain.EntityType]map[domain.ComplianceLevel]int, len(policy.Entities)),
		records:   records,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for level, years := range policy.Default {
		e.tiers[level] = years
	}
	for entityType, tiers := range policy.Entities {
		cp := make(map[domain.ComplianceLevel]int, len(tiers))
		for level, years := range tiers {
			cp[level] = years
		}
		e.entities[domain.EntityType(entityType)] = cp
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Years returns the retention period for a record of entityType at level.
// An entity override wins over the default table; an unknown level falls back
// to the STANDARD tier, since keeping a record too long is the safer error.
func (e *Engine) Years(entityType domain.EntityType, level domain.ComplianceLevel) int {
	if !level.IsValid() {
		level = domain.ComplianceStandard
	}
	if override, ok := e.entities[entityType]; ok {
		if years, ok := override[level]; ok {
			return years
		}
	}
	if years, ok := e.tiers[level]; ok {
		return years
	}
	return e.tiers[domain.ComplianceStandard]
}

// Deadline returns writeTime plus the retention period in calendar years,
// computed in UTC so leap days and zone offsets never shift it.
func (e *Engine) Deadline(entityType domain.EntityType, level domain.ComplianceLevel, writeTime time.Time) time.Time {
	return writeTime.UTC().AddDate(e.Years(entityType, level), 0, 0)
}

// ExpiringSoon returns records whose retention ends within window from now.
func (e *Engine) ExpiringSoon(ctx context.Context, window time.Duration) ([]*audit.Record, error) {
	now := requestcontext.Now(ctx).UTC()
	return e.records.ListRetentionBetween(ctx, now, now.Add(window), e.batchSize)
}

// Expired returns the first batch of records whose retention ended before
// now, oldest first.
func (e *Engine) Expired(ctx context.Context) ([]*audit.Record, error) {
	return e.expiredAfter(ctx, audit.RetentionCursor{})
}

func (e *Engine) expiredAfter(ctx context.Context, after audit.RetentionCursor) ([]*audit.Record, error) {
	now := requestcontext.Now(ctx).UTC()
	return e.records.ListExpiredAfter(ctx, after, now, e.batchSize)
}
