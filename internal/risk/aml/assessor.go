// Package aml performs Wwft customer due diligence risk checks.
package aml

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"trustledger/internal/audit"
	"trustledger/internal/entity"
	"trustledger/internal/platform/config"
	"trustledger/internal/risk"
	"trustledger/internal/screening"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

// Factor names.
const (
	FactorBusinessType       = "businessTypeRisk"
	FactorVolumeTier         = "volumeTier"
	FactorGeographicRisk     = "geographicRisk"
	FactorIdentityUnverified = "identityUnverified"
)

type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Record, error)
}

// Assessor scores customers and stores each review as a WwftCheck entity so
// the AML retention hold covers the customer.
type Assessor struct {
	policy   config.AMLPolicy
	entities entity.Store
	screener screening.Screener
	recorder Recorder
	logger   *slog.Logger
	metrics  *risk.Metrics
}

type Option func(*Assessor)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Assessor) {
		a.logger = logger
	}
}

func WithMetrics(m *risk.Metrics) Option {
	return func(a *Assessor) {
		a.metrics = m
	}
}

func New(policy config.AMLPolicy, entities entity.Store, screener screening.Screener, recorder Recorder, opts ...Option) (*Assessor, error) {
	if entities == nil {
		return nil, errors.New("entity store is required")
	}
	if screener == nil {
		return nil, errors.New("screener is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	a := &Assessor{
		policy:   policy,
		entities: entities,
		screener: screener,
		recorder: recorder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assess scores the customer, screens them against the sanctions and PEP
// lists, and records the resulting check.
func (a *Assessor) Assess(ctx context.Context, req Request) (*Check, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	scr := risk.Screen(ctx, a.screener, screening.Subject{
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Country:     req.Country,
	})
	if scr.Err != nil {
		a.logger.WarnContext(ctx, "aml screening failed", "customer_id", req.CustomerID, "error", scr.Err)
	}

	result := risk.Score(a.factors(req), a.policy.Weights)
	level := a.level(result.Score)
	check := &Check{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		Risk:           result,
		Level:          level,
		CDD:            cddFor(level, scr.PEPHit()),
		Monitoring:     monitoringFor(level),
		Sanctions:      scr.Sanctions,
		PEP:            scr.PEP,
		Classification: risk.Classify(scr, level.AtLeast(LevelHigh)),
		NextReview:     now.AddDate(0, reviewMonths(level), 0),
		CheckedAt:      now,
	}

	if err := a.entities.Put(ctx, check.snapshot()); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store wwft check")
	}
	a.metrics.Observe("aml", check.Classification, check.Risk)
	a.logger.InfoContext(ctx, "aml check completed",
		"check_id", check.ID,
		"customer_id", check.CustomerID,
		"risk_level", check.Level,
		"classification", check.Classification,
	)

	_, err := a.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionValidate,
		EntityType: domain.EntityWwftCheck,
		EntityID:   check.ID,
		Actor:      audit.Actor{ID: requestcontext.ActorID(ctx)},
		NewValues:  check.fields(),
		Level:      domain.ComplianceRegulatory,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "aml audit record failed", "check_id", check.ID, "error", err)
	}
	return check, nil
}

func (a *Assessor) factors(req Request) map[string]float64 {
	business, ok := a.policy.BusinessTypeRisk[req.BusinessType]
	if !ok {
		business = a.policy.DefaultBusinessRisk
	}
	geographic := 0.0
	switch {
	case slices.Contains(a.policy.HighRiskCountries, req.Country):
		geographic = 1
	case slices.Contains(a.policy.MediumRiskCountries, req.Country):
		geographic = 0.5
	}
	unverified := 0.0
	if !req.IdentityVerified {
		unverified = 1
	}
	return map[string]float64{
		FactorBusinessType:       business,
		FactorVolumeTier:         risk.TierValue(req.AnnualVolume, a.policy.VolumeTiers),
		FactorGeographicRisk:     geographic,
		FactorIdentityUnverified: unverified,
	}
}

func (a *Assessor) level(score float64) Level {
	switch {
	case score >= a.policy.CriticalThreshold:
		return LevelCritical
	case score >= a.policy.HighThreshold:
		return LevelHigh
	case score >= a.policy.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func cddFor(level Level, pep bool) CDDLevel {
	switch {
	case pep, level.AtLeast(LevelHigh):
		return CDDEnhanced
	case level == LevelMedium:
		return CDDStandard
	default:
		return CDDSimplified
	}
}

func monitoringFor(level Level) Monitoring {
	switch level {
	case LevelCritical:
		return MonitoringContinuous
	case LevelHigh:
		return MonitoringEnhanced
	case LevelMedium:
		return MonitoringStandard
	default:
		return MonitoringBasic
	}
}

func reviewMonths(level Level) int {
	switch level {
	case LevelLow:
		return 12
	case LevelMedium:
		return 6
	default:
		return 3
	}
}

func (c *Check) fields() map[string]any {
	return map[string]any{
		"customerId":      c.CustomerID,
		"riskScore":       c.Risk.Score,
		"riskLevel":       string(c.Level),
		"cddLevel":        string(c.CDD),
		"monitoringLevel": string(c.Monitoring),
		"sanctionsStatus": string(c.Sanctions.Status),
		"pepStatus":       string(c.PEP.Status),
		"classification":  string(c.Classification),
		"nextReviewDate":  c.NextReview.Format("2006-01-02"),
	}
}

func (c *Check) snapshot() *entity.Snapshot {
	return &entity.Snapshot{
		Type:      domain.EntityWwftCheck,
		ID:        c.ID,
		Fields:    c.fields(),
		Refs:      []entity.Ref{{Type: domain.EntityClient, ID: c.CustomerID}},
		CreatedAt: c.CheckedAt,
		Active:    true,
	}
}
