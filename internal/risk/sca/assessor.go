// Package sca decides whether a payment needs strong customer
// authentication and tracks the resulting challenge.
package sca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trustledger/internal/audit"
	"trustledger/internal/platform/config"
	"trustledger/internal/risk"
	"trustledger/internal/screening"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

// Factor names.
const (
	FactorAmountTier    = "amountTier"
	FactorAuthFrequency = "authFrequency"
	FactorUnknownDevice = "unknownDevice"
	FactorNetworkOrigin = "networkOrigin"
)

// Recorder is the audit dependency of the assessor.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Record, error)
}

// Assessor runs SCA risk assessments.
type Assessor struct {
	policy    config.SCAPolicy
	lowValue  decimal.Decimal
	attempts  AttemptStore
	frequency FrequencyCounter
	devices   DeviceRegistry
	screener  screening.Screener
	recorder  Recorder
	logger    *slog.Logger
	metrics   *risk.Metrics
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

// Stores bundles the SCA state backends. MemoryStore and RedisStore satisfy
// all three.
type Stores struct {
	Attempts  AttemptStore
	Frequency FrequencyCounter
	Devices   DeviceRegistry
}

func New(policy config.SCAPolicy, stores Stores, screener screening.Screener, recorder Recorder, opts ...Option) (*Assessor, error) {
	if stores.Attempts == nil || stores.Frequency == nil || stores.Devices == nil {
		return nil, errors.New("sca stores are required")
	}
	if screener == nil {
		return nil, errors.New("screener is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	lowValue, err := decimal.NewFromString(policy.LowValueThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid low value threshold %q: %w", policy.LowValueThreshold, err)
	}
	if policy.ChallengeTTL <= 0 {
		policy.ChallengeTTL = 15 * time.Minute
	}
	if policy.FrequencyWindow <= 0 {
		policy.FrequencyWindow = 24 * time.Hour
	}
	if policy.FrequencyCap <= 0 {
		policy.FrequencyCap = 10
	}
	a := &Assessor{
		policy:    policy,
		lowValue:  lowValue,
		attempts:  stores.Attempts,
		frequency: stores.Frequency,
		devices:   stores.Devices,
		screener:  screener,
		recorder:  recorder,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assess decides whether the payment may proceed without a challenge.
//
// A confirmed sanctions match fails the attempt outright. Otherwise a low
// value or recurring payment is exempt before any factor is evaluated, and a
// low scoring one is exempt after scoring. Everything else gets a PENDING
// challenge that expires after the challenge TTL.
func (a *Assessor) Assess(ctx context.Context, req Request) (*Attempt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TransactionType == "" {
		req.TransactionType = TransactionSingle
	}
	now := requestcontext.Now(ctx).UTC()
	attempt := &Attempt{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		TransactionType:   req.TransactionType,
		DeviceFingerprint: Fingerprint(req.UserAgent),
		IPAddress:         req.IPAddress,
		Country:           req.Country,
		CreatedAt:         now,
	}

	subject := screening.Subject{Name: req.HolderName, Country: req.Country}
	if subject.Name == "" {
		subject.Name = req.UserID
	}
	scr := risk.Screen(ctx, a.screener, subject)
	attempt.Sanctions, attempt.PEP = scr.Sanctions.Status, scr.PEP.Status
	if scr.Err != nil {
		a.logger.WarnContext(ctx, "sca screening failed", "user_id", req.UserID, "error", scr.Err)
	}

	switch {
	case scr.Sanctions.Status == screening.StatusConfirmedMatch:
		attempt.Status = StatusFailed
		attempt.Risk = risk.Result{Score: 1}
	case req.Amount.LessThan(a.lowValue):
		attempt.Status = StatusAuthenticated
		attempt.Risk = risk.Exempt(fmt.Sprintf("low value transaction below the %s EUR threshold", a.lowValue.StringFixed(2)))
	case req.TransactionType == TransactionRecurring:
		attempt.Status = StatusAuthenticated
		attempt.Risk = risk.Exempt("recurring transaction with the same payee")
	default:
		factors, err := a.factors(ctx, req, attempt.DeviceFingerprint, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to evaluate sca factors")
		}
		attempt.Risk = risk.Score(factors, a.policy.Weights)
		if attempt.Risk.Score < a.policy.LowRiskThreshold {
			attempt.Risk.ExemptionApplied = true
			attempt.Risk.ExemptionReason = fmt.Sprintf("transaction risk score %.2f below the %.2f threshold",
				attempt.Risk.Score, a.policy.LowRiskThreshold)
			attempt.Status = StatusAuthenticated
		} else {
			attempt.Status = StatusPending
		}
	}
	if attempt.Status == StatusPending {
		attempt.ExpiresAt = now.Add(a.policy.ChallengeTTL)
	} else {
		attempt.ExpiresAt = now
	}
	attempt.Classification = risk.Classify(scr, attempt.Status != StatusAuthenticated)

	// Exempt attempts count toward the frequency of later assessments too.
	if err := a.frequency.Add(ctx, req.UserID, now); err != nil {
		a.logger.WarnContext(ctx, "failed to count authentication attempt", "user_id", req.UserID, "error", err)
	}
	if attempt.Status == StatusAuthenticated {
		a.rememberDevice(ctx, attempt)
	}
	if err := a.attempts.Save(ctx, attempt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store authentication attempt")
	}

	a.metrics.Observe("sca", attempt.Classification, attempt.Risk)
	a.record(ctx, audit.ActionValidate, attempt, nil)
	return attempt, nil
}

func (a *Assessor) factors(ctx context.Context, req Request, fingerprint string, now time.Time) (map[string]float64, error) {
	recent, err := a.frequency.Count(ctx, req.UserID, now.Add(-a.policy.FrequencyWindow))
	if err != nil {
		return nil, err
	}
	unknown := 1.0
	if fingerprint != "" {
		known, err := a.devices.Known(ctx, req.UserID, fingerprint)
		if err != nil {
			return nil, err
		}
		if known {
			unknown = 0
		}
	}
	origin := 0.0
	switch {
	case req.Country == "":
		origin = 0.5
	case slices.Contains(a.policy.HighRiskCountries, req.Country):
		origin = 1
	}
	return map[string]float64{
		FactorAmountTier:    risk.TierValue(req.Amount, a.policy.AmountTiers),
		FactorAuthFrequency: float64(recent) / float64(a.policy.FrequencyCap),
		FactorUnknownDevice: unknown,
		FactorNetworkOrigin: origin,
	}, nil
}

// Get returns an attempt with expiry applied.
func (a *Assessor) Get(ctx context.Context, id string) (*Attempt, error) {
	attempt, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	attempt.Status = attempt.EffectiveStatus(requestcontext.Now(ctx))
	return attempt, nil
}

// Complete resolves a PENDING challenge with the outcome of the customer's
// second factor.
func (a *Assessor) Complete(ctx context.Context, id string, passed bool) (*Attempt, error) {
	attempt, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	old := attempt.Status
	switch attempt.EffectiveStatus(now) {
	case StatusPending:
	case StatusExpired:
		attempt.Status = StatusExpired
		if err := a.attempts.Save(ctx, attempt); err != nil {
			a.logger.WarnContext(ctx, "failed to store expired attempt", "attempt_id", id, "error", err)
		}
		return nil, dErrors.New(dErrors.CodeConflict, "authentication challenge expired")
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "authentication attempt is not pending")
	}

	attempt.CompletedAt = &now
	if passed {
		attempt.Status = StatusAuthenticated
		a.rememberDevice(ctx, attempt)
	} else {
		attempt.Status = StatusFailed
	}
	attempt.Classification = risk.Classify(risk.Screening{
		Sanctions: screening.Result{Status: attempt.Sanctions},
		PEP:       screening.Result{Status: attempt.PEP},
	}, !passed)
	if err := a.attempts.Save(ctx, attempt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store authentication attempt")
	}
	a.record(ctx, audit.ActionStatusChange, attempt, map[string]any{"status": string(old)})
	return attempt, nil
}

func (a *Assessor) load(ctx context.Context, id string) (*Attempt, error) {
	attempt, err := a.attempts.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "authentication attempt not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load authentication attempt")
	}
	return attempt, nil
}

func (a *Assessor) rememberDevice(ctx context.Context, attempt *Attempt) {
	if attempt.DeviceFingerprint == "" {
		return
	}
	if err := a.devices.Remember(ctx, attempt.UserID, attempt.DeviceFingerprint); err != nil {
		a.logger.WarnContext(ctx, "failed to remember device", "user_id", attempt.UserID, "error", err)
	}
}

func (a *Assessor) record(ctx context.Context, action audit.Action, attempt *Attempt, old map[string]any) {
	values := map[string]any{
		"userId":           attempt.UserID,
		"amount":           attempt.Amount.String(),
		"currency":         attempt.Currency,
		"transactionType":  string(attempt.TransactionType),
		"status":           string(attempt.Status),
		"score":            attempt.Risk.Score,
		"exemptionApplied": attempt.Risk.ExemptionApplied,
		"classification":   string(attempt.Classification),
	}
	if attempt.Risk.ExemptionReason != "" {
		values["exemptionReason"] = attempt.Risk.ExemptionReason
	}
	if len(attempt.Risk.Factors) > 0 {
		values["factors"] = attempt.Risk.Factors
	}
	_, err := a.recorder.Record(ctx, audit.Event{
		Action:     action,
		EntityType: domain.EntityAuthenticationAttempt,
		EntityID:   attempt.ID,
		Actor:      audit.Actor{ID: attempt.UserID, IPAddress: attempt.IPAddress},
		OldValues:  old,
		NewValues:  values,
		Level:      domain.ComplianceEnhanced,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "sca audit record failed", "attempt_id", attempt.ID, "error", err)
	}
}
