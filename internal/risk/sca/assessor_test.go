package sca_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustledger/internal/audit"
	auditmemory "trustledger/internal/audit/store/memory"
	"trustledger/internal/ledger"
	"trustledger/internal/platform/config"
	"trustledger/internal/risk"
	"trustledger/internal/risk/sca"
	"trustledger/internal/screening"
	"trustledger/internal/screening/mocks"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

const (
	chromeWindows  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	chromeWindows2 = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.6167.85 Safari/537.36"
	safariIPhone   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
)

var now = time.Date(2025, 4, 2, 14, 0, 0, 0, time.UTC)

type fixedDeadlines struct{}

func (fixedDeadlines) Deadline(_ domain.EntityType, _ domain.ComplianceLevel, w time.Time) time.Time {
	return w.AddDate(5, 0, 0)
}

type AssessorSuite struct {
	suite.Suite
	ctx      context.Context
	store    *sca.MemoryStore
	records  *auditmemory.InMemoryStore
	assessor *sca.Assessor
}

func TestAssessorSuite(t *testing.T) {
	suite.Run(t, new(AssessorSuite))
}

func (s *AssessorSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.store = sca.NewMemoryStore()
	s.records = auditmemory.NewInMemoryStore()
	s.assessor = s.newAssessor(screening.NewListScreener(screening.Lists{
		PEP: []screening.Entry{{Name: "Jan de Vries"}},
	}))
}

func (s *AssessorSuite) newAssessor(screener screening.Screener) *sca.Assessor {
	recorder, err := audit.New(ledger.NewMemory(), s.records, fixedDeadlines{})
	s.Require().NoError(err)
	a, err := sca.New(config.DefaultPolicy().SCA,
		sca.Stores{Attempts: s.store, Frequency: s.store, Devices: s.store},
		screener, recorder)
	s.Require().NoError(err)
	return a
}

func (s *AssessorSuite) assess(amount string, mutate ...func(*sca.Request)) *sca.Attempt {
	req := sca.Request{
		UserID:     "user-1",
		HolderName: "Bakkerij Jansen",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "EUR",
		UserAgent:  chromeWindows,
		Country:    "NL",
	}
	for _, m := range mutate {
		m(&req)
	}
	attempt, err := s.assessor.Assess(s.ctx, req)
	s.Require().NoError(err)
	return attempt
}

// =============================================================================
// Exemptions
// =============================================================================

func (s *AssessorSuite) TestLowValueIsExemptWithoutFactors() {
	attempt := s.assess("25")

	s.Equal(sca.StatusAuthenticated, attempt.Status)
	s.True(attempt.Risk.ExemptionApplied)
	s.Contains(attempt.Risk.ExemptionReason, "low value")
	s.Contains(attempt.Risk.ExemptionReason, "30.00")
	s.Empty(attempt.Risk.Factors, "no factor is evaluated")
	s.Equal(risk.Compliant, attempt.Classification)

	trail, err := s.records.ListByEntity(s.ctx, domain.EntityAuthenticationAttempt, attempt.ID, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal(audit.ActionValidate, trail[0].Action)
	s.Equal(domain.ComplianceEnhanced, trail[0].ComplianceLevel)
	s.Equal(true, trail[0].NewValues["exemptionApplied"])
}

func (s *AssessorSuite) TestRecurringIsExempt() {
	attempt := s.assess("900", func(r *sca.Request) { r.TransactionType = sca.TransactionRecurring })
	s.Equal(sca.StatusAuthenticated, attempt.Status)
	s.Contains(attempt.Risk.ExemptionReason, "recurring")
}

func (s *AssessorSuite) TestLowRiskIsExemptAfterScoring() {
	s.Require().NoError(s.store.Remember(s.ctx, "user-1", sca.Fingerprint(chromeWindows)))

	attempt := s.assess("50", func(r *sca.Request) { r.UserAgent = chromeWindows2 })
	s.Equal(sca.StatusAuthenticated, attempt.Status)
	s.True(attempt.Risk.ExemptionApplied)
	s.Contains(attempt.Risk.ExemptionReason, "risk score")
	s.InDelta(0.08, attempt.Risk.Score, 1e-9)
	s.Equal(0.0, attempt.Risk.Factors[sca.FactorUnknownDevice], "browser update keeps the device known")
}

// =============================================================================
// Challenges
// =============================================================================

func (s *AssessorSuite) TestRiskyPaymentIsChallenged() {
	attempt := s.assess("2000")

	s.Equal(sca.StatusPending, attempt.Status)
	s.False(attempt.Risk.ExemptionApplied)
	s.InDelta(0.65, attempt.Risk.Score, 1e-9)
	s.Equal(now.Add(15*time.Minute), attempt.ExpiresAt)
	s.Equal(risk.Pending, attempt.Classification)
	s.Len(attempt.Risk.Contributions, 4)
}

func (s *AssessorSuite) TestChallengeExpiresAtReadTime() {
	attempt := s.assess("2000")

	s.Run("still pending just before expiry", func() {
		got, err := s.assessor.Get(requestcontext.WithTime(s.ctx, now.Add(15*time.Minute-time.Second)), attempt.ID)
		s.Require().NoError(err)
		s.Equal(sca.StatusPending, got.Status)
	})

	s.Run("expired at fifteen minutes", func() {
		got, err := s.assessor.Get(requestcontext.WithTime(s.ctx, now.Add(15*time.Minute)), attempt.ID)
		s.Require().NoError(err)
		s.Equal(sca.StatusExpired, got.Status)
	})

	s.Run("completing an expired challenge fails", func() {
		_, err := s.assessor.Complete(requestcontext.WithTime(s.ctx, now.Add(time.Hour)), attempt.ID, true)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		stored, err := s.store.Get(s.ctx, attempt.ID)
		s.Require().NoError(err)
		s.Equal(sca.StatusExpired, stored.Status)
	})
}

func (s *AssessorSuite) TestCompleteChallenge() {
	attempt := s.assess("2000", func(r *sca.Request) { r.UserAgent = safariIPhone })

	done, err := s.assessor.Complete(requestcontext.WithTime(s.ctx, now.Add(2*time.Minute)), attempt.ID, true)
	s.Require().NoError(err)
	s.Equal(sca.StatusAuthenticated, done.Status)
	s.Equal(risk.Compliant, done.Classification)
	s.Require().NotNil(done.CompletedAt)

	known, err := s.store.Known(s.ctx, "user-1", sca.Fingerprint(safariIPhone))
	s.Require().NoError(err)
	s.True(known)

	_, err = s.assessor.Complete(s.ctx, attempt.ID, true)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	trail, err := s.records.ListByEntity(s.ctx, domain.EntityAuthenticationAttempt, attempt.ID, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.Equal(audit.ActionStatusChange, trail[0].Action)
	s.Equal("PENDING", trail[0].OldValues["status"])
}

func (s *AssessorSuite) TestFailedChallenge() {
	attempt := s.assess("2000")
	done, err := s.assessor.Complete(s.ctx, attempt.ID, false)
	s.Require().NoError(err)
	s.Equal(sca.StatusFailed, done.Status)
	s.Equal(risk.Pending, done.Classification)
}

func (s *AssessorSuite) TestExemptAttemptsCountTowardFrequency() {
	for i := 0; i < 5; i++ {
		s.assess("10")
	}
	attempt := s.assess("2000")
	s.InDelta(0.5, attempt.Risk.Factors[sca.FactorAuthFrequency], 1e-9)

	s.Run("attempts outside the window are ignored", func() {
		later := requestcontext.WithTime(context.Background(), now.Add(25*time.Hour))
		a, err := s.assessor.Assess(later, sca.Request{UserID: "user-1", Amount: decimal.NewFromInt(2000), Country: "NL"})
		s.Require().NoError(err)
		s.Zero(a.Risk.Factors[sca.FactorAuthFrequency])
	})
}

func (s *AssessorSuite) TestNetworkOrigin() {
	high := s.assess("2000", func(r *sca.Request) { r.Country = "KP" })
	s.Equal(1.0, high.Risk.Factors[sca.FactorNetworkOrigin])
	unknown := s.assess("2000", func(r *sca.Request) { r.Country = "" })
	s.Equal(0.5, unknown.Risk.Factors[sca.FactorNetworkOrigin])
}

// =============================================================================
// Screening
// =============================================================================

func (s *AssessorSuite) TestConfirmedSanctionsFailEvenWhenExempt() {
	ctrl := gomock.NewController(s.T())
	screener := mocks.NewMockScreener(ctrl)
	screener.EXPECT().Sanctions(gomock.Any(), gomock.Any()).
		Return(screening.Result{List: "sanctions", Status: screening.StatusConfirmedMatch}, nil)
	screener.EXPECT().PEP(gomock.Any(), gomock.Any()).
		Return(screening.Result{List: "pep", Status: screening.StatusNoMatch}, nil)

	attempt, err := s.newAssessor(screener).Assess(s.ctx, sca.Request{UserID: "user-2", Amount: decimal.NewFromInt(5)})
	s.Require().NoError(err)
	s.Equal(sca.StatusFailed, attempt.Status)
	s.Equal(risk.NonCompliant, attempt.Classification)
	s.False(attempt.Risk.ExemptionApplied)
}

func (s *AssessorSuite) TestScreeningFailureIsPending() {
	ctrl := gomock.NewController(s.T())
	screener := mocks.NewMockScreener(ctrl)
	screener.EXPECT().Sanctions(gomock.Any(), gomock.Any()).Return(screening.Result{}, errors.New("list offline"))
	screener.EXPECT().PEP(gomock.Any(), gomock.Any()).Return(screening.Result{}, nil).AnyTimes()

	attempt, err := s.newAssessor(screener).Assess(s.ctx, sca.Request{UserID: "user-3", Amount: decimal.NewFromInt(5)})
	s.Require().NoError(err)
	s.Equal(sca.StatusAuthenticated, attempt.Status)
	s.Equal(risk.Pending, attempt.Classification)
}

func (s *AssessorSuite) TestPEPHolderIsPending() {
	attempt := s.assess("25", func(r *sca.Request) { r.HolderName = "de Vries, Jan" })
	s.Equal(sca.StatusAuthenticated, attempt.Status)
	s.Equal(risk.Pending, attempt.Classification)
	s.Equal(screening.StatusPotentialMatch, attempt.PEP)
}

func (s *AssessorSuite) TestValidation() {
	_, err := s.assessor.Assess(s.ctx, sca.Request{Amount: decimal.NewFromInt(1)})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.assessor.Assess(s.ctx, sca.Request{UserID: "u", Amount: decimal.NewFromInt(-1)})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.assessor.Assess(s.ctx, sca.Request{UserID: "u", TransactionType: "INSTALMENT"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.assessor.Get(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, sca.Fingerprint(""))
	assert.Equal(t, sca.Fingerprint(chromeWindows), sca.Fingerprint(chromeWindows2))
	assert.NotEqual(t, sca.Fingerprint(chromeWindows), sca.Fingerprint(safariIPhone))
	assert.Len(t, sca.Fingerprint(safariIPhone), 32)
}

func TestNewRejectsBadThreshold(t *testing.T) {
	policy := config.DefaultPolicy().SCA
	policy.LowValueThreshold = "thirty"
	store := sca.NewMemoryStore()
	_, err := sca.New(policy, sca.Stores{Attempts: store, Frequency: store, Devices: store},
		screening.NewListScreener(screening.Lists{}), nil)
	require.Error(t, err)
}
