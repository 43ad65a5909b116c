package retention

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustledger/internal/audit"
	auditmemory "trustledger/internal/audit/store/memory"
	"trustledger/internal/entity"
	entitymemory "trustledger/internal/entity/store/memory"
	"trustledger/internal/platform/config"
	"trustledger/pkg/domain"
	"trustledger/pkg/requestcontext"
)

var now = time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, records audit.Store, opts ...Option) *Engine {
	t.Helper()
	e, err := New(config.DefaultPolicy().Retention, records, opts...)
	require.NoError(t, err)
	return e
}

// =============================================================================
// Deadlines
// =============================================================================

func TestDeadlineTiers(t *testing.T) {
	e := newEngine(t, auditmemory.NewInMemoryStore())

	cases := []struct {
		entityType domain.EntityType
		level      domain.ComplianceLevel
		years      int
	}{
		{domain.EntityClient, domain.ComplianceStandard, 3},
		{domain.EntityClient, domain.ComplianceEnhanced, 5},
		{domain.EntityClient, domain.ComplianceCritical, 7},
		{domain.EntityClient, domain.ComplianceRegulatory, 10},
		{domain.EntityInvoice, domain.ComplianceStandard, 7},
		{domain.EntityPayment, domain.ComplianceEnhanced, 7},
		{domain.EntityPayment, domain.ComplianceRegulatory, 10},
		{domain.EntityType("Unregistered"), domain.ComplianceEnhanced, 5},
		{domain.EntityClient, domain.ComplianceLevel("BOGUS"), 3},
		{domain.EntityClient, domain.ComplianceLevel(""), 3},
	}
	for _, tc := range cases {
		t.Run(string(tc.entityType)+"/"+string(tc.level), func(t *testing.T) {
			assert.Equal(t, tc.years, e.Years(tc.entityType, tc.level))
			assert.Equal(t, now.AddDate(tc.years, 0, 0), e.Deadline(tc.entityType, tc.level, now))
		})
	}
}

func TestDeadlineHasNoCalendarDrift(t *testing.T) {
	e := newEngine(t, auditmemory.NewInMemoryStore())
	amsterdam, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	t.Run("exact calendar years for every level", func(t *testing.T) {
		writes := []time.Time{
			time.Date(2023, 3, 26, 1, 30, 0, 0, time.UTC), // DST switch in Europe
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2027, 12, 31, 23, 59, 59, 999999000, time.UTC),
		}
		for _, w := range writes {
			for _, level := range domain.ComplianceLevels() {
				d := e.Deadline(domain.EntityClient, level, w)
				years := e.Years(domain.EntityClient, level)
				assert.Equal(t, w.Year()+years, d.Year())
				assert.Equal(t, w.Month(), d.Month())
				assert.Equal(t, w.Day(), d.Day())
				assert.Equal(t, w.Sub(w.Truncate(24*time.Hour)), d.Sub(d.Truncate(24*time.Hour)), "time of day is preserved")
			}
		}
	})

	t.Run("write time zone does not change the instant", func(t *testing.T) {
		w := time.Date(2024, 10, 27, 2, 30, 0, 0, amsterdam)
		assert.True(t, e.Deadline(domain.EntityClient, domain.ComplianceStandard, w).
			Equal(e.Deadline(domain.EntityClient, domain.ComplianceStandard, w.UTC())))
		assert.Equal(t, time.UTC, e.Deadline(domain.EntityClient, domain.ComplianceStandard, w).Location())
	})

	t.Run("leap day rolls forward consistently", func(t *testing.T) {
		leap := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC), e.Deadline(domain.EntityClient, domain.ComplianceStandard, leap))
		assert.Equal(t, time.Date(2034, 2, 28, 12, 0, 0, 0, time.UTC), e.Deadline(domain.EntityClient, domain.ComplianceRegulatory, time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC)))
	})
}

func TestNewRequiresStandardTier(t *testing.T) {
	_, err := New(config.RetentionPolicy{Default: map[domain.ComplianceLevel]int{domain.ComplianceCritical: 7}}, auditmemory.NewInMemoryStore())
	assert.Error(t, err)
	_, err = New(config.DefaultPolicy().Retention, nil)
	assert.Error(t, err)
}

// =============================================================================
// Legal holds
// =============================================================================

type HoldSuite struct {
	suite.Suite
	ctx      context.Context
	entities *entitymemory.InMemoryStore
	engine   *Engine
}

func TestHoldSuite(t *testing.T) {
	suite.Run(t, new(HoldSuite))
}

func (s *HoldSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.entities = entitymemory.NewInMemoryStore()
	s.engine = newEngine(s.T(), auditmemory.NewInMemoryStore(),
		WithHoldRules(HoldRulesFromPolicy(config.DefaultPolicy().LegalHolds, s.entities)...))
}

func (s *HoldSuite) put(t domain.EntityType, id string, created time.Time, refs ...entity.Ref) {
	s.Require().NoError(s.entities.Put(s.ctx, &entity.Snapshot{Type: t, ID: id, CreatedAt: created, Refs: refs, Active: true}))
}

func (s *HoldSuite) TestClientWithRecentInvoiceIsHeld() {
	client := entity.Ref{Type: domain.EntityClient, ID: "7"}
	s.put(client.Type, client.ID, now.AddDate(-4, 0, 0))
	s.put(domain.EntityInvoice, "inv-1", now.AddDate(-1, 0, 0), client)

	held, reasons, err := s.engine.HasActiveLegalHold(s.ctx, domain.EntityClient, "7")
	s.Require().NoError(err)
	s.True(held)
	s.Equal([]string{"Financial record retention obligation (7 years)"}, reasons)
}

func (s *HoldSuite) TestExpiredObligationReleasesHold() {
	client := entity.Ref{Type: domain.EntityClient, ID: "9"}
	s.put(client.Type, client.ID, now.AddDate(-12, 0, 0))
	s.put(domain.EntityInvoice, "inv-old", now.AddDate(-8, 0, 0), client)
	s.put(domain.EntityWwftCheck, "wwft-old", now.AddDate(-6, 0, 0), client)

	held, reasons, err := s.engine.HasActiveLegalHold(s.ctx, domain.EntityClient, "9")
	s.Require().NoError(err)
	s.False(held)
	s.Empty(reasons)
}

func (s *HoldSuite) TestReasonsAreCollectedAcrossRules() {
	client := entity.Ref{Type: domain.EntityClient, ID: "11"}
	s.put(client.Type, client.ID, now.AddDate(-2, 0, 0))
	s.put(domain.EntityPayment, "pay-1", now.AddDate(-6, 0, 0), client)
	s.put(domain.EntityInvoice, "inv-1", now.AddDate(-2, 0, 0), client)
	s.put(domain.EntityWwftCheck, "wwft-1", now.AddDate(-4, -11, 0), client)

	held, reasons, err := s.engine.HasActiveLegalHold(s.ctx, domain.EntityClient, "11")
	s.Require().NoError(err)
	s.True(held)
	s.Equal([]string{
		"Financial record retention obligation (7 years)",
		"Anti-money laundering record retention obligation (5 years)",
	}, reasons)
}

func (s *HoldSuite) TestHeldEntityTypeItself() {
	s.put(domain.EntityInvoice, "inv-2", now.AddDate(-6, -11, 0))
	held, _, err := s.engine.HasActiveLegalHold(s.ctx, domain.EntityInvoice, "inv-2")
	s.Require().NoError(err)
	s.True(held)

	held, _, err = s.engine.HasActiveLegalHold(s.ctx, domain.EntityInvoice, "unknown")
	s.Require().NoError(err)
	s.False(held)
}

type brokenRule struct{}

func (brokenRule) Check(context.Context, entity.Ref, time.Time) (string, bool, error) {
	return "", false, errors.New("entity database unreachable")
}

func (s *HoldSuite) TestRuleErrorIsNotSilentlyIgnored() {
	e := newEngine(s.T(), auditmemory.NewInMemoryStore(), WithHoldRules(brokenRule{}))
	_, _, err := e.HasActiveLegalHold(s.ctx, domain.EntityClient, "7")
	s.Error(err)
}

// =============================================================================
// Expiry queries and sweep
// =============================================================================

type flakyDeleteStore struct {
	*auditmemory.InMemoryStore
	failFor map[domain.RecordID]bool
}

func (f *flakyDeleteStore) Delete(ctx context.Context, id domain.RecordID) error {
	if f.failFor[id] {
		return errors.New("row locked")
	}
	return f.InMemoryStore.Delete(ctx, id)
}

func seedRecord(t *testing.T, store audit.Store, key string, retentionUntil time.Time) *audit.Record {
	t.Helper()
	rec := &audit.Record{
		ID:              domain.NewRecordID(),
		Action:          audit.ActionCreate,
		EntityType:      domain.EntityClient,
		EntityID:        key,
		ComplianceLevel: domain.ComplianceStandard,
		RetentionUntil:  retentionUntil,
		LedgerKey:       "audit:Client:" + key + ":1",
		CreatedAt:       retentionUntil.AddDate(-3, 0, 0),
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

func TestExpiringSoonAndExpired(t *testing.T) {
	store := auditmemory.NewInMemoryStore()
	e := newEngine(t, store)
	ctx := requestcontext.WithTime(context.Background(), now)

	seedRecord(t, store, "past", now.Add(-time.Hour))
	seedRecord(t, store, "soon", now.Add(24*time.Hour))
	seedRecord(t, store, "later", now.AddDate(1, 0, 0))

	expired, err := e.Expired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "past", expired[0].EntityID)

	soon, err := e.ExpiringSoon(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, soon, 1)
	assert.Equal(t, "soon", soon[0].EntityID)
}

func TestSweepIsolatesFailures(t *testing.T) {
	store := &flakyDeleteStore{InMemoryStore: auditmemory.NewInMemoryStore(), failFor: map[domain.RecordID]bool{}}
	e := newEngine(t, store, WithBatchSize(2))
	ctx := requestcontext.WithTime(context.Background(), now)

	bad := seedRecord(t, store, "a", now.AddDate(0, 0, -3))
	store.failFor[bad.ID] = true
	seedRecord(t, store, "b", now.AddDate(0, 0, -2))
	seedRecord(t, store, "c", now.AddDate(0, 0, -1))
	seedRecord(t, store, "d", now.Add(time.Hour))

	result, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 3, Deleted: 2, Failed: 1}, result)
	assert.Equal(t, 2, store.Count(), "the failed and the unexpired record remain")
}

func TestSweepContinuesPastFailedBatch(t *testing.T) {
	store := &flakyDeleteStore{InMemoryStore: auditmemory.NewInMemoryStore(), failFor: map[domain.RecordID]bool{}}
	e := newEngine(t, store, WithBatchSize(2))
	ctx := requestcontext.WithTime(context.Background(), now)

	for _, key := range []string{"a", "b"} {
		rec := seedRecord(t, store, key, now.AddDate(0, 0, -5))
		store.failFor[rec.ID] = true
	}
	// same deadline as each other, spread over two batches
	for _, key := range []string{"c", "d", "e"} {
		seedRecord(t, store, key, now.AddDate(0, 0, -1))
	}

	result, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 5, Deleted: 3, Failed: 2}, result)
	assert.Equal(t, 2, store.Count())

	t.Run("a second sweep retries the failed records once each", func(t *testing.T) {
		result, err := e.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Processed: 2, Failed: 2}, result)
	})
}
