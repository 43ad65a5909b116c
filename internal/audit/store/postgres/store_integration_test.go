//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/audit"
	auditpg "trustledger/internal/audit/store/postgres"
	"trustledger/internal/ledger"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
	"trustledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpg.Store
	ledger   *ledger.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = auditpg.New(s.postgres.DB)
	s.ledger = ledger.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_records", "ledger_entries"))
}

type sevenYears struct{}

func (sevenYears) Deadline(_ domain.EntityType, _ domain.ComplianceLevel, w time.Time) time.Time {
	return w.AddDate(7, 0, 0)
}

func newRecord(entityID string, createdAt time.Time, verified bool) *audit.Record {
	return &audit.Record{
		ID:              domain.NewRecordID(),
		Action:          audit.ActionUpdate,
		EntityType:      domain.EntityInvoice,
		EntityID:        entityID,
		ActorID:         "user-1",
		OldValues:       map[string]any{"amount": "10.00"},
		NewValues:       map[string]any{"amount": "12.50", "lines": []any{1, 2}},
		IPAddress:       "198.51.100.1",
		ComplianceLevel: domain.ComplianceCritical,
		RetentionUntil:  createdAt.AddDate(7, 0, 0),
		LedgerKey:       "audit:Invoice:" + entityID + ":" + createdAt.Format("150405.000000"),
		LedgerVerified:  verified,
		CreatedAt:       createdAt,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	rec := newRecord("inv-1", time.Date(2024, 5, 1, 9, 0, 0, 123000, time.UTC), false)
	s.Require().NoError(s.store.Create(ctx, rec))

	got, err := s.store.Get(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.LedgerKey, got.LedgerKey)
	s.True(rec.CreatedAt.Equal(got.CreatedAt))
	s.Equal("12.50", got.NewValues["amount"])
	s.False(got.LedgerVerified)

	s.Run("payload survives the round trip", func() {
		want, err := ledger.Canonicalize(rec.LedgerPayload())
		s.Require().NoError(err)
		have, err := ledger.Canonicalize(got.LedgerPayload())
		s.Require().NoError(err)
		s.JSONEq(string(want), string(have))
	})

	s.Run("duplicate ledger key conflicts", func() {
		dup := newRecord("inv-1", rec.CreatedAt, false)
		dup.LedgerKey = rec.LedgerKey
		s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("missing record is not found", func() {
		_, err := s.store.Get(ctx, domain.NewRecordID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestMarkVerifiedOnlyOnce() {
	ctx := context.Background()
	rec := newRecord("inv-2", time.Now().UTC().Truncate(time.Microsecond), false)
	s.Require().NoError(s.store.Create(ctx, rec))

	s.Require().NoError(s.store.MarkVerified(ctx, rec.ID, "tx-1", "hash-1"))
	s.ErrorIs(s.store.MarkVerified(ctx, rec.ID, "tx-2", "hash-2"), sentinel.ErrInvalidState)

	got, err := s.store.Get(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal("tx-1", got.LedgerTxID)
	s.True(got.LedgerVerified)
}

func (s *PostgresStoreSuite) TestListQueries() {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		rec := newRecord("inv-3", base.Add(time.Duration(i)*time.Hour), i%2 == 0)
		if i == 3 {
			rec.Action = audit.ActionApprove
		}
		s.Require().NoError(s.store.Create(ctx, rec))
	}

	s.Run("entity trail newest first", func() {
		trail, err := s.store.ListByEntity(ctx, domain.EntityInvoice, "inv-3", audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(trail, 4)
		s.Equal(audit.ActionApprove, trail[0].Action)
	})

	s.Run("filter by action and verification", func() {
		verified := false
		trail, err := s.store.ListByEntity(ctx, domain.EntityInvoice, "inv-3", audit.Filter{
			Actions:  []audit.Action{audit.ActionUpdate},
			Verified: &verified,
		})
		s.Require().NoError(err)
		s.Len(trail, 1)
	})

	s.Run("unverified oldest first", func() {
		pending, err := s.store.ListUnverified(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(pending, 2)
		s.True(pending[0].CreatedAt.Before(pending[1].CreatedAt))
	})

	s.Run("retention window", func() {
		due, err := s.store.ListRetentionBetween(ctx, base.AddDate(7, 0, 0), base.AddDate(7, 0, 0).Add(2*time.Hour), 10)
		s.Require().NoError(err)
		s.Len(due, 2)
	})

	s.Run("expired records page by deadline and id", func() {
		cutoff := base.AddDate(8, 0, 0)
		first, err := s.store.ListExpiredAfter(ctx, audit.RetentionCursor{}, cutoff, 1)
		s.Require().NoError(err)
		s.Require().Len(first, 1)

		rest, err := s.store.ListExpiredAfter(ctx, audit.CursorOf(first[0]), cutoff, 10)
		s.Require().NoError(err)
		for _, rec := range rest {
			s.NotEqual(first[0].ID, rec.ID)
			s.False(rec.RetentionUntil.Before(first[0].RetentionUntil))
		}
	})
}

func (s *PostgresStoreSuite) TestLedgerAppendAndVerify() {
	ctx := context.Background()
	receipt, err := s.ledger.Append(ctx, "audit:Client:1:1", map[string]any{"name": "Acme"})
	s.Require().NoError(err)

	ok, err := s.ledger.Verify(ctx, "audit:Client:1:1", receipt.Hash)
	s.Require().NoError(err)
	s.True(ok)

	_, err = s.ledger.Append(ctx, "audit:Client:1:1", map[string]any{"name": "Acme BV"})
	s.Require().NoError(err)

	report, err := s.ledger.VerifyChain(ctx)
	s.Require().NoError(err)
	s.True(report.Intact())
	s.Equal(2, report.Entries)

	_, err = s.postgres.DB.ExecContext(ctx, `UPDATE ledger_entries SET value = '{"name":"Evil"}'`)
	s.Error(err, "ledger rows are append-only")
}

func (s *PostgresStoreSuite) TestExponentNumbersSurviveVerification() {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	recorder, err := audit.New(s.ledger, s.store, sevenYears{})
	s.Require().NoError(err)
	reconciler, err := audit.NewReconciler(s.ledger, s.store)
	s.Require().NoError(err)

	rec, err := recorder.Record(ctx, audit.Event{
		Action:     audit.ActionPaymentProcess,
		EntityType: domain.EntityPayment,
		EntityID:   "p-exp",
		NewValues:  map[string]any{"rate": 1e-7, "cap": 1e21, "amount": "12.50"},
	})
	s.Require().NoError(err)
	s.Require().True(rec.LedgerVerified)

	s.Run("stored row verifies against the ledger", func() {
		result, err := reconciler.Verify(ctx, rec.ID)
		s.Require().NoError(err)
		s.True(result.Verified)
	})

	s.Run("reconcile reuses the entry instead of appending", func() {
		pending := newRecord("p-exp-2", time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC), false)
		pending.NewValues = map[string]any{"rate": 1e-7}
		_, err := s.ledger.Append(ctx, pending.LedgerKey, pending.LedgerPayload())
		s.Require().NoError(err)
		s.Require().NoError(s.store.Create(ctx, pending))

		result, err := reconciler.Reconcile(ctx)
		s.Require().NoError(err)
		s.Equal(1, result.Verified)

		var versions int
		s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM ledger_entries WHERE key = $1`, pending.LedgerKey).Scan(&versions))
		s.Equal(1, versions)
	})
}
