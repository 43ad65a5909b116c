package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/audit"
	"trustledger/internal/audit/store/memory"
	"trustledger/internal/ledger"
	"trustledger/pkg/domain"
	"trustledger/pkg/requestcontext"
)

// flakyLedger wraps the memory ledger and fails appends while down is set.
// When lostAck is set the append is applied but the caller still sees an error.
type flakyLedger struct {
	*ledger.Memory
	mu      sync.Mutex
	down    bool
	lostAck bool
}

func (f *flakyLedger) Append(ctx context.Context, key string, value any) (ledger.Receipt, error) {
	f.mu.Lock()
	down, lostAck := f.down, f.lostAck
	f.mu.Unlock()
	if lostAck {
		if _, err := f.Memory.Append(ctx, key, value); err != nil {
			return ledger.Receipt{}, err
		}
		return ledger.Receipt{}, ledger.ErrUnavailable
	}
	if down {
		return ledger.Receipt{}, ledger.ErrUnavailable
	}
	return f.Memory.Append(ctx, key, value)
}

func (f *flakyLedger) set(down, lostAck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down, f.lostAck = down, lostAck
}

type ReconcilerSuite struct {
	suite.Suite
	ctx        context.Context
	ledger     *flakyLedger
	store      *memory.InMemoryStore
	recorder   *audit.Recorder
	reconciler *audit.Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), writeTime)
	s.ledger = &flakyLedger{Memory: ledger.NewMemory()}
	s.store = memory.NewInMemoryStore()

	var err error
	s.recorder, err = audit.New(s.ledger, s.store, tierDeadlines{})
	s.Require().NoError(err)
	s.reconciler, err = audit.NewReconciler(s.ledger, s.store, audit.WithBatchSize(2))
	s.Require().NoError(err)
}

func (s *ReconcilerSuite) record(id string) *audit.Record {
	rec, err := s.recorder.Record(s.ctx, audit.Event{
		Action:     audit.ActionPaymentProcess,
		EntityType: domain.EntityPayment,
		EntityID:   id,
		NewValues:  map[string]any{"amount": "25.00"},
	})
	s.Require().NoError(err)
	return rec
}

// =============================================================================
// Reconcile
// =============================================================================

func (s *ReconcilerSuite) TestReconcileAfterOutage() {
	s.ledger.set(true, false)
	first := s.record("p-1")
	second := s.record("p-2")
	s.False(first.LedgerVerified)
	s.False(second.LedgerVerified)

	s.Run("ledger still down leaves records pending", func() {
		result, err := s.reconciler.Reconcile(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, result.Processed, "batch stops after the first unavailable error")
		s.Equal(1, result.Failed)
		s.Equal(0, result.Verified)
	})

	s.Run("ledger back flips records to verified", func() {
		s.ledger.set(false, false)
		result, err := s.reconciler.Reconcile(s.ctx)
		s.Require().NoError(err)
		s.Equal(audit.ReconcileResult{Processed: 2, Verified: 2}, result)

		for _, rec := range []*audit.Record{first, second} {
			stored, err := s.store.Get(s.ctx, rec.ID)
			s.Require().NoError(err)
			s.True(stored.LedgerVerified)
			s.NotEmpty(stored.LedgerTxID)
			s.Len(s.ledger.History(rec.LedgerKey), 1)
		}
	})

	s.Run("second pass has nothing to do", func() {
		result, err := s.reconciler.Reconcile(s.ctx)
		s.Require().NoError(err)
		s.Equal(audit.ReconcileResult{}, result)
	})
}

func (s *ReconcilerSuite) TestReconcileReusesLostAcknowledgement() {
	s.ledger.set(false, true)
	rec := s.record("p-3")
	s.False(rec.LedgerVerified)
	s.Len(s.ledger.History(rec.LedgerKey), 1, "append reached the ledger")

	s.ledger.set(false, false)
	result, err := s.reconciler.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Verified)

	s.Len(s.ledger.History(rec.LedgerKey), 1, "no second version is written")
	stored, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	entry, err := s.ledger.Read(s.ctx, rec.LedgerKey)
	s.Require().NoError(err)
	s.Equal(entry.TxID, stored.LedgerTxID)
	s.Equal(entry.Hash, stored.LedgerHash)
}

// =============================================================================
// Verify
// =============================================================================

func (s *ReconcilerSuite) TestVerify() {
	s.Run("intact record verifies", func() {
		rec := s.record("p-10")
		result, err := s.reconciler.Verify(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(result.Verified)
		s.False(result.Pending)
	})

	s.Run("unverified record is pending", func() {
		s.ledger.set(true, false)
		defer s.ledger.set(false, false)
		rec := s.record("p-11")
		result, err := s.reconciler.Verify(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(result.Pending)
		s.False(result.Verified)
	})

	s.Run("newer ledger version is a mismatch", func() {
		rec := s.record("p-12")
		_, err := s.ledger.Memory.Append(s.ctx, rec.LedgerKey, map[string]any{"amount": "9999.00"})
		s.Require().NoError(err)

		_, err = s.reconciler.Verify(s.ctx, rec.ID)
		var mismatch *audit.VerificationMismatchError
		s.Require().ErrorAs(err, &mismatch)
		s.Equal(rec.LedgerKey, mismatch.LedgerKey)
	})

	s.Run("indexed row diverging from ledger is a mismatch", func() {
		original := s.record("p-13")
		forged := *original
		forged.ID = domain.NewRecordID()
		forged.LedgerKey = original.LedgerKey + "-forged"
		receipt, err := s.ledger.Memory.Append(s.ctx, forged.LedgerKey, original.LedgerPayload())
		s.Require().NoError(err)
		forged.LedgerTxID, forged.LedgerHash = receipt.TxID, receipt.Hash
		forged.NewValues = map[string]any{"amount": "1.00"}
		s.Require().NoError(s.store.Create(s.ctx, &forged))

		_, err = s.reconciler.Verify(s.ctx, forged.ID)
		var mismatch *audit.VerificationMismatchError
		s.Require().True(errors.As(err, &mismatch))
		s.Contains(mismatch.Reason, "differs")
	})
}

func (s *ReconcilerSuite) TestVerifyRecent() {
	s.record("p-20")
	tampered := s.record("p-21")
	_, err := s.ledger.Memory.Append(s.ctx, tampered.LedgerKey, map[string]any{"tampered": true})
	s.Require().NoError(err)

	result, err := s.reconciler.VerifyRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(2, result.Checked)
	s.Equal(1, result.Mismatches)
	s.Equal(0, result.Failed)
}
