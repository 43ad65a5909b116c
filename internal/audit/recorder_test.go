package audit_test

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,Sink

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustledger/internal/audit"
	auditmocks "trustledger/internal/audit/mocks"
	"trustledger/internal/audit/store/memory"
	"trustledger/internal/ledger"
	ledgermocks "trustledger/internal/ledger/mocks"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

// tierDeadlines mirrors the default retention tiers without importing the
// retention engine.
type tierDeadlines struct{}

func (tierDeadlines) Deadline(_ domain.EntityType, level domain.ComplianceLevel, writeTime time.Time) time.Time {
	years := map[domain.ComplianceLevel]int{
		domain.ComplianceStandard:   3,
		domain.ComplianceEnhanced:   5,
		domain.ComplianceCritical:   7,
		domain.ComplianceRegulatory: 10,
	}[level]
	return writeTime.AddDate(years, 0, 0)
}

var writeTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type RecorderSuite struct {
	suite.Suite
	ctx      context.Context
	ledger   *ledger.Memory
	store    *memory.InMemoryStore
	recorder *audit.Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), writeTime)
	s.ledger = ledger.NewMemory()
	s.store = memory.NewInMemoryStore()
	rec, err := audit.New(s.ledger, s.store, tierDeadlines{},
		audit.WithDefaultLevels(map[domain.EntityType]domain.ComplianceLevel{
			domain.EntityInvoice: domain.ComplianceCritical,
		}),
	)
	s.Require().NoError(err)
	s.recorder = rec
}

// =============================================================================
// Dual write
// =============================================================================

func (s *RecorderSuite) TestRecordDualWrite() {
	s.Run("standard create is verified with a three year deadline", func() {
		ctx := requestcontext.WithActor(s.ctx, "user-42", "sess-1")
		ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.9", "curl/8.0")

		rec, err := s.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionCreate,
			EntityType: domain.EntityClient,
			EntityID:   "c-1",
			NewValues:  map[string]any{"name": "Acme"},
		})
		s.Require().NoError(err)

		s.Equal(domain.ComplianceStandard, rec.ComplianceLevel)
		s.Equal(writeTime.AddDate(3, 0, 0), rec.RetentionUntil)
		s.True(rec.LedgerVerified)
		s.NotEmpty(rec.LedgerTxID)
		s.Equal(rec.CreatedAt, writeTime)
		s.Equal("audit:Client:c-1:"+itoa(writeTime.UnixNano()), rec.LedgerKey)
		s.Equal("user-42", rec.ActorID)
		s.Equal("sess-1", rec.SessionID)
		s.Equal("203.0.113.9", rec.IPAddress)
		s.Equal("curl/8.0", rec.UserAgent)

		entry, err := s.ledger.Read(s.ctx, rec.LedgerKey)
		s.Require().NoError(err)
		s.Equal(rec.LedgerTxID, entry.TxID)
		s.Equal(rec.LedgerHash, entry.Hash)

		stored, err := s.store.Get(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(stored.LedgerVerified)
	})

	s.Run("entity default level applies when no hint is given", func() {
		rec, err := s.recorder.Record(s.ctx, audit.Event{
			Action:     audit.ActionCreate,
			EntityType: domain.EntityInvoice,
			EntityID:   "inv-1",
		})
		s.Require().NoError(err)
		s.Equal(domain.ComplianceCritical, rec.ComplianceLevel)
		s.Equal(writeTime.AddDate(7, 0, 0), rec.RetentionUntil)
	})

	s.Run("level hint wins over entity default", func() {
		rec, err := s.recorder.Record(s.ctx, audit.Event{
			Action:     audit.ActionUpdate,
			EntityType: domain.EntityInvoice,
			EntityID:   "inv-2",
			Level:      domain.ComplianceRegulatory,
		})
		s.Require().NoError(err)
		s.Equal(domain.ComplianceRegulatory, rec.ComplianceLevel)
		s.Equal(writeTime.AddDate(10, 0, 0), rec.RetentionUntil)
	})

	s.Run("explicit actor is kept over request context", func() {
		ctx := requestcontext.WithActor(s.ctx, "ctx-user", "")
		rec, err := s.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionLogin,
			EntityType: domain.EntityUserProfile,
			EntityID:   "u-1",
			Actor:      audit.Actor{ID: "explicit"},
		})
		s.Require().NoError(err)
		s.Equal("explicit", rec.ActorID)
	})
}

func (s *RecorderSuite) TestRecordValidation() {
	cases := []struct {
		name  string
		event audit.Event
	}{
		{"unknown action", audit.Event{Action: "ARCHIVE", EntityType: domain.EntityClient, EntityID: "c"}},
		{"empty entity id", audit.Event{Action: audit.ActionCreate, EntityType: domain.EntityClient}},
		{"bad entity type", audit.Event{Action: audit.ActionCreate, EntityType: "no spaces allowed", EntityID: "c"}},
		{"bad level", audit.Event{Action: audit.ActionCreate, EntityType: domain.EntityClient, EntityID: "c", Level: "LOW"}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.recorder.Record(s.ctx, tc.event)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
			s.Equal(0, s.store.Count())
		})
	}
}

func (s *RecorderSuite) TestKeySuffixOnSameInstant() {
	event := audit.Event{Action: audit.ActionUpdate, EntityType: domain.EntityClient, EntityID: "c-9"}

	first, err := s.recorder.Record(s.ctx, event)
	s.Require().NoError(err)
	second, err := s.recorder.Record(s.ctx, event)
	s.Require().NoError(err)
	third, err := s.recorder.Record(s.ctx, event)
	s.Require().NoError(err)

	base := "audit:Client:c-9:" + itoa(writeTime.UnixNano())
	s.Equal(base, first.LedgerKey)
	s.Equal(base+"-1", second.LedgerKey)
	s.Equal(base+"-2", third.LedgerKey)

	history := s.ledger.History(base)
	s.Len(history, 1, "colliding writes must not create new versions of the first key")
}

// =============================================================================
// Sanitization
// =============================================================================

func (s *RecorderSuite) TestRecordSanitizesValues() {
	input := map[string]any{
		"email":    "a@example.com",
		"password": "hunter2",
		"settings": map[string]any{
			"api_key": "k-123",
			"theme":   "dark",
		},
		"cards": []any{map[string]any{"cardNumber": "4111", "label": "main"}},
	}

	rec, err := s.recorder.Record(s.ctx, audit.Event{
		Action:     audit.ActionUpdate,
		EntityType: domain.EntityUserProfile,
		EntityID:   "u-7",
		NewValues:  input,
	})
	s.Require().NoError(err)

	s.Equal(audit.Redacted, rec.NewValues["password"])
	s.Equal("a@example.com", rec.NewValues["email"])
	settings := rec.NewValues["settings"].(map[string]any)
	s.Equal(audit.Redacted, settings["api_key"])
	s.Equal("dark", settings["theme"])
	card := rec.NewValues["cards"].([]any)[0].(map[string]any)
	s.Equal(audit.Redacted, card["cardNumber"])

	s.Equal("hunter2", input["password"], "caller's map must not be modified")

	entry, err := s.ledger.Read(s.ctx, rec.LedgerKey)
	s.Require().NoError(err)
	s.NotContains(string(entry.Value), "hunter2")
	s.NotContains(string(entry.Value), "k-123")
}

// =============================================================================
// Trail queries
// =============================================================================

func (s *RecorderSuite) TestGetTrail() {
	for i, action := range []audit.Action{audit.ActionCreate, audit.ActionUpdate, audit.ActionApprove} {
		ctx := requestcontext.WithTime(s.ctx, writeTime.Add(time.Duration(i)*time.Minute))
		_, err := s.recorder.Record(ctx, audit.Event{Action: action, EntityType: domain.EntityInvoice, EntityID: "inv-5"})
		s.Require().NoError(err)
	}
	_, err := s.recorder.Record(s.ctx, audit.Event{Action: audit.ActionCreate, EntityType: domain.EntityInvoice, EntityID: "other"})
	s.Require().NoError(err)

	s.Run("newest first", func() {
		trail, err := s.recorder.GetTrail(s.ctx, domain.EntityInvoice, "inv-5", audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(trail, 3)
		s.Equal(audit.ActionApprove, trail[0].Action)
		s.Equal(audit.ActionCreate, trail[2].Action)
	})

	s.Run("action filter", func() {
		trail, err := s.recorder.GetTrail(s.ctx, domain.EntityInvoice, "inv-5", audit.Filter{
			Actions: []audit.Action{audit.ActionCreate, audit.ActionUpdate},
		})
		s.Require().NoError(err)
		s.Len(trail, 2)
	})

	s.Run("time range and limit", func() {
		trail, err := s.recorder.GetTrail(s.ctx, domain.EntityInvoice, "inv-5", audit.Filter{
			From:  writeTime.Add(time.Minute),
			Limit: 1,
		})
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(audit.ActionApprove, trail[0].Action)
	})

	s.Run("empty entity id is rejected", func() {
		_, err := s.recorder.GetTrail(s.ctx, domain.EntityInvoice, "", audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// =============================================================================
// Failure handling
// =============================================================================

func TestRecordLedgerUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := ledgermocks.NewMockLedger(ctrl)
	store := memory.NewInMemoryStore()
	rec, err := audit.New(l, store, tierDeadlines{})
	require.NoError(t, err)

	l.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Return(ledger.Receipt{}, ledger.ErrUnavailable)

	got, err := rec.Record(context.Background(), audit.Event{
		Action:     audit.ActionCreate,
		EntityType: domain.EntityPayment,
		EntityID:   "p-1",
	})
	require.NoError(t, err, "ledger outage must not fail the business operation")
	assert.False(t, got.LedgerVerified)
	assert.Empty(t, got.LedgerTxID)
	assert.True(t, strings.HasPrefix(got.LedgerKey, "audit:Payment:p-1:"))

	unverified, err := store.ListUnverified(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	assert.Equal(t, got.ID, unverified[0].ID)
}

func TestRecordIndexFailureIsPartialWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := auditmocks.NewMockStore(ctrl)
	l := ledger.NewMemory()
	rec, err := audit.New(l, store, tierDeadlines{})
	require.NoError(t, err)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	_, err = rec.Record(context.Background(), audit.Event{
		Action:     audit.ActionDelete,
		EntityType: domain.EntityCreditor,
		EntityID:   "cr-1",
	})
	var partial *audit.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.True(t, partial.LedgerWritten)
	assert.NotEmpty(t, partial.LedgerKey)

	_, err = l.Read(context.Background(), partial.LedgerKey)
	assert.NoError(t, err, "ledger half stays written for reconciliation")
}

func TestRecordPublishesToSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := auditmocks.NewMockSink(ctrl)
	rec, err := audit.New(ledger.NewMemory(), memory.NewInMemoryStore(), tierDeadlines{}, audit.WithSink(sink))
	require.NoError(t, err)

	t.Run("record is published", func(t *testing.T) {
		sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
		_, err := rec.Record(context.Background(), audit.Event{Action: audit.ActionCreate, EntityType: domain.EntityClient, EntityID: "c-1"})
		require.NoError(t, err)
	})

	t.Run("sink failure does not fail the write", func(t *testing.T) {
		sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
		_, err := rec.Record(context.Background(), audit.Event{Action: audit.ActionCreate, EntityType: domain.EntityClient, EntityID: "c-2"})
		require.NoError(t, err)
	})
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := audit.New(nil, memory.NewInMemoryStore(), tierDeadlines{})
	assert.Error(t, err)
	_, err = audit.New(ledger.NewMemory(), nil, tierDeadlines{})
	assert.Error(t, err)
	_, err = audit.New(ledger.NewMemory(), memory.NewInMemoryStore(), nil)
	assert.Error(t, err)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
