package erasure_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustledger/internal/audit"
	auditmemory "trustledger/internal/audit/store/memory"
	"trustledger/internal/entity"
	entitymemory "trustledger/internal/entity/store/memory"
	"trustledger/internal/erasure"
	"trustledger/internal/erasure/store/memory"
	"trustledger/internal/ledger"
	"trustledger/internal/platform/config"
	"trustledger/internal/retention"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

var now = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

const financialReason = "Financial record retention obligation (7 years)"

// panicOnApply makes every entity update blow up.
type panicOnApply struct {
	*entitymemory.InMemoryStore
}

func (panicOnApply) Apply(context.Context, entity.Ref, entity.Change) error {
	panic("disk on fire")
}

type WorkflowSuite struct {
	suite.Suite
	ctx           context.Context
	entities      *entitymemory.InMemoryStore
	store         *memory.InMemoryStore
	records       *auditmemory.InMemoryStore
	ledger        *ledger.Memory
	retention     *retention.Engine
	recorder      *audit.Recorder
	pseudonymizer *erasure.Pseudonymizer
	workflow      *erasure.Workflow
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctx = requestcontext.WithActor(s.ctx, "dpo-1", "")
	s.entities = entitymemory.NewInMemoryStore()
	s.store = memory.NewInMemoryStore()
	s.records = auditmemory.NewInMemoryStore()

	policy := config.DefaultPolicy()
	var err error
	s.retention, err = retention.New(policy.Retention, s.records,
		retention.WithHoldRules(retention.HoldRulesFromPolicy(policy.LegalHolds, s.entities)...))
	s.Require().NoError(err)
	s.ledger = ledger.NewMemory()
	s.recorder, err = audit.New(s.ledger, s.records, s.retention)
	s.Require().NoError(err)
	s.pseudonymizer, err = erasure.NewPseudonymizer([]byte("test-key"))
	s.Require().NoError(err)
	s.workflow = s.newWorkflow(s.entities)
}

func (s *WorkflowSuite) newWorkflow(entities entity.Store) *erasure.Workflow {
	w, err := erasure.New(s.store, entities, s.retention, s.recorder,
		erasure.WithPolicy(config.DefaultPolicy().Erasure),
		erasure.WithPseudonymizer(s.pseudonymizer),
	)
	s.Require().NoError(err)
	return w
}

func (s *WorkflowSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(s.ctx, t)
}

func (s *WorkflowSuite) put(snap *entity.Snapshot) {
	snap.Active = true
	s.Require().NoError(s.entities.Put(s.ctx, snap))
}

// putClientWithInvoice stores a client and one invoice of it issued age ago.
func (s *WorkflowSuite) putClientWithInvoice(clientID string, age time.Duration) {
	s.put(&entity.Snapshot{
		Type:      domain.EntityClient,
		ID:        clientID,
		Fields:    map[string]any{"name": "Acme BV", "email": "info@acme.nl", "city": "Utrecht"},
		CreatedAt: now.AddDate(-9, 0, 0),
	})
	s.put(&entity.Snapshot{
		Type:      domain.EntityInvoice,
		ID:        "inv-" + clientID,
		Fields:    map[string]any{"clientName": "Acme BV", "amount": "1210.00"},
		Refs:      []entity.Ref{{Type: domain.EntityClient, ID: clientID}},
		CreatedAt: now.Add(-age),
	})
}

func (s *WorkflowSuite) request(entityType domain.EntityType, id string, method erasure.Method, force bool) *erasure.Outcome {
	out, err := s.workflow.RequestErasure(s.ctx, erasure.Request{
		EntityType: entityType,
		EntityID:   id,
		Reason:     "GDPR art. 17 request",
		Method:     method,
		Force:      force,
	})
	s.Require().NoError(err)
	return out
}

func (s *WorkflowSuite) trail(entityType domain.EntityType, id string) []*audit.Record {
	recs, err := s.records.ListByEntity(s.ctx, entityType, id, audit.Filter{})
	s.Require().NoError(err)
	return recs
}

// =============================================================================
// Legal holds
// =============================================================================

func (s *WorkflowSuite) TestClientWithRecentInvoiceIsRefused() {
	s.putClientWithInvoice("7", 365*24*time.Hour)

	out := s.request(domain.EntityClient, "7", erasure.MethodSoftDelete, false)
	s.False(out.CanDelete)
	s.False(out.DeletionScheduled)
	s.Equal([]string{financialReason}, out.RetentionReasons)
	s.True(out.RecordID.IsNil(), "no record is created")

	trail := s.trail(domain.EntityClient, "7")
	s.Require().Len(trail, 1)
	s.Equal(audit.ActionReject, trail[0].Action)
	s.Equal("dpo-1", trail[0].ActorID)
	s.Equal(domain.ComplianceRegulatory, trail[0].ComplianceLevel)

	due, err := s.store.ListDue(s.at(now.AddDate(1, 0, 0)), now.AddDate(1, 0, 0), 10)
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *WorkflowSuite) TestForcedErasureWaitsAndStillRespectsHold() {
	s.putClientWithInvoice("7", 365*24*time.Hour)

	out := s.request(domain.EntityClient, "7", erasure.MethodSoftDelete, true)
	s.False(out.CanDelete)
	s.True(out.DeletionScheduled)
	s.Equal(now.Add(30*24*time.Hour), out.ScheduledFor)
	s.Equal([]string{financialReason}, out.RetentionReasons)

	s.Run("not executable during the grace period", func() {
		_, err := s.workflow.Execute(s.ctx, out.RecordID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		rec, err := s.workflow.Get(s.ctx, out.RecordID)
		s.Require().NoError(err)
		s.Equal(erasure.StateScheduled, rec.State)
	})

	s.Run("execution under an active hold fails", func() {
		rec, err := s.workflow.Execute(s.at(now.AddDate(0, 0, 31)), out.RecordID)
		var violation *erasure.RetentionViolation
		s.Require().ErrorAs(err, &violation)
		s.Equal([]string{financialReason}, violation.Reasons)
		s.Require().NotNil(rec)
		s.Equal(erasure.StateFailed, rec.State)
		s.Equal(erasure.ResultFailed, rec.Result)
		s.Contains(rec.Error, "legal hold")
		s.Nil(rec.DeletedAt)

		client, err := s.entities.Get(s.ctx, entity.Ref{Type: domain.EntityClient, ID: "7"})
		s.Require().NoError(err)
		s.Equal("info@acme.nl", client.Fields["email"], "nothing was scrubbed")
	})

	s.Run("repeated execution still reports the violation", func() {
		_, err := s.workflow.Execute(s.at(now.AddDate(0, 0, 32)), out.RecordID)
		var violation *erasure.RetentionViolation
		s.Require().ErrorAs(err, &violation)
		s.Equal([]string{financialReason}, violation.Reasons)
	})

	s.Run("the failure is audited against the erasure record", func() {
		trail := s.trail(domain.EntityErasureRecord, out.RecordID.String())
		s.Require().Len(trail, 2)
		s.Equal(audit.ActionDelete, trail[0].Action)
		s.Equal("FAILED", trail[0].NewValues["result"])
		s.Equal(audit.ActionCreate, trail[1].Action)
	})
}

func (s *WorkflowSuite) TestForcedArchivalFailsUnderHold() {
	s.putClientWithInvoice("8", 365*24*time.Hour)

	out := s.request(domain.EntityClient, "8", erasure.MethodArchival, true)
	rec, err := s.workflow.Execute(s.at(now.AddDate(0, 0, 30)), out.RecordID)
	var violation *erasure.RetentionViolation
	s.Require().ErrorAs(err, &violation)
	s.Equal([]string{financialReason}, violation.Reasons)
	s.Require().NotNil(rec)
	s.Equal(erasure.StateFailed, rec.State)
	s.Equal(erasure.ResultFailed, rec.Result)
	s.Nil(rec.DeletedAt)

	client, err := s.entities.Get(s.ctx, entity.Ref{Type: domain.EntityClient, ID: "8"})
	s.Require().NoError(err)
	s.True(client.Active)
	s.False(client.ArchivePending)
}

func (s *WorkflowSuite) TestOldInvoicesDoNotHold() {
	s.putClientWithInvoice("9", 8*365*24*time.Hour)

	out := s.request(domain.EntityClient, "9", erasure.MethodSoftDelete, false)
	s.True(out.CanDelete)
	s.True(out.DeletionScheduled)
	s.Empty(out.RetentionReasons)
	s.Equal(now, out.ScheduledFor)
}

// =============================================================================
// Strategies
// =============================================================================

func (s *WorkflowSuite) TestStrategies() {
	profile := func(id string) {
		s.put(&entity.Snapshot{
			Type:      domain.EntityUserProfile,
			ID:        id,
			Fields:    map[string]any{"email": id + "@example.nl", "firstName": "Anna", "plan": "pro"},
			CreatedAt: now.AddDate(-2, 0, 0),
		})
	}
	execute := func(id string, method erasure.Method) (*erasure.Record, *entity.Snapshot) {
		out := s.request(domain.EntityUserProfile, id, method, false)
		s.Require().True(out.CanDelete)
		rec, err := s.workflow.Execute(s.ctx, out.RecordID)
		s.Require().NoError(err)
		s.Equal(erasure.ResultSuccess, rec.Result)
		s.Require().NotNil(rec.DeletedAt)
		s.Equal(id+"@example.nl", rec.Snapshot["fields"].(map[string]any)["email"], "snapshot is taken before the strategy")
		snap, err := s.entities.Get(s.ctx, entity.Ref{Type: domain.EntityUserProfile, ID: id})
		if errors.Is(err, sentinel.ErrNotFound) {
			return rec, nil
		}
		s.Require().NoError(err)
		return rec, snap
	}

	s.Run("soft delete keeps the row with placeholders", func() {
		profile("soft")
		_, snap := execute("soft", erasure.MethodSoftDelete)
		s.Require().NotNil(snap)
		s.Equal(erasure.Placeholder, snap.Fields["email"])
		s.Equal(erasure.Placeholder, snap.Fields["firstName"])
		s.Equal("pro", snap.Fields["plan"])
		s.False(snap.Active)
	})

	s.Run("anonymization writes random values", func() {
		profile("anon")
		_, snap := execute("anon", erasure.MethodAnonymization)
		s.Require().NotNil(snap)
		email := snap.Fields["email"].(string)
		s.True(strings.HasPrefix(email, "anon-"))
		s.True(strings.HasSuffix(email, "@anonymized.invalid"))
		s.NotEqual(snap.Fields["firstName"], email)
	})

	s.Run("pseudonymization is keyed and deterministic", func() {
		profile("pseudo")
		_, snap := execute("pseudo", erasure.MethodPseudonymization)
		s.Require().NotNil(snap)
		token := s.pseudonymizer.Token(domain.EntityUserProfile, "pseudo")
		s.Equal("pseudo:"+token, snap.Fields["email"])
		s.Equal(snap.Fields["email"], snap.Fields["firstName"])

		other, err := erasure.NewPseudonymizer([]byte("another-key"))
		s.Require().NoError(err)
		s.NotEqual(token, other.Token(domain.EntityUserProfile, "pseudo"))
	})

	s.Run("archival only flags the row", func() {
		profile("arch")
		_, snap := execute("arch", erasure.MethodArchival)
		s.Require().NotNil(snap)
		s.Equal("arch@example.nl", snap.Fields["email"])
		s.True(snap.ArchivePending)
	})

	s.Run("secure delete removes the row", func() {
		profile("gone")
		_, snap := execute("gone", erasure.MethodSecureDelete)
		s.Nil(snap)
	})
}

func (s *WorkflowSuite) TestSecureDeleteCascades() {
	s.putClientWithInvoice("10", 8*365*24*time.Hour)
	out := s.request(domain.EntityClient, "10", erasure.MethodSecureDelete, false)
	_, err := s.workflow.Execute(s.ctx, out.RecordID)
	s.Require().NoError(err)

	_, err = s.entities.Get(s.ctx, entity.Ref{Type: domain.EntityInvoice, ID: "inv-10"})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *WorkflowSuite) TestErasedDataStaysOutOfTheLedger() {
	s.put(&entity.Snapshot{
		Type:      domain.EntityUserProfile,
		ID:        "gone",
		Fields:    map[string]any{"email": "gone@example.nl", "firstName": "Bram"},
		CreatedAt: now.AddDate(-2, 0, 0),
	})
	out := s.request(domain.EntityUserProfile, "gone", erasure.MethodSecureDelete, false)
	rec, err := s.workflow.Execute(s.ctx, out.RecordID)
	s.Require().NoError(err)
	s.Equal("gone@example.nl", rec.Snapshot["fields"].(map[string]any)["email"], "the erasure record keeps the snapshot")

	var deletion *audit.Record
	for _, r := range s.trail(domain.EntityErasureRecord, out.RecordID.String()) {
		if r.Action == audit.ActionDelete {
			deletion = r
		}
	}
	s.Require().NotNil(deletion)

	entry, err := s.ledger.Read(s.ctx, deletion.LedgerKey)
	s.Require().NoError(err)
	s.NotContains(string(entry.Value), "gone@example.nl")
	s.NotContains(string(entry.Value), "Bram")
	s.NotContains(fmt.Sprint(deletion.OldValues), "gone@example.nl")

	s.Run("summary lists fields and digests the snapshot", func() {
		s.ElementsMatch([]any{"email", "firstName"}, deletion.OldValues["fields"])
		canonical, err := ledger.Canonicalize(rec.Snapshot)
		s.Require().NoError(err)
		sum := sha256.Sum256(canonical)
		s.Equal(hex.EncodeToString(sum[:]), deletion.OldValues["snapshotSha256"])
	})
}

// =============================================================================
// Execution guarantees
// =============================================================================

func (s *WorkflowSuite) TestExecuteIsIdempotent() {
	s.putClientWithInvoice("11", 8*365*24*time.Hour)
	out := s.request(domain.EntityClient, "11", erasure.MethodSoftDelete, false)

	first, err := s.workflow.Execute(s.ctx, out.RecordID)
	s.Require().NoError(err)
	second, err := s.workflow.Execute(s.at(now.Add(time.Hour)), out.RecordID)
	s.Require().NoError(err)
	s.Equal(first, second)

	deletes := 0
	for _, rec := range s.trail(domain.EntityErasureRecord, out.RecordID.String()) {
		if rec.Action == audit.ActionDelete {
			deletes++
		}
	}
	s.Equal(1, deletes)
}

func (s *WorkflowSuite) TestConcurrentExecutorsRunOnce() {
	s.putClientWithInvoice("12", 8*365*24*time.Hour)
	out := s.request(domain.EntityClient, "12", erasure.MethodSoftDelete, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.workflow.Execute(s.ctx, out.RecordID)
		}()
	}
	wg.Wait()

	rec, err := s.workflow.Get(s.ctx, out.RecordID)
	s.Require().NoError(err)
	s.Equal(erasure.StateSuccess, rec.State)

	deletes := 0
	for _, r := range s.trail(domain.EntityErasureRecord, out.RecordID.String()) {
		if r.Action == audit.ActionDelete {
			deletes++
		}
	}
	s.Equal(1, deletes)
}

func (s *WorkflowSuite) TestTransitionIsCompareAndSet() {
	s.putClientWithInvoice("13", 8*365*24*time.Hour)
	out := s.request(domain.EntityClient, "13", erasure.MethodSoftDelete, false)

	s.Require().NoError(s.store.Transition(s.ctx, out.RecordID, erasure.StateScheduled, erasure.StateExecuting))
	err := s.store.Transition(s.ctx, out.RecordID, erasure.StateScheduled, erasure.StateExecuting)
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.workflow.Execute(s.ctx, out.RecordID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *WorkflowSuite) TestPanickingStrategyFailsRecord() {
	s.putClientWithInvoice("14", 8*365*24*time.Hour)
	out := s.request(domain.EntityClient, "14", erasure.MethodSoftDelete, false)

	w := s.newWorkflow(panicOnApply{s.entities})
	rec, err := w.Execute(s.ctx, out.RecordID)
	s.Require().Error(err)
	s.Contains(err.Error(), "panicked")
	s.Equal(erasure.StateFailed, rec.State)
	s.Contains(rec.Error, "disk on fire")

	s.Run("repeated execution reports the stored failure", func() {
		again, err := w.Execute(s.at(now.Add(time.Hour)), out.RecordID)
		s.Require().ErrorIs(err, erasure.ErrExecutionFailed)
		s.Contains(err.Error(), "disk on fire")
		s.Equal(rec, again)
	})
}

func (s *WorkflowSuite) TestExecuteDue() {
	s.putClientWithInvoice("15", 8*365*24*time.Hour)
	s.putClientWithInvoice("16", 365*24*time.Hour)
	s.request(domain.EntityClient, "15", erasure.MethodSoftDelete, false)
	s.request(domain.EntityClient, "16", erasure.MethodSoftDelete, true)

	s.Run("only matured records run", func() {
		result, err := s.workflow.ExecuteDue(s.ctx)
		s.Require().NoError(err)
		s.Equal(erasure.BatchResult{Processed: 1, Successful: 1}, result)
	})

	s.Run("held record fails without stopping the batch", func() {
		result, err := s.workflow.ExecuteDue(s.at(now.AddDate(0, 0, 31)))
		s.Require().NoError(err)
		s.Equal(1, result.Processed)
		s.Equal(1, result.Failed)
		s.Require().Len(result.Errors, 1)
		s.Contains(result.Errors[0], "retention violation")
	})
}

func (s *WorkflowSuite) TestRecoverStale() {
	stuck := &erasure.Record{
		ID:           domain.NewErasureID(),
		PolicyID:     "gdpr-art17",
		EntityType:   domain.EntityClient,
		EntityID:     "17",
		Reason:       "request",
		RequestedBy:  "dpo-1",
		Method:       erasure.MethodSoftDelete,
		State:        erasure.StateExecuting,
		Result:       erasure.ResultPending,
		ScheduledFor: now.Add(-2 * time.Hour),
		CreatedAt:    now.Add(-2 * time.Hour),
		UpdatedAt:    now.Add(-time.Hour),
	}
	s.Require().NoError(s.store.Create(s.ctx, stuck))

	n, err := s.workflow.RecoverStale(s.ctx, 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, n)

	rec, err := s.workflow.Get(s.ctx, stuck.ID)
	s.Require().NoError(err)
	s.Equal(erasure.StateFailed, rec.State)
	s.Equal("execution interrupted", rec.Error)

	n, err = s.workflow.RecoverStale(s.ctx, 30*time.Minute)
	s.Require().NoError(err)
	s.Zero(n)
}

// =============================================================================
// Validation
// =============================================================================

func (s *WorkflowSuite) TestRequestValidation() {
	cases := []struct {
		name string
		req  erasure.Request
		code dErrors.Code
	}{
		{"missing reason", erasure.Request{EntityType: domain.EntityClient, EntityID: "1"}, dErrors.CodeValidation},
		{"missing id", erasure.Request{EntityType: domain.EntityClient, Reason: "r"}, dErrors.CodeValidation},
		{"bad type", erasure.Request{EntityType: "no such:type", EntityID: "1", Reason: "r"}, dErrors.CodeValidation},
		{"bad method", erasure.Request{EntityType: domain.EntityClient, EntityID: "1", Reason: "r", Method: 42}, dErrors.CodeValidation},
		{"unknown entity", erasure.Request{EntityType: domain.EntityClient, EntityID: "nope", Reason: "r"}, dErrors.CodeNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.workflow.RequestErasure(s.ctx, tc.req)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestParseMethod(t *testing.T) {
	for _, name := range []string{"SOFT_DELETE", "secure_delete", " Anonymization ", "PSEUDONYMIZATION", "ARCHIVAL"} {
		m, err := erasure.ParseMethod(name)
		require.NoError(t, err, name)
		require.Equal(t, strings.ToUpper(strings.TrimSpace(name)), m.String())
	}
	_, err := erasure.ParseMethod("SHRED")
	require.Error(t, err)
}

func TestNewPseudonymizerRequiresKey(t *testing.T) {
	_, err := erasure.NewPseudonymizer(nil)
	require.Error(t, err)

	long, err := erasure.NewPseudonymizer([]byte(strings.Repeat("k", 100)))
	require.NoError(t, err)
	require.Len(t, long.Token(domain.EntityClient, "1"), 64)
}
