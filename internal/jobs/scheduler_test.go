package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustledger/internal/audit"
	"trustledger/internal/compliance"
	"trustledger/internal/erasure"
	"trustledger/internal/jobs"
	"trustledger/internal/platform/config"
	"trustledger/internal/retention"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

type SchedulerSuite struct {
	suite.Suite
	scheduler *jobs.Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.scheduler = jobs.New(jobs.WithMetrics(jobs.NewMetrics(prometheus.NewRegistry())))
}

// =============================================================================
// Registration and triggering
// =============================================================================

func (s *SchedulerSuite) TestTriggerRunsWithSystemActor() {
	var actor string
	var at time.Time
	s.Require().NoError(s.scheduler.Register("noop", "", func(ctx context.Context) (any, error) {
		actor = requestcontext.ActorID(ctx)
		at = requestcontext.Now(ctx)
		return "done", nil
	}))

	summary, err := s.scheduler.Trigger(context.Background(), "noop")
	s.Require().NoError(err)
	s.Equal("done", summary)
	s.Equal(jobs.SystemActor, actor)
	s.WithinDuration(time.Now(), at, time.Minute)

	s.Run("caller's actor is kept", func() {
		_, err := s.scheduler.Trigger(requestcontext.WithActor(context.Background(), "ops-1", ""), "noop")
		s.Require().NoError(err)
		s.Equal("ops-1", actor)
	})
}

func (s *SchedulerSuite) TestRegisterRejectsDuplicatesAndBadSpecs() {
	noop := func(context.Context) (any, error) { return nil, nil }
	s.Require().NoError(s.scheduler.Register("a", "@every 1h", noop))
	s.Error(s.scheduler.Register("a", "", noop))
	s.Error(s.scheduler.Register("b", "not a spec", noop))
	s.Equal([]string{"a"}, s.scheduler.Names())
}

func (s *SchedulerSuite) TestUnknownJob() {
	_, err := s.scheduler.Trigger(context.Background(), "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SchedulerSuite) TestOverlappingRunIsSkipped() {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	s.Require().NoError(s.scheduler.Register("slow", "", func(ctx context.Context) (any, error) {
		runs.Add(1)
		close(started)
		<-release
		return nil, nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.scheduler.Trigger(context.Background(), "slow")
	}()
	<-started

	_, err := s.scheduler.Trigger(context.Background(), "slow")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	close(release)
	wg.Wait()
	s.Equal(int32(1), runs.Load())
}

func (s *SchedulerSuite) TestFailuresAndPanicsAreReturned() {
	s.Require().NoError(s.scheduler.Register("fails", "", func(context.Context) (any, error) {
		return nil, errors.New("ledger down")
	}))
	s.Require().NoError(s.scheduler.Register("panics", "", func(context.Context) (any, error) {
		panic("boom")
	}))

	_, err := s.scheduler.Trigger(context.Background(), "fails")
	s.ErrorContains(err, "ledger down")
	_, err = s.scheduler.Trigger(context.Background(), "panics")
	s.ErrorContains(err, "panicked")

	s.Run("job can run again after a panic", func() {
		_, err := s.scheduler.Trigger(context.Background(), "panics")
		s.ErrorContains(err, "panicked")
	})
}

func (s *SchedulerSuite) TestTimeoutCancelsRun() {
	scheduler := jobs.New(jobs.WithTimeout(10 * time.Millisecond))
	s.Require().NoError(scheduler.Register("blocking", "", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, err := scheduler.Trigger(context.Background(), "blocking")
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *SchedulerSuite) TestScheduledRun() {
	ran := make(chan struct{}, 1)
	s.Require().NoError(s.scheduler.Register("tick", "@every 1s", func(context.Context) (any, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, nil
	}))
	s.scheduler.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.NoError(s.scheduler.Stop(ctx))
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		s.Fail("scheduled job did not run")
	}
}

// =============================================================================
// Standard jobs
// =============================================================================

type fakeServices struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeServices) call(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeServices) Sweep(context.Context) (retention.SweepResult, error) {
	f.call("sweep")
	return retention.SweepResult{Processed: 3, Deleted: 3}, nil
}

func (f *fakeServices) ScanAll(context.Context) ([]compliance.ScanReport, error) {
	f.call("scan")
	return nil, nil
}

func (f *fakeServices) ExecuteDue(context.Context) (erasure.BatchResult, error) {
	f.call("execute")
	return erasure.BatchResult{Processed: 1, Successful: 1}, nil
}

func (f *fakeServices) RecoverStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.call("recover:" + olderThan.String())
	return 2, nil
}

func (f *fakeServices) Reconcile(context.Context) (audit.ReconcileResult, error) {
	f.call("reconcile")
	return audit.ReconcileResult{}, nil
}

func (f *fakeServices) VerifyRecent(_ context.Context, limit int) (audit.VerifyBatchResult, error) {
	f.call("verify")
	return audit.VerifyBatchResult{Checked: limit}, nil
}

func TestRegisterAll(t *testing.T) {
	fake := &fakeServices{}
	scheduler := jobs.New()
	cfg := config.JobsConfig{RetentionSweep: "@daily", StaleErasure: 30 * time.Minute}
	require.NoError(t, jobs.RegisterAll(scheduler, cfg, jobs.Deps{
		Retention:  fake,
		Compliance: fake,
		Erasure:    fake,
		Ledger:     fake,
	}))

	assert.Equal(t, []string{
		jobs.ComplianceScan, jobs.ErasureExecutor, jobs.LedgerReconcile, jobs.LedgerVerify, jobs.RetentionSweep,
	}, scheduler.Names())

	summary, err := scheduler.Trigger(context.Background(), jobs.ErasureExecutor)
	require.NoError(t, err)
	assert.Equal(t, jobs.ErasureSummary{Recovered: 2, Batch: erasure.BatchResult{Processed: 1, Successful: 1}}, summary)
	assert.Equal(t, []string{"recover:30m0s", "execute"}, fake.calls)

	summary, err = scheduler.Trigger(context.Background(), jobs.LedgerVerify)
	require.NoError(t, err)
	assert.Equal(t, audit.VerifyBatchResult{Checked: 100}, summary)

	summary, err = scheduler.Trigger(context.Background(), jobs.RetentionSweep)
	require.NoError(t, err)
	assert.Equal(t, retention.SweepResult{Processed: 3, Deleted: 3}, summary)
}
