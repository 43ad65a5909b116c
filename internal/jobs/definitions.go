package jobs

import (
	"context"
	"fmt"
	"time"

	"trustledger/internal/audit"
	"trustledger/internal/compliance"
	"trustledger/internal/erasure"
	"trustledger/internal/platform/config"
	"trustledger/internal/retention"
)

// Job names, also used in the manual trigger route.
const (
	RetentionSweep  = "retention-sweep"
	ComplianceScan  = "compliance-scan"
	ErasureExecutor = "erasure-executor"
	LedgerReconcile = "ledger-reconcile"
	LedgerVerify    = "ledger-verify"
)

type Sweeper interface {
	Sweep(ctx context.Context) (retention.SweepResult, error)
}

type Scanner interface {
	ScanAll(ctx context.Context) ([]compliance.ScanReport, error)
}

type ErasureRunner interface {
	ExecuteDue(ctx context.Context) (erasure.BatchResult, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (audit.ReconcileResult, error)
	VerifyRecent(ctx context.Context, limit int) (audit.VerifyBatchResult, error)
}

// Deps are the services the standard jobs drive.
type Deps struct {
	Retention   Sweeper
	Compliance  Scanner
	Erasure     ErasureRunner
	Ledger      Reconciler
	VerifyLimit int
}

// ErasureSummary reports one executor run.
type ErasureSummary struct {
	Recovered int                 `json:"recovered"`
	Batch     erasure.BatchResult `json:"batch"`
}

// RegisterAll registers the standard jobs with their configured specs.
func RegisterAll(s *Scheduler, cfg config.JobsConfig, d Deps) error {
	limit := d.VerifyLimit
	if limit <= 0 {
		limit = 100
	}
	jobs := []struct {
		name string
		spec string
		fn   Func
	}{
		{RetentionSweep, cfg.RetentionSweep, func(ctx context.Context) (any, error) {
			return d.Retention.Sweep(ctx)
		}},
		{ComplianceScan, cfg.ComplianceScan, func(ctx context.Context) (any, error) {
			return d.Compliance.ScanAll(ctx)
		}},
		{ErasureExecutor, cfg.ErasureExecutor, func(ctx context.Context) (any, error) {
			var out ErasureSummary
			n, err := d.Erasure.RecoverStale(ctx, cfg.StaleErasure)
			if err != nil {
				return out, fmt.Errorf("recover stale erasures: %w", err)
			}
			out.Recovered = n
			out.Batch, err = d.Erasure.ExecuteDue(ctx)
			return out, err
		}},
		{LedgerReconcile, cfg.LedgerReconcile, func(ctx context.Context) (any, error) {
			return d.Ledger.Reconcile(ctx)
		}},
		{LedgerVerify, cfg.LedgerVerify, func(ctx context.Context) (any, error) {
			return d.Ledger.VerifyRecent(ctx, limit)
		}},
	}
	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}
