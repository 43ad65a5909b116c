package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trustledger/internal/ledger"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

const defaultBatchSize = 500

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Processed int `json:"processed"`
	Verified  int `json:"verified"`
	Failed    int `json:"failed"`
}

// Reconciler completes the ledger half of records indexed while the ledger
// was unavailable. It never creates index rows.
type Reconciler struct {
	ledger    ledger.Ledger
	store     Store
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	batchSize int
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewReconciler(l ledger.Ledger, store Store, opts ...ReconcilerOption) (*Reconciler, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Reconciler{
		ledger:    l,
		store:     store,
		logger:    slog.Default(),
		tracer:    otel.Tracer("trustledger/audit"),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile processes one batch of unverified records. Each record is handled
// in isolation; a failure is counted and the pass continues.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	ctx, span := r.tracer.Start(ctx, "audit.Reconcile")
	defer span.End()

	pending, err := r.store.ListUnverified(ctx, r.batchSize)
	if err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	for _, rec := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++
		if err := r.reconcileOne(ctx, rec); err != nil {
			result.Failed++
			r.logger.WarnContext(ctx, "ledger reconciliation failed",
				"record_id", rec.ID.String(),
				"ledger_key", rec.LedgerKey,
				"error", err,
			)
			if ledger.IsUnavailable(err) {
				// The rest of the batch would fail the same way.
				break
			}
			continue
		}
		result.Verified++
		r.metrics.incReconciled()
	}
	span.SetAttributes(
		attribute.Int("audit.reconcile.processed", result.Processed),
		attribute.Int("audit.reconcile.verified", result.Verified),
	)
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec *Record) error {
	payload := rec.LedgerPayload()
	want, err := ledger.Canonicalize(payload)
	if err != nil {
		return err
	}

	// The original append may have reached the ledger even though the
	// recorder saw an error; reuse it instead of writing a second version.
	entry, err := r.ledger.Read(ctx, rec.LedgerKey)
	switch {
	case err == nil && bytes.Equal(entry.Value, want):
		return r.store.MarkVerified(ctx, rec.ID, entry.TxID, entry.Hash)
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return err
	}

	receipt, err := r.ledger.Append(ctx, rec.LedgerKey, payload)
	if err != nil {
		return err
	}
	return r.store.MarkVerified(ctx, rec.ID, receipt.TxID, receipt.Hash)
}

// VerifyResult is the outcome of re-checking one record against the ledger.
type VerifyResult struct {
	RecordID  domain.RecordID `json:"recordId"`
	LedgerKey string          `json:"ledgerKey"`
	// Pending is true when the record has no ledger entry yet.
	Pending  bool `json:"pending"`
	Verified bool `json:"verified"`
}

// Verify re-hashes the ledger entry of a verified record and compares its
// content with the indexed row. A mismatch is returned as a
// *VerificationMismatchError and raised as a compliance alert.
func (r *Reconciler) Verify(ctx context.Context, id domain.RecordID) (*VerifyResult, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.verifyRecord(ctx, rec)
}

func (r *Reconciler) verifyRecord(ctx context.Context, rec *Record) (*VerifyResult, error) {
	result := &VerifyResult{RecordID: rec.ID, LedgerKey: rec.LedgerKey}
	if !rec.LedgerVerified {
		result.Pending = true
		return result, nil
	}

	ok, err := r.ledger.Verify(ctx, rec.LedgerKey, rec.LedgerHash)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	if err != nil || !ok {
		reason := "ledger hash does not match"
		if err != nil {
			reason = "ledger entry missing"
		}
		return nil, r.mismatch(ctx, rec, reason)
	}

	entry, err := r.ledger.Read(ctx, rec.LedgerKey)
	if err != nil {
		return nil, err
	}
	want, err := ledger.Canonicalize(rec.LedgerPayload())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(entry.Value, want) {
		return nil, r.mismatch(ctx, rec, "indexed record differs from ledger entry")
	}
	result.Verified = true
	return result, nil
}

// VerifyBatchResult counts the outcome of a batch verification pass.
type VerifyBatchResult struct {
	Checked    int `json:"checked"`
	Mismatches int `json:"mismatches"`
	Failed     int `json:"failed"`
}

// VerifyRecent re-checks the most recent verified records.
func (r *Reconciler) VerifyRecent(ctx context.Context, limit int) (VerifyBatchResult, error) {
	records, err := r.store.ListVerified(ctx, limit)
	if err != nil {
		return VerifyBatchResult{}, err
	}
	var result VerifyBatchResult
	for _, rec := range records {
		result.Checked++
		if _, err := r.verifyRecord(ctx, rec); err != nil {
			var mismatch *VerificationMismatchError
			if errors.As(err, &mismatch) {
				result.Mismatches++
				continue
			}
			result.Failed++
		}
	}
	return result, nil
}

func (r *Reconciler) mismatch(ctx context.Context, rec *Record, reason string) error {
	r.metrics.incVerificationMismatches()
	r.logger.ErrorContext(ctx, "COMPLIANCE ALERT: ledger verification mismatch",
		"record_id", rec.ID.String(),
		"ledger_key", rec.LedgerKey,
		"expected_hash", rec.LedgerHash,
		"reason", reason,
	)
	return &VerificationMismatchError{
		RecordID:  rec.ID,
		LedgerKey: rec.LedgerKey,
		Expected:  rec.LedgerHash,
		Reason:    reason,
	}
}
