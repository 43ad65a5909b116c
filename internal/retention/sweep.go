package retention

import (
	"context"

	"trustledger/internal/audit"
)

// SweepResult counts the outcome of one retention sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Sweep deletes audit records whose retention period has ended. Each record
// is deleted on its own; a failure is counted and the sweep moves on. Batches
// are read with a keyset cursor so records that fail to delete are never
// read twice.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var cursor audit.RetentionCursor
	for {
		batch, err := e.expiredAfter(ctx, cursor)
		if err != nil {
			return result, err
		}
		for _, rec := range batch {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			cursor = audit.CursorOf(rec)
			result.Processed++
			if err := e.records.Delete(ctx, rec.ID); err != nil {
				result.Failed++
				e.logger.WarnContext(ctx, "retention sweep failed to delete record",
					"record_id", rec.ID.String(),
					"ledger_key", rec.LedgerKey,
					"error", err,
				)
				continue
			}
			result.Deleted++
		}
		if len(batch) < e.batchSize {
			break
		}
	}
	e.metrics.observeSweep(result)
	e.logger.InfoContext(ctx, "retention sweep finished",
		"processed", result.Processed,
		"deleted", result.Deleted,
		"failed", result.Failed,
	)
	return result, nil
}
