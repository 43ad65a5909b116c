package audit

import (
	"context"
	"time"

	"trustledger/pkg/domain"
)

// Store is the queryable relational index of audit records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id domain.RecordID) (*Record, error)
	// ListByEntity returns the entity's trail, newest first.
	ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string, filter Filter) ([]*Record, error)
	// ListUnverified returns records still waiting for a ledger entry, oldest first.
	ListUnverified(ctx context.Context, limit int) ([]*Record, error)
	// ListVerified returns the most recently written verified records.
	ListVerified(ctx context.Context, limit int) ([]*Record, error)
	// MarkVerified sets the ledger reference of an unverified record.
	MarkVerified(ctx context.Context, id domain.RecordID, txID, hash string) error
	// ListRetentionBetween returns records whose retention ends in [from, to), oldest deadline first.
	ListRetentionBetween(ctx context.Context, from, to time.Time, limit int) ([]*Record, error)
	// ListExpiredAfter returns records whose retention ends before cutoff,
	// ordered by (retention_until, id) and strictly after the cursor.
	ListExpiredAfter(ctx context.Context, after RetentionCursor, cutoff time.Time, limit int) ([]*Record, error)
	// Delete removes a record. Only the retention sweep calls it.
	Delete(ctx context.Context, id domain.RecordID) error
}

// RetentionCursor is a keyset position in retention order. The zero value
// starts from the beginning.
type RetentionCursor struct {
	Until time.Time
	ID    domain.RecordID
}

// CursorOf returns the position just after rec.
func CursorOf(rec *Record) RetentionCursor {
	return RetentionCursor{Until: rec.RetentionUntil, ID: rec.ID}
}

// Sink receives records after they are indexed. Delivery is best effort.
type Sink interface {
	Publish(ctx context.Context, rec *Record) error
}

// DeadlineCalculator computes when a record written at writeTime may be purged.
type DeadlineCalculator interface {
	Deadline(entityType domain.EntityType, level domain.ComplianceLevel, writeTime time.Time) time.Time
}
