package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// InMemoryStore is an audit index for tests and single-node development.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[domain.RecordID]*audit.Record
	byLedger map[string]domain.RecordID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[domain.RecordID]*audit.Record),
		byLedger: make(map[string]domain.RecordID),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[domain.RecordID]*audit.Record)
	s.byLedger = make(map[string]domain.RecordID)
}

func (s *InMemoryStore) Create(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("audit record %s: %w", rec.ID, sentinel.ErrConflict)
	}
	if _, exists := s.byLedger[rec.LedgerKey]; exists {
		return fmt.Errorf("ledger key %s: %w", rec.LedgerKey, sentinel.ErrConflict)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.byLedger[rec.LedgerKey] = rec.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.RecordID) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType domain.EntityType, entityID string, filter audit.Filter) ([]*audit.Record, error) {
	out := s.collect(func(r *audit.Record) bool {
		return r.EntityType == entityType && r.EntityID == entityID && filter.Matches(r)
	})
	sortNewestFirst(out)
	return limit(out, filter.Limit), nil
}

func (s *InMemoryStore) ListUnverified(_ context.Context, n int) ([]*audit.Record, error) {
	out := s.collect(func(r *audit.Record) bool { return !r.LedgerVerified })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limit(out, n), nil
}

func (s *InMemoryStore) ListVerified(_ context.Context, n int) ([]*audit.Record, error) {
	out := s.collect(func(r *audit.Record) bool { return r.LedgerVerified })
	sortNewestFirst(out)
	return limit(out, n), nil
}

func (s *InMemoryStore) MarkVerified(_ context.Context, id domain.RecordID, txID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.LedgerVerified {
		return fmt.Errorf("audit record %s already verified: %w", id, sentinel.ErrInvalidState)
	}
	rec.LedgerTxID = txID
	rec.LedgerHash = hash
	rec.LedgerVerified = true
	return nil
}

func (s *InMemoryStore) ListRetentionBetween(_ context.Context, from, to time.Time, n int) ([]*audit.Record, error) {
	out := s.collect(func(r *audit.Record) bool {
		return !r.RetentionUntil.Before(from) && r.RetentionUntil.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].RetentionUntil.Before(out[j].RetentionUntil) })
	return limit(out, n), nil
}

func (s *InMemoryStore) ListExpiredAfter(_ context.Context, after audit.RetentionCursor, cutoff time.Time, n int) ([]*audit.Record, error) {
	out := s.collect(func(r *audit.Record) bool {
		return r.RetentionUntil.Before(cutoff) && cursorBefore(after, audit.CursorOf(r))
	})
	sort.Slice(out, func(i, j int) bool { return cursorBefore(audit.CursorOf(out[i]), audit.CursorOf(out[j])) })
	return limit(out, n), nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.byLedger, rec.LedgerKey)
	delete(s.records, id)
	return nil
}

// Count returns the number of stored records.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryStore) collect(keep func(*audit.Record) bool) []*audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Record
	for _, r := range s.records {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func sortNewestFirst(records []*audit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].LedgerKey > records[j].LedgerKey
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func cursorBefore(a, b audit.RetentionCursor) bool {
	if !a.Until.Equal(b.Until) {
		return a.Until.Before(b.Until)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func limit(records []*audit.Record, n int) []*audit.Record {
	if n > 0 && len(records) > n {
		return records[:n]
	}
	return records
}
