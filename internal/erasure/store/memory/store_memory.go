package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"trustledger/internal/erasure"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

// InMemoryStore keeps erasure records in memory. Transitions are checked
// under the store mutex.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[domain.ErasureID]*erasure.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.ErasureID]*erasure.Record)}
}

func clone(r *erasure.Record) *erasure.Record {
	cp := *r
	cp.RetentionReasons = slices.Clone(r.RetentionReasons)
	cp.Snapshot = maps.Clone(r.Snapshot)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func (s *InMemoryStore) Create(_ context.Context, rec *erasure.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("erasure record %s: %w", rec.ID, sentinel.ErrConflict)
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.ErasureID) (*erasure.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("erasure record %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *InMemoryStore) Transition(ctx context.Context, id domain.ErasureID, from, to erasure.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("erasure record %s: %w", id, sentinel.ErrNotFound)
	}
	if rec.State != from {
		return fmt.Errorf("erasure record %s is %s, not %s: %w", id, rec.State, from, sentinel.ErrConflict)
	}
	rec.State = to
	rec.UpdatedAt = requestcontext.Now(ctx).UTC()
	return nil
}

func (s *InMemoryStore) Finish(_ context.Context, rec *erasure.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("erasure record %s: %w", rec.ID, sentinel.ErrNotFound)
	}
	if stored.State != erasure.StateExecuting {
		return fmt.Errorf("erasure record %s is %s: %w", rec.ID, stored.State, sentinel.ErrInvalidState)
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *InMemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*erasure.Record, error) {
	return s.list(limit, func(r *erasure.Record) bool {
		return r.State == erasure.StateScheduled && !r.ScheduledFor.After(now)
	}, func(r *erasure.Record) time.Time { return r.ScheduledFor }), nil
}

func (s *InMemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]*erasure.Record, error) {
	return s.list(limit, func(r *erasure.Record) bool {
		return r.State == erasure.StateExecuting && r.UpdatedAt.Before(before)
	}, func(r *erasure.Record) time.Time { return r.UpdatedAt }), nil
}

func (s *InMemoryStore) list(limit int, match func(*erasure.Record) bool, by func(*erasure.Record) time.Time) []*erasure.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*erasure.Record
	for _, r := range s.records {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return by(out[i]).Before(by(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
