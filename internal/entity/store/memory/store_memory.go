package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustledger/internal/entity"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// InMemoryStore holds entities in process memory for tests and development.
type InMemoryStore struct {
	mu       sync.RWMutex
	entities map[entity.Ref]*entity.Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entities: make(map[entity.Ref]*entity.Snapshot)}
}

func (s *InMemoryStore) Put(_ context.Context, snap *entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[snap.Ref()] = snap.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, ref entity.Ref) (*entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entities[ref]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
	}
	return snap.Clone(), nil
}

func (s *InMemoryStore) ListLive(_ context.Context, entityType domain.EntityType) ([]*entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Snapshot
	for _, snap := range s.entities {
		if snap.Type == entityType && snap.Live() {
			out = append(out, snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) CountReferencingSince(_ context.Context, parent entity.Ref, childType domain.EntityType, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, snap := range s.entities {
		if snap.Type != childType || snap.CreatedAt.Before(since) {
			continue
		}
		if refersTo(snap, parent) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Apply(_ context.Context, ref entity.Ref, change entity.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.entities[ref]
	if !ok {
		return fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
	}
	for k, v := range change.Set {
		snap.Fields[k] = v
	}
	if change.Deactivate {
		snap.Active = false
	}
	if change.ArchivePending {
		snap.ArchivePending = true
	}
	return nil
}

func (s *InMemoryStore) DeleteCascade(_ context.Context, ref entity.Ref) ([]entity.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[ref]; !ok {
		return nil, fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
	}
	var order []entity.Ref
	seen := map[entity.Ref]bool{}
	var visit func(entity.Ref)
	visit = func(r entity.Ref) {
		if seen[r] {
			return
		}
		seen[r] = true
		for _, child := range s.children(r) {
			visit(child)
		}
		order = append(order, r)
	}
	visit(ref)
	for _, r := range order {
		delete(s.entities, r)
	}
	return order, nil
}

// children returns direct dependents of parent in a stable order.
func (s *InMemoryStore) children(parent entity.Ref) []entity.Ref {
	var out []entity.Ref
	for r, snap := range s.entities {
		if refersTo(snap, parent) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func refersTo(snap *entity.Snapshot, parent entity.Ref) bool {
	for _, r := range snap.Refs {
		if r == parent {
			return true
		}
	}
	return false
}
