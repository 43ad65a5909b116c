package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"trustledger/internal/compliance"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

type openKey struct {
	entityType domain.EntityType
	entityID   string
	issueType  compliance.IssueType
}

// InMemoryStore keeps compliance issues in memory for tests and single-node
// development.
type InMemoryStore struct {
	mu     sync.RWMutex
	issues map[domain.IssueID]*compliance.Issue
	open   map[openKey]domain.IssueID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		issues: make(map[domain.IssueID]*compliance.Issue),
		open:   make(map[openKey]domain.IssueID),
	}
}

func keyOf(i *compliance.Issue) openKey {
	return openKey{entityType: i.EntityType, entityID: i.EntityID, issueType: i.IssueType}
}

func clone(i *compliance.Issue) *compliance.Issue {
	cp := *i
	cp.MissingFields = slices.Clone(i.MissingFields)
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func (s *InMemoryStore) Create(_ context.Context, issue *compliance.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issues[issue.ID]; exists {
		return fmt.Errorf("compliance issue %s: %w", issue.ID, sentinel.ErrConflict)
	}
	if issue.Open() {
		if _, exists := s.open[keyOf(issue)]; exists {
			return fmt.Errorf("open issue for %s#%s: %w", issue.EntityType, issue.EntityID, sentinel.ErrConflict)
		}
		s.open[keyOf(issue)] = issue.ID
	}
	s.issues[issue.ID] = clone(issue)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, issue *compliance.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issues[issue.ID]; !exists {
		return fmt.Errorf("compliance issue %s: %w", issue.ID, sentinel.ErrNotFound)
	}
	if issue.Open() {
		s.open[keyOf(issue)] = issue.ID
	} else if s.open[keyOf(issue)] == issue.ID {
		delete(s.open, keyOf(issue))
	}
	s.issues[issue.ID] = clone(issue)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.IssueID) (*compliance.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, fmt.Errorf("compliance issue %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(issue), nil
}

func (s *InMemoryStore) ListOpen(_ context.Context, entityType domain.EntityType) ([]*compliance.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*compliance.Issue
	for key, id := range s.open {
		if entityType != "" && key.entityType != entityType {
			continue
		}
		out = append(out, clone(s.issues[id]))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}
