package sca

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustledger/pkg/platform/sentinel"
)

// MemoryStore implements AttemptStore, FrequencyCounter and DeviceRegistry in
// memory for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	times    map[string][]time.Time
	devices  map[string]map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]Attempt),
		times:    make(map[string][]time.Time),
		devices:  make(map[string]map[string]bool),
	}
}

func (m *MemoryStore) Save(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = *a
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("authentication attempt %s: %w", id, sentinel.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStore) Add(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[userID] = append(m.times[userID], at)
	return nil
}

func (m *MemoryStore) Count(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.times[userID] {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Known(_ context.Context, userID, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[userID][fingerprint], nil
}

func (m *MemoryStore) Remember(_ context.Context, userID, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devices[userID] == nil {
		m.devices[userID] = make(map[string]bool)
	}
	m.devices[userID][fingerprint] = true
	return nil
}
