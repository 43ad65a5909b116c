package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"trustledger/pkg/requestcontext"
)

// Memory is an in-process ledger for tests and single-node development.
type Memory struct {
	mu       sync.RWMutex
	versions map[string][]Entry
}

func NewMemory() *Memory {
	return &Memory{versions: make(map[string][]Entry)}
}

func (m *Memory) Append(ctx context.Context, key string, value any) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	canonical, err := Canonicalize(value)
	if err != nil {
		return Receipt{}, err
	}
	txID := uuid.NewString()
	hash := Hash(canonical, txID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[key] = append(m.versions[key], Entry{
		Key:       key,
		Value:     canonical,
		TxID:      txID,
		Hash:      hash,
		Version:   len(m.versions[key]) + 1,
		Timestamp: requestcontext.Now(ctx).UTC(),
	})
	return Receipt{TxID: txID, Hash: hash}, nil
}

func (m *Memory) Read(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.versions[key]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (m *Memory) Verify(ctx context.Context, key, expectedHash string) (bool, error) {
	entry, err := m.Read(ctx, key)
	if err != nil {
		return false, err
	}
	return verifyEntry(entry, expectedHash), nil
}

// History returns every version stored under key, oldest first.
func (m *Memory) History(key string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.versions[key]...)
}
