package audit

import (
	"fmt"
	"sync"

	"trustledger/pkg/domain"
)

// keyGenerator derives ledger keys of the form
// audit:{entityType}:{entityId}:{writeTimestampNanos}. When two writes in this
// process land on the same (or an earlier) nanosecond, a "-n" suffix from a
// counter that never resets keeps keys unique.
type keyGenerator struct {
	mu        sync.Mutex
	lastNanos int64
	counter   int
}

func (g *keyGenerator) next(entityType domain.EntityType, entityID string, nanos int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if nanos > g.lastNanos {
		g.lastNanos = nanos
		return fmt.Sprintf("audit:%s:%s:%d", entityType, entityID, nanos)
	}
	g.counter++
	return fmt.Sprintf("audit:%s:%s:%d-%d", entityType, entityID, nanos, g.counter)
}
