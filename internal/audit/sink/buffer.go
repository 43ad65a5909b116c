package sink

import (
	"sync"

	"trustledger/internal/audit"
)

// RingBuffer is a bounded, thread-safe queue of audit records. When full the
// oldest record is dropped to make room.
type RingBuffer struct {
	mu       sync.Mutex
	records  []*audit.Record
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
	dropped  int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RingBuffer{
		records:  make([]*audit.Record, capacity),
		capacity: capacity,
	}
}

// Enqueue adds rec and reports whether an older record was dropped.
func (b *RingBuffer) Enqueue(rec *audit.Record) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.records[b.tail] = nil
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.records[b.head] = rec
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// Requeue puts records back at the front in their original order, for a
// batch that failed to publish. Records that no longer fit are dropped.
func (b *RingBuffer) Requeue(recs []*audit.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(recs) - 1; i >= 0; i-- {
		if b.count >= b.capacity {
			b.dropped += int64(i + 1)
			return
		}
		b.tail = (b.tail - 1 + b.capacity) % b.capacity
		b.records[b.tail] = recs[i]
		b.count++
	}
}

// DequeueBatch removes up to n records, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []*audit.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	out := make([]*audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = b.records[b.tail]
		b.records[b.tail] = nil
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of records dropped so far.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
