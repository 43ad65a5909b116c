// Package sink forwards indexed audit records to downstream consumers. Records
// are buffered in memory and published in batches by a background loop, so a
// slow or unavailable broker never delays an audit write.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trustledger/internal/audit"
)

// BatchPublisher delivers a batch of records, all or nothing.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, recs []*audit.Record) error
}

const (
	defaultCapacity      = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	drainTimeout         = 5 * time.Second
)

// Buffered is an audit.Sink that queues records for a BatchPublisher.
type Buffered struct {
	next          BatchPublisher
	buffer        *RingBuffer
	batchSize     int
	flushInterval time.Duration
	wake          chan struct{}
	logger        *slog.Logger
	metrics       *Metrics
}

type Option func(*Buffered)

func WithCapacity(n int) Option {
	return func(b *Buffered) {
		b.buffer = NewRingBuffer(n)
	}
}

func WithBatchSize(n int) Option {
	return func(b *Buffered) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffered) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffered) {
		b.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Buffered) {
		b.metrics = m
	}
}

func NewBuffered(next BatchPublisher, opts ...Option) (*Buffered, error) {
	if next == nil {
		return nil, errors.New("batch publisher is required")
	}
	b := &Buffered{
		next:          next,
		buffer:        NewRingBuffer(defaultCapacity),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish queues rec and returns immediately.
func (b *Buffered) Publish(ctx context.Context, rec *audit.Record) error {
	if b.buffer.Enqueue(rec) {
		b.metrics.incDropped()
		b.logger.WarnContext(ctx, "audit sink buffer full, dropped oldest record")
	}
	b.metrics.setBuffered(b.buffer.Len())
	if b.buffer.Len() >= b.batchSize {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run flushes batches until ctx is cancelled, then drains what is left.
func (b *Buffered) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return ctx.Err()
		case <-ticker.C:
			b.flushAll(ctx)
		case <-b.wake:
			b.flushAll(ctx)
		}
	}
}

// Flush publishes everything currently queued. It stops at the first failed
// batch, which is put back for the next attempt.
func (b *Buffered) Flush(ctx context.Context) error {
	for {
		batch := b.buffer.DequeueBatch(b.batchSize)
		if len(batch) == 0 {
			return nil
		}
		if err := b.next.PublishBatch(ctx, batch); err != nil {
			b.buffer.Requeue(batch)
			b.metrics.incFailures()
			b.metrics.setBuffered(b.buffer.Len())
			return err
		}
		b.metrics.addPublished(len(batch))
		b.metrics.setBuffered(b.buffer.Len())
	}
}

func (b *Buffered) flushAll(ctx context.Context) {
	if err := b.Flush(ctx); err != nil {
		b.logger.WarnContext(ctx, "audit sink publish failed, will retry",
			"buffered", b.buffer.Len(),
			"error", err,
		)
	}
}

func (b *Buffered) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Error("audit sink drain incomplete",
			"remaining", b.buffer.Len(),
			"error", err,
		)
	}
}

func (b *Buffered) Len() int { return b.buffer.Len() }

func (b *Buffered) Dropped() int64 { return b.buffer.Dropped() }
