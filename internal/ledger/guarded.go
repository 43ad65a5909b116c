package ledger

import (
	"context"
	"errors"
	"log/slog"

	"trustledger/pkg/platform/circuit"
	"trustledger/pkg/platform/sentinel"
)

// BreakerObserver is notified when the guard opens or closes.
type BreakerObserver interface {
	LedgerBreakerChanged(open bool)
}

// Guarded wraps a backend with a circuit breaker. While the breaker is open,
// calls fail fast with ErrUnavailable instead of waiting on a dead backend.
type Guarded struct {
	next     Ledger
	breaker  *circuit.Breaker
	logger   *slog.Logger
	observer BreakerObserver
}

type GuardOption func(*Guarded)

func WithBreaker(b *circuit.Breaker) GuardOption {
	return func(g *Guarded) {
		g.breaker = b
	}
}

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

func WithBreakerObserver(o BreakerObserver) GuardOption {
	return func(g *Guarded) {
		g.observer = o
	}
}

func NewGuarded(next Ledger, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:    next,
		breaker: circuit.New("ledger"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Append(ctx context.Context, key string, value any) (Receipt, error) {
	if !g.breaker.Allow() {
		return Receipt{}, ErrUnavailable
	}
	r, err := g.next.Append(ctx, key, value)
	g.record(ctx, err)
	return r, err
}

func (g *Guarded) Read(ctx context.Context, key string) (*Entry, error) {
	if !g.breaker.Allow() {
		return nil, ErrUnavailable
	}
	e, err := g.next.Read(ctx, key)
	g.record(ctx, err)
	return e, err
}

func (g *Guarded) Verify(ctx context.Context, key, expectedHash string) (bool, error) {
	if !g.breaker.Allow() {
		return false, ErrUnavailable
	}
	ok, err := g.next.Verify(ctx, key, expectedHash)
	g.record(ctx, err)
	return ok, err
}

// record counts only backend failures; a missing key is a normal answer.
func (g *Guarded) record(ctx context.Context, err error) {
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		if g.breaker.RecordSuccess() == circuit.Closed {
			g.logger.InfoContext(ctx, "ledger circuit closed", "breaker", g.breaker.Name())
			g.notify(false)
		}
		return
	}
	if g.breaker.RecordFailure() == circuit.Opened {
		g.logger.ErrorContext(ctx, "ledger circuit opened", "breaker", g.breaker.Name(), "error", err)
		g.notify(true)
	}
}

func (g *Guarded) notify(open bool) {
	if g.observer != nil {
		g.observer.LedgerBreakerChanged(open)
	}
}
