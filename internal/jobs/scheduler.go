// Package jobs schedules the batch maintenance work: retention sweeps,
// compliance scans, erasure execution and ledger reconciliation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/requestcontext"
)

// SystemActor is the actor recorded for scheduled runs.
const SystemActor = "system:scheduler"

// Func is one batch job. The returned summary is logged and returned to
// manual triggers.
type Func func(ctx context.Context) (any, error)

type job struct {
	name string
	spec string
	fn   Func
	mu   sync.Mutex
}

// Scheduler runs registered jobs on their cron specs and on demand. A job
// never overlaps itself: a run that finds the previous one still going is
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	base    context.Context
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.RWMutex
	jobs map[string]*job
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTimeout bounds each run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithBaseContext sets the parent context of scheduled runs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.base = ctx
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		base:   context.Background(),
		logger: slog.Default(),
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Register adds a job. An empty spec registers it for manual triggers only.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { _, _ = s.run(s.base, j) }); err != nil {
			return fmt.Errorf("schedule job %s: %w", name, err)
		}
	}
	s.jobs[name] = j
	return nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Trigger runs a job now. It returns a conflict error when the job is
// already running.
func (s *Scheduler) Trigger(ctx context.Context, name string) (any, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown job "+name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", s.Names())
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errRunning = errors.New("job is already running")

func (s *Scheduler) run(ctx context.Context, j *job) (summary any, err error) {
	if !j.mu.TryLock() {
		s.metrics.skipped(j.name)
		s.logger.WarnContext(ctx, "job skipped, previous run still in progress", "job", j.name)
		return nil, dErrors.Wrap(errRunning, dErrors.CodeConflict, "job "+j.name+" is already running")
	}
	defer j.mu.Unlock()

	if requestcontext.ActorID(ctx) == "" {
		ctx = requestcontext.WithActor(ctx, SystemActor, "")
	}
	ctx = requestcontext.WithTime(ctx, time.Now().UTC())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		s.metrics.observe(j.name, err, time.Since(start))
		if err != nil {
			s.logger.ErrorContext(ctx, "job failed", "job", j.name, "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		s.logger.InfoContext(ctx, "job completed", "job", j.name, "summary", summary, "duration_ms", time.Since(start).Milliseconds())
	}()
	return j.fn(ctx)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
