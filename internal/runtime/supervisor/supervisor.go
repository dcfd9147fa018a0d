// Package supervisor runs the daemon's long-lived loops (the schedule poller,
// executor workers, config watchers) under one cancelable context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "promptclock/pkg/logx"
)

// Supervisor owns a context and the goroutines started on it. A panic in a
// loop is recovered and reported as that loop's error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	failFast bool
	errMu    sync.Mutex
	err      error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	active   atomic.Int64
	started  atomic.Uint64
	restarts atomic.Uint64
	panics   atomic.Uint64
}

type Option func(*Supervisor)

// Counters are operational signals for status output.
type Counters struct {
	Active   int64  `json:"active"`
	Started  uint64 `json:"started"`
	Restarts uint64 `json:"restarts"`
	Panics   uint64 `json:"panics"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first loop error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.failFast = enabled }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	s := &Supervisor{done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel ends the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first loop error, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:   s.active.Load(),
		Started:  s.started.Load(),
		Restarts: s.restarts.Load(),
		Panics:   s.panics.Load(),
	}
}

// Go runs fn once. A non-cancel error is recorded as "name: err".
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.log.Debug("loop started", logx.Loop(name))
		if err := s.run(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("loop stopped", logx.Loop(name))
	}()
}

// Go0 is Go for loops that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("loop panicked", logx.Loop(name), logx.Any("panic", r), logx.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Backoff is the wait between restarts of a failing loop. The wait doubles
// from Min up to Max and falls back to Min after a run that lasted Stable.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Stable time.Duration
	// Limit is the number of restarts before the loop error is reported.
	// Zero means unlimited.
	Limit int
}

// WorkerBackoff suits executor workers.
var WorkerBackoff = Backoff{Min: 250 * time.Millisecond, Max: 30 * time.Second, Stable: 30 * time.Second}

// PollBackoff suits a loop that polls every poll. A restart never waits longer
// than one interval, so a crashed poller resumes before the next minute is due.
func PollBackoff(poll time.Duration) Backoff {
	return Backoff{Min: time.Second, Max: poll, Stable: 2 * poll}
}

func (b Backoff) normalize() Backoff {
	if b.Min <= 0 {
		b.Min = WorkerBackoff.Min
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	return b
}

// GoRestart runs fn until it returns nil or the context ends, restarting it
// after errors and panics with b. Once b.Limit is exceeded the last error is
// recorded as for Go.
func (s *Supervisor) GoRestart(name string, b Backoff, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	b = b.normalize()
	s.Go(name, func(ctx context.Context) error {
		wait := b.Min
		for attempt := 0; ; attempt++ {
			began := time.Now()
			err := s.run(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if b.Limit > 0 && attempt >= b.Limit {
				s.log.Error("loop gave up", logx.Loop(name), logx.Int("restarts", attempt), logx.Err(err))
				return err
			}
			if b.Stable > 0 && time.Since(began) >= b.Stable {
				wait = b.Min
			}
			s.restarts.Add(1)
			s.log.Warn("loop restarting", logx.Loop(name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			wait = min(wait*2, b.Max)
		}
	})
}

// Stop cancels the context and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every loop has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.failFast {
		s.cancel()
	}
}
