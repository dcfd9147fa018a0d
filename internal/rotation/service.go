package rotation

import (
	"context"
	"sync"
	"time"

	"promptclock/internal/clock"
	"promptclock/internal/eventbus"
	logx "promptclock/pkg/logx"
)

// StateStore persists seed dates. storage.Store satisfies it.
type StateStore interface {
	GetSeedDate(ctx context.Context, source string) (time.Time, bool, error)
	PutSeedDate(ctx context.Context, source string, date time.Time) error
	DeleteSeedDate(ctx context.Context, source string) error
}

// Service loads candidates, applies Select and persists sequential anchors.
// Calls for the same source are serialized.
type Service struct {
	texts TextSource
	state StateStore
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService builds a rotation service. A nil state store keeps anchors in memory.
func NewService(texts TextSource, state StateStore, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if state == nil {
		state = newMemState()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{texts: texts, state: state, clock: clk, bus: bus, log: log, locks: map[string]*sync.Mutex{}}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Today returns today's selection for source.
func (s *Service) Today(ctx context.Context, source string, perDay int, mode Mode) (Result, error) {
	id, err := SourceID(source)
	if err != nil {
		return Result{}, err
	}
	cands, err := s.texts.Candidates(id)
	if err != nil {
		return Result{}, err
	}

	unlock := s.lock(id)
	defer unlock()

	req := Request{SourceID: id, Candidates: cands, PerDay: perDay, Mode: mode, Today: s.clock.Now()}
	if mode == Sequential {
		d, ok, err := s.state.GetSeedDate(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if ok {
			req.Prior = &State{SourceID: id, SeedDate: d}
		}
	}

	res, err := Select(req)
	if err != nil {
		return Result{}, err
	}
	if res.StateChanged {
		if err := s.state.PutSeedDate(ctx, id, res.SeedDate); err != nil {
			return Result{}, err
		}
		s.log.Info("rotation anchored", logx.Source(id), logx.String("seed_date", res.SeedDate.Format("2006-01-02")))
		eventbus.Publish(s.bus, eventbus.TypeRotationAnchored, State{SourceID: id, SeedDate: res.SeedDate})
	}
	s.log.Debug("rotation selected", logx.Source(id), logx.String("mode", mode.String()), logx.Int("items", len(res.Items)))
	return res, nil
}

// Reset forgets the sequential anchor for source.
func (s *Service) Reset(ctx context.Context, source string) error {
	id, err := SourceID(source)
	if err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()
	if err := s.state.DeleteSeedDate(ctx, id); err != nil {
		return err
	}
	s.log.Info("rotation reset", logx.Source(id))
	return nil
}

// Sources lists the available text sources.
func (s *Service) Sources() ([]string, error) { return s.texts.List() }

type memState struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func newMemState() *memState { return &memState{m: map[string]time.Time{}} }

func (m *memState) GetSeedDate(_ context.Context, source string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.m[source]
	return d, ok, nil
}

func (m *memState) PutSeedDate(_ context.Context, source string, date time.Time) error {
	m.mu.Lock()
	m.m[source] = clock.Date(date)
	m.mu.Unlock()
	return nil
}

func (m *memState) DeleteSeedDate(_ context.Context, source string) error {
	m.mu.Lock()
	delete(m.m, source)
	m.mu.Unlock()
	return nil
}
