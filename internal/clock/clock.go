// Package clock abstracts wall-clock time so schedulers and selectors can be
// driven by fixed or sequenced times in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock. If Loc is set, times are converted into it.
type Real struct {
	Loc *time.Location
}

func (r Real) Now() time.Time {
	now := time.Now()
	if r.Loc != nil {
		return now.In(r.Loc)
	}
	return now
}

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Fixed always returns the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// Sequence returns the configured times in order. Once exhausted it keeps
// returning the last one. A zero-length Sequence returns the zero time.
type Sequence struct {
	mu    sync.Mutex
	times []time.Time
	next  int
}

func NewSequence(times ...time.Time) *Sequence {
	return &Sequence{times: append([]time.Time(nil), times...)}
}

func (s *Sequence) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.times) == 0 {
		return time.Time{}
	}
	if s.next >= len(s.times) {
		return s.times[len(s.times)-1]
	}
	t := s.times[s.next]
	s.next++
	return t
}

// Manual is a settable clock.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(t time.Time) *Manual { return &Manual{t: t} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// Date truncates t to its calendar date (midnight UTC) so day arithmetic is
// immune to DST and offsets.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int64 {
	return int64(Date(b).Sub(Date(a)) / (24 * time.Hour))
}
