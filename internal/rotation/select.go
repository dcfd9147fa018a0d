// Package rotation picks a deterministic daily subset of candidate lines,
// either by date-seeded sampling or by a sequential rotation anchored to a
// persisted seed date.
package rotation

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"promptclock/internal/clock"
)

var (
	ErrNoCandidates = errors.New("no candidates")
	ErrInvalidCount = errors.New("per-day count must be >= 0")
	ErrInvalidMode  = errors.New("unknown rotation mode")
)

type Mode int

const (
	Random Mode = iota
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "random"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode accepts "random" or "sequential" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random":
		return Random, nil
	case "sequential":
		return Sequential, nil
	}
	return Random, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// State anchors a sequential rotation for one source.
type State struct {
	SourceID string
	SeedDate time.Time // date only
}

type Request struct {
	SourceID   string
	Candidates []string
	PerDay     int
	Mode       Mode
	Today      time.Time
	Prior      *State
}

type Result struct {
	Items   []string `json:"items"`
	Indices []int    `json:"indices"`
	// SeedDate is the anchor used; zero in random mode.
	SeedDate time.Time `json:"seed_date,omitzero"`
	// StateChanged is set when SeedDate must be persisted.
	StateChanged bool `json:"state_changed"`
	Mode         Mode `json:"mode"`
}

// Select picks today's items. It is pure: persistence is the caller's job.
func Select(req Request) (Result, error) {
	n := len(req.Candidates)
	if n == 0 {
		return Result{}, ErrNoCandidates
	}
	if req.PerDay < 0 {
		return Result{}, ErrInvalidCount
	}
	k := min(req.PerDay, n)

	var res Result
	switch req.Mode {
	case Sequential:
		res = sequential(req, n, k)
	default:
		res = Result{Indices: sample(randomSeed(req.Today, req.SourceID), n, k), Mode: Random}
	}
	res.Items = make([]string, len(res.Indices))
	for i, idx := range res.Indices {
		res.Items[i] = req.Candidates[idx]
	}
	return res, nil
}

func sequential(req Request, n, k int) Result {
	today := clock.Date(req.Today)
	res := Result{Mode: Sequential, SeedDate: today}
	if req.Prior == nil || req.Prior.SeedDate.IsZero() {
		res.StateChanged = true
	} else {
		res.SeedDate = clock.Date(req.Prior.SeedDate)
	}

	days := clock.DaysBetween(res.SeedDate, today)
	nn := int64(n)
	start := ((days*int64(req.PerDay))%nn + nn) % nn

	res.Indices = make([]int, k)
	for i := 0; i < k; i++ {
		res.Indices[i] = int((start + int64(i)) % nn)
	}
	return res
}

// randomSeed combines the calendar date (YYYYMMDD) with a stable hash of the source.
func randomSeed(today time.Time, source string) int64 {
	ymd, _ := strconv.ParseInt(today.Format("20060102"), 10, 64)
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	return ymd + int64(h.Sum64())
}

// sample draws k distinct indices from [0, n) with a partial Fisher-Yates shuffle.
func sample(seed int64, n, k int) []int {
	r := rand.New(rand.NewSource(seed))
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + r.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k:k]
}
