// Package seedlist derives a list of 32-bit seeds from the time of day.
package seedlist

import (
	"fmt"
	"math/rand"
	"time"

	logx "promptclock/pkg/logx"
)

// Fallback is returned for every position when generation fails.
const Fallback int64 = 42

const maxSeed = 1 << 32 // draws cover [0, 2^32-1]

// Source is the subset of *rand.Rand the generator needs.
type Source interface {
	Int63n(n int64) int64
}

// Generator is stateless; the same now always yields the same list.
type Generator struct {
	// NewSource builds the random source for a seed. Defaults to math/rand.
	NewSource func(seed int64) Source
	Log       logx.Logger
}

// TimeSeed returns HH*10000 + MM*100 + SS.
func TimeSeed(now time.Time) int64 {
	return int64(now.Hour()*10000 + now.Minute()*100 + now.Second())
}

// Generate returns count seeds drawn from a source seeded by TimeSeed(now).
// Any failure yields count copies of Fallback.
func (g Generator) Generate(count int, now time.Time) (out []int64) {
	if count <= 0 {
		return []int64{}
	}
	log := g.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	seed := TimeSeed(now)

	defer func() {
		if r := recover(); r != nil {
			log.Error("seed list generation failed", logx.Int64("time_seed", seed), logx.Err(fmt.Errorf("%v", r)))
			out = make([]int64, count)
			for i := range out {
				out[i] = Fallback
			}
		}
	}()

	newSource := g.NewSource
	if newSource == nil {
		newSource = func(seed int64) Source { return rand.New(rand.NewSource(seed)) }
	}
	src := newSource(seed)

	out = make([]int64, count)
	for i := range out {
		out[i] = src.Int63n(maxSeed)
	}
	log.Info("seed list generated", logx.Int64("time_seed", seed), logx.Int("count", count))
	return out
}
