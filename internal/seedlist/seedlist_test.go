package seedlist

import (
	"slices"
	"testing"
	"time"
)

func TestTimeSeed(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 9, 1, 14, 5, 9, 123, time.UTC)
	if got := TimeSeed(now); got != 140509 {
		t.Fatalf("TimeSeed = %d, want 140509", got)
	}
	if got := TimeSeed(time.Date(2024, 9, 1, 0, 0, 7, 0, time.UTC)); got != 7 {
		t.Fatalf("TimeSeed midnight = %d", got)
	}
}

func TestGenerateRepeatable(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 9, 1, 14, 5, 9, 0, time.UTC)
	var g Generator
	a := g.Generate(7, now)
	b := g.Generate(7, now.Add(500*time.Millisecond))
	if len(a) != 7 || !slices.Equal(a, b) {
		t.Fatalf("a = %v, b = %v", a, b)
	}
	for _, v := range a {
		if v < 0 || v > 1<<32-1 {
			t.Fatalf("value out of range: %d", v)
		}
	}
	if c := g.Generate(7, now.Add(time.Second)); slices.Equal(a, c) {
		t.Fatal("different second produced the same list")
	}
}

type brokenSource struct{}

func (brokenSource) Int63n(int64) int64 { panic("entropy exhausted") }

func TestGenerateFallback(t *testing.T) {
	t.Parallel()
	g := Generator{NewSource: func(int64) Source { return brokenSource{} }}
	got := g.Generate(3, time.Now())
	if !slices.Equal(got, []int64{42, 42, 42}) {
		t.Fatalf("got %v", got)
	}
}

func TestGenerateEmpty(t *testing.T) {
	t.Parallel()
	var g Generator
	for _, n := range []int{0, -4} {
		if got := g.Generate(n, time.Now()); len(got) != 0 {
			t.Fatalf("Generate(%d) = %v", n, got)
		}
	}
}
