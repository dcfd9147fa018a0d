package rotation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"promptclock/internal/clock"
	"promptclock/internal/storage"
	logx "promptclock/pkg/logx"
)

var fiveItems = []string{"A", "B", "C", "D", "E"}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 10, 0, 0, 0, time.UTC) }

func TestSequentialExample(t *testing.T) {
	t.Parallel()
	seed := date(2024, 1, 1)
	want := [][]string{{"A", "B"}, {"C", "D"}, {"E", "A"}}
	for day, w := range want {
		res, err := Select(Request{
			SourceID:   "s",
			Candidates: fiveItems,
			PerDay:     2,
			Mode:       Sequential,
			Today:      seed.AddDate(0, 0, day),
			Prior:      &State{SourceID: "s", SeedDate: seed},
		})
		if err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
		if !slices.Equal(res.Items, w) {
			t.Fatalf("day %d: items = %v, want %v", day, res.Items, w)
		}
		if res.StateChanged {
			t.Fatalf("day %d: StateChanged with prior state", day)
		}
	}
}

func TestSequentialFirstCallAnchorsToday(t *testing.T) {
	t.Parallel()
	today := date(2024, 2, 29)
	res, err := Select(Request{Candidates: fiveItems, PerDay: 3, Mode: Sequential, Today: today})
	if err != nil {
		t.Fatal(err)
	}
	if !res.StateChanged || !res.SeedDate.Equal(clock.Date(today)) {
		t.Fatalf("result = %+v", res)
	}
	if !slices.Equal(res.Items, []string{"A", "B", "C"}) {
		t.Fatalf("items = %v", res.Items)
	}
}

func TestSequentialCyclicAndExhaustive(t *testing.T) {
	t.Parallel()
	cands := []string{"a", "b", "c", "d", "e", "f", "g"}
	seed := date(2023, 12, 30)
	seen := map[string]int{}
	// 7 candidates, 3 per day: 7 days cover every item exactly 3 times.
	for day := 0; day < 7; day++ {
		res, _ := Select(Request{Candidates: cands, PerDay: 3, Mode: Sequential, Today: seed.AddDate(0, 0, day), Prior: &State{SeedDate: seed}})
		if hasDup(res.Indices) {
			t.Fatalf("day %d duplicates: %v", day, res.Indices)
		}
		for _, it := range res.Items {
			seen[it]++
		}
	}
	for _, c := range cands {
		if seen[c] != 3 {
			t.Fatalf("coverage = %v", seen)
		}
	}

	// Same day, same answer.
	a, _ := Select(Request{Candidates: cands, PerDay: 3, Mode: Sequential, Today: seed.AddDate(0, 0, 4), Prior: &State{SeedDate: seed}})
	b, _ := Select(Request{Candidates: cands, PerDay: 3, Mode: Sequential, Today: seed.AddDate(0, 0, 4).Add(13 * time.Hour), Prior: &State{SeedDate: seed}})
	if !slices.Equal(a.Indices, b.Indices) {
		t.Fatalf("not idempotent within a day: %v vs %v", a.Indices, b.Indices)
	}
}

func TestSequentialBackwardClockAndShrink(t *testing.T) {
	t.Parallel()
	seed := date(2024, 3, 10)
	res, err := Select(Request{Candidates: fiveItems, PerDay: 2, Mode: Sequential, Today: seed.AddDate(0, 0, -1), Prior: &State{SeedDate: seed}})
	if err != nil {
		t.Fatal(err)
	}
	// days = -1, start = ((-2 % 5) + 5) % 5 = 3
	if !slices.Equal(res.Items, []string{"D", "E"}) {
		t.Fatalf("items = %v", res.Items)
	}

	res, _ = Select(Request{Candidates: []string{"x", "y"}, PerDay: 5, Mode: Sequential, Today: seed.AddDate(0, 0, 1), Prior: &State{SeedDate: seed}})
	if len(res.Items) != 2 || hasDup(res.Indices) {
		t.Fatalf("items = %v", res.Items)
	}
}

func TestRandomReproducible(t *testing.T) {
	t.Parallel()
	cands := make([]string, 50)
	for i := range cands {
		cands[i] = string(rune('a'+i%26)) + string(rune('A'+i/26))
	}
	day := date(2024, 7, 1)
	a, _ := Select(Request{SourceID: "prompts", Candidates: cands, PerDay: 5, Mode: Random, Today: day})
	b, _ := Select(Request{SourceID: "prompts", Candidates: cands, PerDay: 5, Mode: Random, Today: day.Add(12 * time.Hour)})
	if !slices.Equal(a.Items, b.Items) {
		t.Fatalf("same day differs: %v vs %v", a.Items, b.Items)
	}
	if len(a.Items) != 5 || hasDup(a.Indices) || a.StateChanged {
		t.Fatalf("result = %+v", a)
	}

	differs := false
	for d := 1; d <= 5; d++ {
		c, _ := Select(Request{SourceID: "prompts", Candidates: cands, PerDay: 5, Mode: Random, Today: day.AddDate(0, 0, d)})
		if !slices.Equal(a.Items, c.Items) {
			differs = true
		}
	}
	if !differs {
		t.Fatal("selection never changes across days")
	}

	other, _ := Select(Request{SourceID: "styles", Candidates: cands, PerDay: 5, Mode: Random, Today: day})
	if slices.Equal(a.Items, other.Items) {
		t.Fatal("different sources share a selection")
	}
}

func TestRandomCapsAtLength(t *testing.T) {
	t.Parallel()
	res, _ := Select(Request{SourceID: "s", Candidates: fiveItems, PerDay: 9, Mode: Random, Today: date(2024, 1, 1)})
	if len(res.Items) != 5 || hasDup(res.Indices) {
		t.Fatalf("items = %v", res.Items)
	}
}

func TestSelectErrors(t *testing.T) {
	t.Parallel()
	for _, m := range []Mode{Random, Sequential} {
		if _, err := Select(Request{Mode: m, PerDay: 1, Today: date(2024, 1, 1)}); !errors.Is(err, ErrNoCandidates) {
			t.Errorf("%v empty: %v", m, err)
		}
		if _, err := Select(Request{Mode: m, Candidates: fiveItems, PerDay: -1}); !errors.Is(err, ErrInvalidCount) {
			t.Errorf("%v negative: %v", m, err)
		}
		res, err := Select(Request{Mode: m, Candidates: fiveItems, PerDay: 0, Today: date(2024, 1, 1)})
		if err != nil || len(res.Items) != 0 {
			t.Errorf("%v zero: %+v, %v", m, res, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	if m, err := ParseMode(" Sequential "); err != nil || m != Sequential {
		t.Fatalf("ParseMode = %v, %v", m, err)
	}
	if _, err := ParseMode("shuffle"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v", err)
	}
}

func TestServicePersistsAnchor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompts.txt"), []byte("A\n\n  B \nC\nD\nE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	clk := clock.NewManual(date(2024, 1, 1))
	svc := NewService(TextSource{Dir: dir}, st, clk, nil, logx.Nop())
	ctx := context.Background()

	var got [][]string
	for i := 0; i < 3; i++ {
		res, err := svc.Today(ctx, "prompts.txt", 2, Sequential)
		if err != nil {
			t.Fatalf("Today: %v", err)
		}
		got = append(got, res.Items)
		clk.Advance(24 * time.Hour)
	}
	want := [][]string{{"A", "B"}, {"C", "D"}, {"E", "A"}}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Fatalf("day %d = %v, want %v", i, got[i], want[i])
		}
	}

	if err := svc.Reset(ctx, "prompts"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res, _ := svc.Today(ctx, "prompts", 2, Sequential)
	if !res.StateChanged || !slices.Equal(res.Items, []string{"A", "B"}) {
		t.Fatalf("after reset = %+v", res)
	}

	srcs, _ := svc.Sources()
	if !slices.Equal(srcs, []string{"prompts"}) {
		t.Fatalf("Sources = %v", srcs)
	}
}

func TestServiceRejectsBadSources(t *testing.T) {
	t.Parallel()
	svc := NewService(TextSource{Dir: t.TempDir()}, nil, nil, nil, logx.Nop())
	for _, src := range []string{"../etc/passwd", "", "missing"} {
		if _, err := svc.Today(context.Background(), src, 1, Random); !errors.Is(err, ErrSourceNotFound) {
			t.Errorf("Today(%q) = %v", src, err)
		}
	}
}

func hasDup(xs []int) bool {
	seen := map[int]bool{}
	for _, x := range xs {
		if seen[x] {
			return true
		}
		seen[x] = true
	}
	return false
}
