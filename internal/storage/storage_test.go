package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "promptclock/pkg/logx"
)

func openTestFile(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", "off"} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestFileSeedDateRoundTrip(t *testing.T) {
	t.Parallel()
	st, dir := openTestFile(t)
	ctx := context.Background()

	if _, ok, err := st.GetSeedDate(ctx, "prompts"); ok || err != nil {
		t.Fatalf("missing seed: ok=%v err=%v", ok, err)
	}

	d := time.Date(2024, 3, 9, 17, 30, 0, 0, time.FixedZone("X", 5*3600))
	if err := st.PutSeedDate(ctx, "prompts", d); err != nil {
		t.Fatalf("PutSeedDate: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "prompts.seed.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"seed_date":"20240309"}` {
		t.Fatalf("seed file = %s", raw)
	}

	got, ok, err := st.GetSeedDate(ctx, "prompts")
	if err != nil || !ok {
		t.Fatalf("GetSeedDate: ok=%v err=%v", ok, err)
	}
	if want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("seed = %v, want %v", got, want)
	}

	if err := st.DeleteSeedDate(ctx, "prompts"); err != nil {
		t.Fatalf("DeleteSeedDate: %v", err)
	}
	if err := st.DeleteSeedDate(ctx, "prompts"); err != nil {
		t.Fatalf("second DeleteSeedDate: %v", err)
	}
	if _, ok, _ := st.GetSeedDate(ctx, "prompts"); ok {
		t.Fatal("seed still present after delete")
	}
}

func TestFileRejectsTraversal(t *testing.T) {
	t.Parallel()
	st, _ := openTestFile(t)
	for _, id := range []string{"", "..", "../x", `a\b`} {
		if err := st.PutSeedDate(context.Background(), id, time.Now()); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("PutSeedDate(%q) = %v, want ErrInvalidKey", id, err)
		}
	}
}

func TestFileRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	st, _ := openTestFile(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := RunRecord{ID: string(rune('a' + i)), At: base.Add(time.Duration(i) * time.Minute), Workflow: "wf.json", OK: i%2 == 0}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	got, err := st.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 3 || got[0].ID != "e" || got[1].ID != "d" || got[2].ID != "c" {
		t.Fatalf("RecentRuns = %+v", got)
	}

	all, _ := st.RecentRuns(ctx, 50)
	if len(all) != 5 || all[4].ID != "a" {
		t.Fatalf("RecentRuns(50) = %+v", all)
	}
}

func TestFileClosed(t *testing.T) {
	t.Parallel()
	st, _ := openTestFile(t)
	_ = st.Close()
	if err := st.AppendRun(context.Background(), RunRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendRun after close = %v", err)
	}
}
