package control

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"promptclock/internal/clock"
	"promptclock/internal/rotation"
	"promptclock/internal/schedule"
	"promptclock/internal/seedlist"
	"promptclock/internal/task/scheduler"
	"promptclock/internal/workflow"
	logx "promptclock/pkg/logx"
)

type nopAction struct{}

func (nopAction) Run(context.Context, string) (string, error) { return "pid", nil }

type countingRecorder struct {
	rotations map[string]int
	seeds     int
}

func (c *countingRecorder) RotationSelected(mode string, ok bool) {
	if ok {
		c.rotations[mode]++
	}
}

func (c *countingRecorder) SeedListGenerated() { c.seeds++ }

func newService(t *testing.T) (*Service, *scheduler.Engine, *countingRecorder, string) {
	t.Helper()
	dir := t.TempDir()
	now := time.Date(2024, 6, 3, 14, 5, 9, 0, time.UTC)
	clk := clock.Fixed{T: now}

	store := schedule.NewStore(filepath.Join(dir, "schedules.json"), clk, logx.Nop())
	eng := scheduler.New(scheduler.Config{Location: time.UTC, PollInterval: time.Second}, scheduler.Deps{
		Store:  store,
		Action: nopAction{},
		Clock:  clk,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		eng.Stop(ctx)
	})

	texts := filepath.Join(dir, "texts")
	if err := os.MkdirAll(texts, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(texts, "prompts.txt"), []byte("A\nB\nC\nD\nE\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &countingRecorder{rotations: map[string]int{}}
	svc := New(Deps{
		Catalog:   workflow.NewCatalog(filepath.Join(dir, "workflows"), logx.Nop()),
		Schedules: store,
		Scheduler: eng,
		Rotation:  rotation.NewService(rotation.TextSource{Dir: texts}, nil, clk, nil, logx.Nop()),
		Seeds:     seedlist.Generator{},
		Metrics:   rec,
		Clock:     clk,
	})
	return svc, eng, rec, dir
}

func TestSaveSchedulesAndToggleGlobal(t *testing.T) {
	t.Parallel()
	svc, eng, _, _ := newService(t)
	ctx := context.Background()

	ents := []schedule.Entry{{Time: "08:00", Workflow: "a.json", Enabled: true}, {Time: "09:30", Workflow: "b.json"}}
	if _, err := svc.SaveSchedules(ctx, ents, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !eng.Running() {
		t.Fatalf("expected running after enabling save")
	}

	cfg, err := svc.ToggleGlobal(ctx, false)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if cfg.GlobalEnabled || len(cfg.Schedules) != 2 {
		t.Fatalf("toggle result: %+v", cfg)
	}
	if eng.Running() {
		t.Fatalf("expected stopped after global off")
	}
	got := svc.Schedules()
	if !reflect.DeepEqual(got.Schedules, ents) || got.GlobalEnabled {
		t.Fatalf("persisted config: %+v", got)
	}

	st := svc.Status(ctx)
	if st.Running || st.TotalConfigured != 2 || st.EnabledConfigured != 1 {
		t.Fatalf("status: %+v", st.Status)
	}
}

func TestSaveWorkflowAndList(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)

	fn, err := svc.SaveWorkflow("Morning Run", json.RawMessage(`{"1":{"class_type":"X"}}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveWorkflow("Morning Run", json.RawMessage(`{"1":{}}`)); !errors.Is(err, workflow.ErrTargetExists) {
		t.Fatalf("expected ErrTargetExists, got %v", err)
	}
	list, err := svc.Workflows()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Filename != fn {
		t.Fatalf("list: %+v", list)
	}
}

func TestRotationAndSeedsRecordMetrics(t *testing.T) {
	t.Parallel()
	svc, _, rec, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Rotation(ctx, "prompts", 2, rotation.Sequential)
	if err != nil {
		t.Fatalf("rotation: %v", err)
	}
	if want := []string{"A", "B"}; !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items=%v want %v", res.Items, want)
	}
	if _, err := svc.Rotation(ctx, "missing", 2, rotation.Random); !errors.Is(err, rotation.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if rec.rotations["sequential"] != 1 || rec.rotations["random"] != 0 {
		t.Fatalf("recorded: %+v", rec.rotations)
	}
	if err := svc.ResetRotation(ctx, "prompts"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	srcs, err := svc.RotationSources()
	if err != nil || !reflect.DeepEqual(srcs, []string{"prompts"}) {
		t.Fatalf("sources=%v err=%v", srcs, err)
	}

	seeds, at := svc.Seeds(3)
	if len(seeds) != 3 || at.Hour() != 14 {
		t.Fatalf("seeds=%v at=%v", seeds, at)
	}
	again := seedlist.Generator{}.Generate(3, at)
	if !reflect.DeepEqual(seeds, again) {
		t.Fatalf("seeds not repeatable: %v vs %v", seeds, again)
	}
	if rec.seeds != 1 {
		t.Fatalf("seed counter=%d", rec.seeds)
	}
}
