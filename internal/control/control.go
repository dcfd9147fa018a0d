// Package control implements the operator operations shared by the HTTP API
// and the CLI.
package control

import (
	"context"
	"encoding/json"
	"time"

	"promptclock/internal/clock"
	"promptclock/internal/rotation"
	"promptclock/internal/schedule"
	"promptclock/internal/seedlist"
	"promptclock/internal/storage"
	"promptclock/internal/task/engine"
	"promptclock/internal/task/scheduler"
	"promptclock/internal/workflow"
	logx "promptclock/pkg/logx"
)

// Scheduler is the engine surface control needs. *scheduler.Engine satisfies it.
type Scheduler interface {
	OnConfigSaved(ctx context.Context, cfg schedule.Config) (schedule.Config, error)
	Status() scheduler.Status
}

// Recorder receives counters for control-level operations.
type Recorder interface {
	RotationSelected(mode string, ok bool)
	SeedListGenerated()
}

type Deps struct {
	Catalog   *workflow.Catalog
	Schedules *schedule.Store
	Scheduler Scheduler
	Executor  interface{ Snapshot() engine.Snapshot }
	Rotation  *rotation.Service
	Seeds     seedlist.Generator
	Runs      storage.Store // optional
	Metrics   Recorder      // optional
	Clock     clock.Clock
	Log       logx.Logger
}

type Service struct {
	d Deps
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Service{d: d}
}

func (s *Service) Workflows() ([]workflow.Target, error) { return s.d.Catalog.List() }

func (s *Service) Schedules() schedule.Config { return s.d.Schedules.Load() }

// SaveSchedules replaces all entries and the global flag.
func (s *Service) SaveSchedules(ctx context.Context, entries []schedule.Entry, globalEnabled bool) (schedule.Config, error) {
	return s.d.Scheduler.OnConfigSaved(ctx, schedule.Config{Schedules: entries, GlobalEnabled: globalEnabled})
}

// ToggleGlobal flips the global switch and keeps the entries as persisted.
func (s *Service) ToggleGlobal(ctx context.Context, enabled bool) (schedule.Config, error) {
	cur := s.d.Schedules.Load()
	return s.SaveSchedules(ctx, cur.Schedules, enabled)
}

func (s *Service) SaveWorkflow(name string, payload json.RawMessage) (string, error) {
	return s.d.Catalog.Save(name, payload)
}

// StatusView is the full operator status.
type StatusView struct {
	scheduler.Status
	Executor   *engine.Snapshot    `json:"executor,omitempty"`
	RecentRuns []storage.RunRecord `json:"recent_runs,omitempty"`
}

func (s *Service) Status(ctx context.Context) StatusView {
	v := StatusView{Status: s.d.Scheduler.Status()}
	if s.d.Executor != nil {
		snap := s.d.Executor.Snapshot()
		snap.History = nil
		v.Executor = &snap
	}
	if s.d.Runs != nil {
		runs, err := s.d.Runs.RecentRuns(ctx, 10)
		if err != nil {
			s.d.Log.Warn("recent runs unavailable", logx.Err(err))
		}
		v.RecentRuns = runs
	}
	return v
}

func (s *Service) Rotation(ctx context.Context, source string, count int, mode rotation.Mode) (rotation.Result, error) {
	res, err := s.d.Rotation.Today(ctx, source, count, mode)
	if s.d.Metrics != nil {
		s.d.Metrics.RotationSelected(mode.String(), err == nil)
	}
	return res, err
}

func (s *Service) ResetRotation(ctx context.Context, source string) error {
	return s.d.Rotation.Reset(ctx, source)
}

func (s *Service) RotationSources() ([]string, error) { return s.d.Rotation.Sources() }

// Seeds returns count seeds derived from the current time of day.
func (s *Service) Seeds(count int) (seeds []int64, at time.Time) {
	at = s.d.Clock.Now()
	seeds = s.d.Seeds.Generate(count, at)
	if s.d.Metrics != nil {
		s.d.Metrics.SeedListGenerated()
	}
	return seeds, at
}
