package scheduler

import (
	"context"
	"errors"
	"time"

	"promptclock/internal/schedule"
	"promptclock/internal/storage"
	"promptclock/internal/task/engine"
)

var (
	ErrConfigure = errors.New("schedule rebuild failed")
	// ErrNotApplied is returned by OnConfigSaved when the file was written
	// but the engine kept its previous table.
	ErrNotApplied = errors.New("schedule saved but not applied")
)

// Config holds live engine settings. Zero values select defaults.
type Config struct {
	PollInterval  time.Duration  // default 60s, clamped to [1s, 60s]
	Location      *time.Location // default time.Local
	ActionTimeout time.Duration  // default 30s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	c.PollInterval = min(max(c.PollInterval, time.Second), 60*time.Second)
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	return c
}

// Executor accepts fired triggers without blocking. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Action runs one workflow target and returns the backend's identifier.
type Action interface {
	Run(ctx context.Context, target string) (string, error)
}

// ConfigSaver persists a schedule config. *schedule.Store satisfies it.
type ConfigSaver interface {
	Save(cfg schedule.Config) (schedule.Config, error)
}

// RunRecorder receives one record per invocation attempt.
type RunRecorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Observer receives counters for metrics. All methods must be cheap.
type Observer interface {
	TriggerFired(workflow string)
	RunFinished(workflow string, ok bool, took time.Duration)
	RunSkipped(reason string)
	TableApplied(triggers, armed int)
}

// Status is the operator view of the engine.
type Status struct {
	Running           bool       `json:"running"`
	GlobalEnabled     bool       `json:"globalEnabled"`
	TriggerCount      int        `json:"schedule_count"`
	TotalConfigured   int        `json:"total_schedules"`
	EnabledConfigured int        `json:"enabled_schedules"`
	NextFireTime      *time.Time `json:"next_run"`
	Fired             uint64     `json:"fired"`
	Succeeded         uint64     `json:"succeeded"`
	Failed            uint64     `json:"failed"`
	Skipped           uint64     `json:"skipped"`
	LastError         string     `json:"last_error,omitempty"`
}
