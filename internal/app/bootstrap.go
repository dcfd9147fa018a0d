package app

import (
	"promptclock/internal/config"
	"promptclock/internal/invoker"
	"promptclock/internal/task/engine"
	"promptclock/internal/task/scheduler"
	logx "promptclock/pkg/logx"
)

// Config section mappings. Callers pass a validated config.

func mapTaskEngineConfig(cfg *config.Config) engine.Config {
	c := cfg.WithDefaults()
	return engine.Config{
		Workers:        c.TaskEngine.Workers,
		QueueSize:      c.TaskEngine.QueueSize,
		DefaultTimeout: c.Scheduler.ActionTimeoutOrDefault(),
		HistorySize:    c.TaskEngine.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PollInterval:  cfg.Scheduler.PollEvery(),
		Location:      loc,
		ActionTimeout: cfg.Scheduler.ActionTimeoutOrDefault(),
	}, nil
}

func mapInvokerOptions(cfg *config.Config, log logx.Logger) invoker.Options {
	c := cfg.WithDefaults()
	return invoker.Options{
		BaseURL:    c.Backend.BaseURL,
		Path:       c.Backend.Path(),
		ClientID:   c.Backend.Client(),
		Timeout:    c.Backend.Timeout(),
		RatePerSec: c.Backend.RatePerSec,
		Logger:     log,
	}
}
