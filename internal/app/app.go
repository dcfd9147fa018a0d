package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"promptclock/internal/clock"
	"promptclock/internal/config"
	"promptclock/internal/control"
	"promptclock/internal/eventbus"
	"promptclock/internal/httpapi"
	"promptclock/internal/invoker"
	"promptclock/internal/metrics"
	"promptclock/internal/rotation"
	rtsup "promptclock/internal/runtime/supervisor"
	"promptclock/internal/schedule"
	"promptclock/internal/seedlist"
	"promptclock/internal/storage"
	"promptclock/internal/task/engine"
	"promptclock/internal/task/scheduler"
	"promptclock/internal/workflow"
	logx "promptclock/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	mets  *metrics.Metrics

	engine    *engine.Service
	sched     *scheduler.Engine
	schedules *schedule.Store
	ctl       *control.Service
	http      *httpapi.Server
}

// New loads the config and wires every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	wc := cfg.WithDefaults()

	logSvc, log := logx.New(wc.Logging.LogConfig())
	log = log.With(logx.Comp("app"))
	comp := func(name string) logx.Logger { return logSvc.Logger().With(logx.Comp(name)) }

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, comp("storage"))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	mets := metrics.New()
	clk := clock.Real{}

	catalog := workflow.NewCatalog(wc.Paths.Workflows, comp("workflow"))
	runner := workflow.Runner{
		Catalog:   catalog,
		Submitter: invoker.NewHTTP(mapInvokerOptions(cfg, comp("invoker"))),
	}
	schedules := schedule.NewStore(wc.Paths.Schedules, clk, comp("schedule"))
	engineSvc := engine.New(mapTaskEngineConfig(cfg), comp("taskengine"), bus)

	deps := scheduler.Deps{
		Store:    schedules,
		Executor: engineSvc,
		Action:   runner,
		Observer: mets,
		Bus:      bus,
		Clock:    clk,
		Log:      comp("scheduler"),
	}
	var state rotation.StateStore
	if store != nil {
		deps.Runs = store
		state = store
	}
	sched := scheduler.New(schedCfg, deps)

	rot := rotation.NewService(rotation.TextSource{Dir: wc.Paths.Texts}, state, clk, bus, comp("rotation"))
	ctl := control.New(control.Deps{
		Catalog:   catalog,
		Schedules: schedules,
		Scheduler: sched,
		Executor:  engineSvc,
		Rotation:  rot,
		Seeds:     seedlist.Generator{Log: comp("seedlist")},
		Runs:      store,
		Metrics:   mets,
		Clock:     clk,
		Log:       comp("control"),
	})
	srv := httpapi.New(httpapi.Options{
		Addr:     wc.Server.ListenAddr(),
		Control:  ctl,
		Ready:    sched.Ready(),
		Gatherer: mets.Registry(),
		Observer: mets,
		Log:      comp("http"),
	})

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		mets:      mets,
		engine:    engineSvc,
		sched:     sched,
		schedules: schedules,
		ctl:       ctl,
		http:      srv,
	}, nil
}

// Control exposes the operator operations. It works without Start.
func (a *App) Control() *control.Service { return a.ctl }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.logs.Logger().With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	a.engine.Start(a.sup.Context())

	initial := a.schedules.Load()
	if err := a.sched.Configure(initial); err != nil {
		return fmt.Errorf("initial schedule: %w", err)
	}
	if initial.GlobalEnabled && initial.EnabledCount() > 0 {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("schedule engine idle", logx.Bool("global_enabled", initial.GlobalEnabled), logx.Int("enabled", initial.EnabledCount()))
	}

	a.sup.Go("http.serve", a.http.Serve)

	a.sup.Go0("systemd.ready", func(c context.Context) {
		select {
		case <-c.Done():
		case <-a.sched.Ready():
			sdNotify(a.log, daemon.SdNotifyReady)
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level; task events are frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// restartOnly lists sections that are read once in New.
var restartOnly = map[string]bool{"server": true, "backend": true, "paths": true, "storage": true}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// Coalesce bursts: keep only the latest config in the channel.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		a.applyConfig(c, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartOnly[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	wc := next.WithDefaults()
	if err := a.logs.Apply(wc.Logging.LogConfig()); err != nil {
		a.log.Warn("log file sink disabled", logx.Err(err))
	}
	a.engine.Apply(c, mapTaskEngineConfig(next))
	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStopStep(ctx, a.log, name, max, fn)
	}

	step("http", 3*time.Second, a.http.Shutdown)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, http, event log).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// runStopStep runs fn with an upper bound so one component can't stall the whole stop.
func runStopStep(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem <= 0 {
				max = 0
			} else if rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
