package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"promptclock/internal/clock"
	"promptclock/internal/eventbus"
	rtsup "promptclock/internal/runtime/supervisor"
	"promptclock/internal/schedule"
	"promptclock/internal/storage"
	"promptclock/internal/task/engine"
	logx "promptclock/pkg/logx"
)

// Deps wires the engine to its collaborators. Action is required.
type Deps struct {
	Store    ConfigSaver
	Executor Executor
	Action   Action
	Runs     RunRecorder
	Observer Observer
	Bus      eventbus.Bus
	Clock    clock.Clock
	Log      logx.Logger

	// Parser compiles daily specs. Defaults to the standard 5-field cron parser.
	Parser cron.ScheduleParser
}

type Engine struct {
	log    logx.Logger
	bus    eventbus.Bus
	clock  clock.Clock
	store  ConfigSaver
	exec   Executor
	action Action
	runs   RunRecorder
	obs    Observer
	parser cron.ScheduleParser

	cfgMu sync.RWMutex
	cfg   Config

	table         atomic.Pointer[table]
	retired       atomic.Pointer[table] // last table cleared by Stop; keeps fire guards
	lastTick      atomic.Int64          // unix second of the last evaluated minute; 0 after Start
	source        atomic.Pointer[schedule.Config]
	globalEnabled atomic.Bool
	running       atomic.Bool

	// life serializes Start/Stop.
	life sync.Mutex
	sup  *rtsup.Supervisor
	wake chan struct{}

	readyOnce sync.Once
	ready     chan struct{}

	fired     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	lastErr   atomic.Value // string
}

func New(cfg Config, d Deps) *Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Parser == nil {
		d.Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	}
	if d.Executor == nil {
		d.Executor = goExecutor{log: d.Log}
	}
	e := &Engine{
		log:    d.Log,
		bus:    d.Bus,
		clock:  d.Clock,
		store:  d.Store,
		exec:   d.Executor,
		action: d.Action,
		runs:   d.Runs,
		obs:    d.Observer,
		parser: d.Parser,
		cfg:    cfg.withDefaults(),
		wake:   make(chan struct{}, 1),
		ready:  make(chan struct{}),
	}
	e.table.Store(&table{byKey: map[string]*trigger{}})
	return e
}

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Ready is closed after the first successful Configure.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

func (e *Engine) Running() bool { return e.running.Load() }

// Configure rebuilds the trigger table from cfg and swaps it in. Malformed
// entries are skipped. On error the previous table stays live.
func (e *Engine) Configure(cfg schedule.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("schedule rebuild panicked", logx.Any("panic", r), logx.Stack())
			err = fmt.Errorf("%w: panic: %v", ErrConfigure, r)
		}
	}()

	prev := e.table.Load()
	if len(prev.triggers) == 0 {
		if r := e.retired.Load(); r != nil {
			prev = r
		}
	}
	next, err := e.compile(cfg, prev)
	if err != nil {
		e.log.Error("schedule rebuild failed; keeping previous table", logx.Err(err))
		return err
	}

	src := cfg
	src.Schedules = append([]schedule.Entry(nil), cfg.Schedules...)
	e.source.Store(&src)
	e.table.Store(next)
	e.retired.Store(nil)
	e.globalEnabled.Store(cfg.GlobalEnabled)
	e.readyOnce.Do(func() { close(e.ready) })

	armed := 0
	if next.armed {
		armed = next.enabledTriggers()
	}
	if e.obs != nil {
		e.obs.TableApplied(len(next.triggers), armed)
	}
	eventbus.Publish(e.bus, eventbus.TypeScheduleApplied, e.Status())
	e.log.Info("schedule applied",
		logx.Int("triggers", len(next.triggers)),
		logx.Int("armed", armed),
		logx.Bool("global_enabled", cfg.GlobalEnabled),
	)
	return nil
}

func (e *Engine) compile(cfg schedule.Config, prev *table) (*table, error) {
	next := &table{
		byKey:   make(map[string]*trigger, len(cfg.Schedules)),
		armed:   cfg.GlobalEnabled,
		total:   len(cfg.Schedules),
		enabled: cfg.EnabledCount(),
	}
	seen := map[string]int{}
	for i, ent := range cfg.Schedules {
		if why := entryProblem(ent); why != "" {
			e.log.Warn("skipping malformed schedule entry", logx.Int("index", i), logx.Trigger(ent.Time, ent.Workflow), logx.String("reason", why))
			continue
		}
		ent.Time = strings.TrimSpace(ent.Time)
		h, m, _ := parseHHMM(ent.Time)
		sched, err := e.parser.Parse(dailySpec(h, m))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %v", ErrConfigure, i, ent.Time, err)
		}

		base := fmt.Sprintf("%02d:%02d|%s", h, m, ent.Workflow)
		key := fmt.Sprintf("%s|%d", base, seen[base])
		seen[base]++

		tr := &trigger{key: key, entry: ent, sched: sched}
		if old := prev.lookup(key); old != nil {
			tr.lastFired.Store(old.lastFired.Load())
		}
		next.triggers = append(next.triggers, tr)
		next.byKey[key] = tr
	}
	return next, nil
}

// Start begins the polling loop. It returns false if the loop is already running.
func (e *Engine) Start(ctx context.Context) bool {
	e.life.Lock()
	defer e.life.Unlock()
	if e.running.Load() {
		e.log.Info("schedule engine already running")
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The loop outlives the caller's request; Stop ends it.
	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(e.log))
	e.sup = sup
	e.running.Store(true)
	e.lastTick.Store(0)
	cfg := e.config()
	sup.GoRestart("schedule.loop", rtsup.PollBackoff(cfg.PollInterval), e.loop)

	e.log.Info("schedule engine started", logx.Duration("poll", cfg.PollInterval), logx.String("tz", cfg.Location.String()))
	eventbus.Publish(e.bus, eventbus.TypeEngineStarted, nil)
	return true
}

// Stop halts the loop and clears the trigger table. The current iteration
// finishes first; ctx bounds the wait. It returns false if already stopped.
func (e *Engine) Stop(ctx context.Context) bool {
	e.life.Lock()
	defer e.life.Unlock()
	if !e.running.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := e.sup.Stop(ctx); err != nil {
		e.log.Warn("schedule loop stop incomplete", logx.Err(err))
	}
	e.sup = nil
	e.running.Store(false)

	e.retired.Store(e.table.Load())
	e.table.Store(&table{byKey: map[string]*trigger{}})

	e.log.Info("schedule engine stopped", logx.Duration("took", time.Since(start)))
	eventbus.Publish(e.bus, eventbus.TypeEngineStopped, nil)
	return true
}

// Apply updates live settings. A timezone change recompiles the current table.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfgMu.Lock()
	prev := e.cfg
	e.cfg = cfg
	e.cfgMu.Unlock()

	if prev.PollInterval != cfg.PollInterval {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	if prev.Location.String() != cfg.Location.String() {
		if src := e.source.Load(); src != nil {
			if err := e.Configure(*src); err != nil {
				e.log.Warn("recompile after timezone change failed", logx.Err(err))
			}
		}
	}
}

// OnConfigSaved persists cfg, rebuilds the table and starts or stops the loop.
// If persisting fails the engine is left untouched. If the rebuild fails the
// file keeps the new config and the error wraps ErrNotApplied.
func (e *Engine) OnConfigSaved(ctx context.Context, cfg schedule.Config) (schedule.Config, error) {
	if e.store == nil {
		return schedule.Config{}, fmt.Errorf("schedule store not configured")
	}
	saved, err := e.store.Save(cfg)
	if err != nil {
		return schedule.Config{}, err
	}
	eventbus.Publish(e.bus, eventbus.TypeScheduleSaved, saved)

	if err := e.Configure(saved); err != nil {
		return saved, fmt.Errorf("%w: %w", ErrNotApplied, err)
	}
	switch {
	case !saved.GlobalEnabled:
		e.Stop(ctx)
	case saved.EnabledCount() > 0:
		e.Start(ctx)
	}
	return saved, nil
}

func (e *Engine) Status() Status {
	t := e.table.Load()
	st := Status{
		Running:           e.running.Load(),
		GlobalEnabled:     e.globalEnabled.Load(),
		TriggerCount:      len(t.triggers),
		TotalConfigured:   t.total,
		EnabledConfigured: t.enabled,
		Fired:             e.fired.Load(),
		Succeeded:         e.succeeded.Load(),
		Failed:            e.failed.Load(),
		Skipped:           e.skipped.Load(),
	}
	if src := e.source.Load(); src != nil && len(t.triggers) == 0 {
		st.TotalConfigured = len(src.Schedules)
		st.EnabledConfigured = src.EnabledCount()
	}
	if v, ok := e.lastErr.Load().(string); ok {
		st.LastError = v
	}
	if t.armed {
		now := e.clock.Now().In(e.config().Location)
		var next time.Time
		for _, tr := range t.triggers {
			if !tr.entry.Enabled {
				continue
			}
			if n := tr.sched.Next(now); next.IsZero() || n.Before(next) {
				next = n
			}
		}
		if !next.IsZero() {
			st.NextFireTime = &next
		}
	}
	return st
}

// loop polls until ctx ends. A panicking tick unwinds the loop and the
// supervisor restarts it; the restarted loop ticks at once and the catch-up
// window covers minutes not yet evaluated.
func (e *Engine) loop(ctx context.Context) error {
	e.tick(e.clock.Now())
	for {
		tm := time.NewTimer(e.config().PollInterval)
		select {
		case <-ctx.Done():
			tm.Stop()
			return nil
		case <-e.wake:
			tm.Stop()
		case <-tm.C:
			e.tick(e.clock.Now())
		}
	}
}

// maxCatchUp bounds how far back a tick looks for minutes the previous tick
// did not reach. Larger gaps (suspend, clock jumps) only evaluate the current minute.
const maxCatchUp = 5 * time.Minute

// tick evaluates every trigger against the minutes elapsed since the previous
// tick, up to and including now's minute.
func (e *Engine) tick(now time.Time) {
	cfg := e.config()
	minute := minuteOf(now, cfg.Location)
	after := minute.Add(-time.Minute)
	if prev := e.lastTick.Swap(minute.Unix()); prev != 0 {
		p := time.Unix(prev, 0).In(cfg.Location)
		if p.Before(after) && minute.Sub(p) <= maxCatchUp {
			after = p
		}
	}

	t := e.table.Load()
	if !t.armed || !e.globalEnabled.Load() {
		return
	}
	for _, tr := range t.triggers {
		if !tr.entry.Enabled {
			continue
		}
		at, ok := tr.dueIn(after, minute)
		if !ok || !tr.claim(at) {
			continue
		}
		if at.Before(minute) {
			e.log.Info("trigger caught up", logx.Trigger(tr.entry.Time, tr.entry.Workflow), logx.Duration("late", now.Sub(at)))
		}
		e.fire(tr, at, cfg.ActionTimeout)
	}
}

func (e *Engine) fire(tr *trigger, minute time.Time, timeout time.Duration) {
	e.fired.Add(1)
	if e.obs != nil {
		e.obs.TriggerFired(tr.entry.Workflow)
	}
	id := uuid.NewString()
	e.log.Info("trigger fired", logx.Trigger(tr.entry.Time, tr.entry.Workflow), logx.Task(tr.key, id))
	eventbus.Publish(e.bus, eventbus.TypeTriggerFired, map[string]string{"id": id, "time": tr.entry.Time, "workflow": tr.entry.Workflow})

	key, ent := tr.key, tr.entry
	err := e.exec.Enqueue(engine.Task{
		ID:      id,
		Name:    key,
		Key:     key,
		Timeout: timeout,
		Run:     func(ctx context.Context) error { return e.run(ctx, id, key, ent) },
	})
	if err != nil {
		e.skip(ent, err.Error())
	}
}

// run executes one fired trigger. The enable flags are checked again since
// the table may have changed while the task was queued.
func (e *Engine) run(ctx context.Context, id, key string, ent schedule.Entry) error {
	if !e.globalEnabled.Load() {
		e.skip(ent, "global_disabled")
		return nil
	}
	if cur := e.table.Load().lookup(key); cur == nil || !cur.entry.Enabled {
		e.skip(ent, "entry_disabled")
		return nil
	}

	start := e.clock.Now()
	promptID, err := e.action.Run(ctx, ent.Workflow)
	took := e.clock.Now().Sub(start)
	if took < 0 {
		took = 0
	}

	rec := storage.RunRecord{
		ID:       id,
		At:       start,
		Time:     ent.Time,
		Workflow: ent.Workflow,
		OK:       err == nil,
		PromptID: promptID,
		TookMS:   took.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.record(rec)
	if e.obs != nil {
		e.obs.RunFinished(ent.Workflow, err == nil, took)
	}

	if err != nil {
		e.failed.Add(1)
		e.lastErr.Store(fmt.Sprintf("%s %s: %v", ent.Time, ent.Workflow, err))
		e.log.Error("workflow run failed", logx.Workflow(ent.Workflow), logx.String("id", id), logx.Duration("took", took), logx.Err(err))
		return err
	}
	e.succeeded.Add(1)
	e.log.Info("workflow submitted", logx.Workflow(ent.Workflow), logx.String("prompt_id", promptID), logx.Duration("took", took))
	return nil
}

func (e *Engine) skip(ent schedule.Entry, reason string) {
	e.skipped.Add(1)
	if e.obs != nil {
		e.obs.RunSkipped(reason)
	}
	e.log.Info("trigger skipped", logx.Trigger(ent.Time, ent.Workflow), logx.String("reason", reason))
	eventbus.Publish(e.bus, eventbus.TypeTriggerSkipped, map[string]string{"time": ent.Time, "workflow": ent.Workflow, "reason": reason})
}

func (e *Engine) record(r storage.RunRecord) {
	if e.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.runs.AppendRun(ctx, r); err != nil {
		e.log.Warn("run audit append failed", logx.Err(err))
	}
}

// goExecutor runs each task on its own goroutine. It is the fallback when no
// task engine is wired.
type goExecutor struct{ log logx.Logger }

func (g goExecutor) Enqueue(t engine.Task) error {
	go func() {
		ctx := context.Background()
		if t.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("task panic", logx.Task(t.Name, ""), logx.Any("panic", r))
			}
		}()
		_ = t.Run(ctx)
	}()
	return nil
}
