package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"promptclock/internal/schedule"
)

// trigger is the runtime projection of one schedule entry.
type trigger struct {
	key   string // time|workflow|occurrence
	entry schedule.Entry
	sched cron.Schedule

	// lastFired is the unix second of the last minute this trigger fired in.
	lastFired atomic.Int64
}

// dueIn returns the trigger's fire minute in the window (after, upTo].
// Both bounds are minute starts in the engine zone.
func (t *trigger) dueIn(after, upTo time.Time) (time.Time, bool) {
	n := t.sched.Next(after)
	return n, !n.After(upTo)
}

// claim marks minute as fired. It returns false if it already was.
func (t *trigger) claim(minute time.Time) bool {
	m := minute.Unix()
	for {
		prev := t.lastFired.Load()
		if prev >= m {
			return false
		}
		if t.lastFired.CompareAndSwap(prev, m) {
			return true
		}
	}
}

// table is an immutable compiled schedule. Only lastFired guards mutate.
type table struct {
	triggers []*trigger
	byKey    map[string]*trigger
	armed    bool

	total   int // entries in the source config, including malformed ones
	enabled int // entries with their own flag set
}

func (t *table) lookup(key string) *trigger {
	if t == nil {
		return nil
	}
	return t.byKey[key]
}

func (t *table) enabledTriggers() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, tr := range t.triggers {
		if tr.entry.Enabled {
			n++
		}
	}
	return n
}

// entryProblem explains why an entry cannot be compiled, or returns "".
func entryProblem(e schedule.Entry) string {
	switch {
	case strings.TrimSpace(e.Time) == "":
		return "missing time"
	case strings.TrimSpace(e.Workflow) == "":
		return "missing workflow"
	}
	if _, _, err := parseHHMM(e.Time); err != nil {
		return err.Error()
	}
	return ""
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// dailySpec is the cron expression for every day at h:m.
func dailySpec(h, m int) string { return fmt.Sprintf("%d %d * * *", m, h) }

// minuteOf returns the start of now's wall-clock minute in loc.
func minuteOf(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}
