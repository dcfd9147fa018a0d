package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulerCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.TriggerFired("a.json")
	m.RunFinished("a.json", true, 20*time.Millisecond)
	m.RunFinished("a.json", false, time.Second)
	m.RunSkipped("entry_disabled")
	m.TableApplied(4, 3)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("a.json", "error")); got != 1 {
		t.Fatalf("error runs = %v", got)
	}
	if got := testutil.ToFloat64(m.triggersFired.WithLabelValues("a.json")); got != 1 {
		t.Fatalf("fired = %v", got)
	}
	if got := testutil.ToFloat64(m.armed); got != 3 {
		t.Fatalf("armed = %v", got)
	}
	if n := testutil.CollectAndCount(m.runDuration); n != 2 {
		t.Fatalf("duration series = %d", n)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.TriggerFired("x")
	m.RunFinished("x", true, 0)
	m.RunSkipped("x")
	m.TableApplied(1, 1)
	m.RotationSelected("random", true)
	m.SeedListGenerated()
	m.ObserveHTTP("GET", "/", 200, 0)
}
