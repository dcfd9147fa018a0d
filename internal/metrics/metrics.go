// Package metrics exposes Prometheus collectors for the scheduler, the
// rotation service and the HTTP control surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "promptclock"

// Metrics implements scheduler.Observer and records HTTP and rotation activity.
type Metrics struct {
	reg *prometheus.Registry

	triggersFired *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsSkipped   *prometheus.CounterVec
	triggers      prometheus.Gauge
	armed         prometheus.Gauge

	rotations *prometheus.CounterVec
	seedLists prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "triggers_fired_total",
			Help: "Daily triggers that matched their minute.",
		}, []string{"workflow"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "runs_total",
			Help: "Workflow submissions by outcome.",
		}, []string{"workflow", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "run_duration_seconds",
			Help:    "Time spent submitting a workflow to the backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "runs_skipped_total",
			Help: "Fired triggers that did not run.",
		}, []string{"reason"}),
		triggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "triggers",
			Help: "Compiled triggers in the live table.",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "triggers_armed",
			Help: "Triggers that can currently fire.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rotation", Name: "selections_total",
			Help: "Daily rotation selections by mode and outcome.",
		}, []string{"mode", "status"}),
		seedLists: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "seedlist", Name: "generated_total",
			Help: "Seed lists generated.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Control surface requests.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Control surface request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.triggersFired, m.runs, m.runDuration, m.runsSkipped, m.triggers, m.armed,
		m.rotations, m.seedLists, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) TriggerFired(workflow string) {
	if m == nil {
		return
	}
	m.triggersFired.WithLabelValues(workflow).Inc()
}

func (m *Metrics) RunFinished(workflow string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	status := statusLabel(ok)
	m.runs.WithLabelValues(workflow, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(took.Seconds())
}

func (m *Metrics) RunSkipped(reason string) {
	if m == nil {
		return
	}
	m.runsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TableApplied(triggers, armed int) {
	if m == nil {
		return
	}
	m.triggers.Set(float64(triggers))
	m.armed.Set(float64(armed))
}

func (m *Metrics) RotationSelected(mode string, ok bool) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(mode, statusLabel(ok)).Inc()
}

func (m *Metrics) SeedListGenerated() {
	if m == nil {
		return
	}
	m.seedLists.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
