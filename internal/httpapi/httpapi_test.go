package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"promptclock/internal/clock"
	"promptclock/internal/control"
	"promptclock/internal/metrics"
	"promptclock/internal/rotation"
	"promptclock/internal/schedule"
	"promptclock/internal/seedlist"
	"promptclock/internal/task/scheduler"
	"promptclock/internal/workflow"
	logx "promptclock/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type nopAction struct{}

func (nopAction) Run(context.Context, string) (string, error) { return "pid", nil }

type fixture struct {
	h      http.Handler
	eng    *scheduler.Engine
	store  *schedule.Store
	wfDir  string
	metric *metrics.Metrics
}

func newFixture(t *testing.T, ready <-chan struct{}) *fixture {
	t.Helper()
	return newFixtureWithParser(t, ready, nil)
}

// rejectingParser fails every spec once reject is set.
type rejectingParser struct{ reject atomic.Bool }

func (p *rejectingParser) Parse(spec string) (cron.Schedule, error) {
	if p.reject.Load() {
		return nil, errors.New("parser rejected spec")
	}
	return cron.ParseStandard(spec)
}

func newFixtureWithParser(t *testing.T, ready <-chan struct{}, parser cron.ScheduleParser) *fixture {
	t.Helper()
	dir := t.TempDir()
	clk := clock.Fixed{T: time.Date(2024, 6, 3, 14, 5, 9, 0, time.UTC)}

	store := schedule.NewStore(filepath.Join(dir, "schedules.json"), clk, logx.Nop())
	eng := scheduler.New(scheduler.Config{Location: time.UTC, PollInterval: time.Second}, scheduler.Deps{
		Store: store, Action: nopAction{}, Clock: clk, Parser: parser,
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
	if err := os.WriteFile(filepath.Join(texts, "empty.txt"), []byte("\n  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	wfDir := filepath.Join(dir, "workflows")
	ctl := control.New(control.Deps{
		Catalog:   workflow.NewCatalog(wfDir, logx.Nop()),
		Schedules: store,
		Scheduler: eng,
		Rotation:  rotation.NewService(rotation.TextSource{Dir: texts}, nil, clk, nil, logx.Nop()),
		Seeds:     seedlist.Generator{},
		Metrics:   m,
		Clock:     clk,
	})
	srv := New(Options{Control: ctl, Ready: ready, Gatherer: m.Registry(), Observer: m})
	return &fixture{h: srv.Handler(), eng: eng, store: store, wfDir: wfDir, metric: m}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: bad json %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func TestScheduleRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/scheduledtask/get_schedules", "")
	if code != http.StatusOK || body["globalEnabled"] != false {
		t.Fatalf("get_schedules: %d %v", code, body)
	}
	if s, ok := body["schedules"].([]any); !ok || len(s) != 0 {
		t.Fatalf("expected empty schedules list, got %v", body["schedules"])
	}

	code, body = f.do(t, http.MethodPost, "/scheduledtask/save_schedules",
		`{"schedules":[{"time":"08:00","workflow":"a.json","enabled":true},{"time":"21:15","workflow":"b.json","enabled":false}],"globalEnabled":true}`)
	if code != http.StatusOK {
		t.Fatalf("save: %d %v", code, body)
	}
	if want := "Saved 2 schedule settings, Global status: Enabled"; body["message"] != want {
		t.Fatalf("message=%q want %q", body["message"], want)
	}
	if !f.eng.Running() {
		t.Fatalf("engine should be running")
	}

	code, body = f.do(t, http.MethodGet, "/scheduledtask/status", "")
	if code != http.StatusOK || body["running"] != true || body["schedule_count"] != float64(2) || body["next_run"] == nil {
		t.Fatalf("status: %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/scheduledtask/toggle_global", `{"enabled":false}`)
	if code != http.StatusOK || body["message"] != "Scheduler system disabled" {
		t.Fatalf("toggle: %d %v", code, body)
	}
	if f.eng.Running() {
		t.Fatalf("engine should be stopped")
	}
	if got := f.store.Load(); len(got.Schedules) != 2 || got.GlobalEnabled {
		t.Fatalf("toggle must keep entries: %+v", got)
	}

	code, _ = f.do(t, http.MethodPost, "/scheduledtask/save_schedules", `{"schedules":"nope"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("bad body: %d", code)
	}
}

func TestSaveSchedulesReportsUnappliedSave(t *testing.T) {
	t.Parallel()
	parser := &rejectingParser{}
	f := newFixtureWithParser(t, nil, parser)

	code, body := f.do(t, http.MethodPost, "/scheduledtask/save_schedules",
		`{"schedules":[{"time":"08:00","workflow":"a.json","enabled":true}],"globalEnabled":true}`)
	if code != http.StatusOK {
		t.Fatalf("first save: %d %v", code, body)
	}

	parser.reject.Store(true)
	code, body = f.do(t, http.MethodPost, "/scheduledtask/save_schedules",
		`{"schedules":[{"time":"08:00","workflow":"a.json","enabled":true},{"time":"09:30","workflow":"b.json","enabled":true}],"globalEnabled":true}`)
	if code != http.StatusInternalServerError {
		t.Fatalf("second save: %d %v", code, body)
	}
	msg, _ := body["error"].(string)
	if !strings.HasPrefix(msg, "Saved, but the schedule could not be applied") {
		t.Fatalf("error=%q, want saved-not-applied message", msg)
	}
	if got := f.store.Load(); len(got.Schedules) != 2 {
		t.Fatalf("file should hold the new entries: %+v", got)
	}
	if st := f.eng.Status(); st.TriggerCount != 1 || !st.Running {
		t.Fatalf("engine should keep the previous table: %+v", st)
	}

	code, body = f.do(t, http.MethodPost, "/scheduledtask/toggle_global", `{"enabled":true}`)
	if code != http.StatusInternalServerError {
		t.Fatalf("toggle: %d %v", code, body)
	}
	if msg, _ := body["error"].(string); !strings.HasPrefix(msg, "Saved, but") {
		t.Fatalf("toggle error=%q", msg)
	}
}

func TestSaveWorkflowRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"ok", `{"name":"night","workflow":{"3":{"class_type":"KSampler"}}}`, http.StatusOK},
		{"exists", `{"name":"night","workflow":{"3":{}}}`, http.StatusBadRequest},
		{"empty name", `{"name":"  ","workflow":{"3":{}}}`, http.StatusBadRequest},
		{"empty workflow", `{"name":"other","workflow":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, body := f.do(t, http.MethodPost, "/scheduledtask/save_workflow", tt.body)
		if code != tt.code {
			t.Fatalf("%s: code=%d body=%v", tt.name, code, body)
		}
		if tt.name == "ok" && body["filename"] != "night.json" {
			t.Fatalf("filename=%v", body["filename"])
		}
	}

	code, body := f.do(t, http.MethodGet, "/scheduledtask/get_workflows", "")
	list, _ := body["workflows"].([]any)
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("get_workflows: %d %v", code, body)
	}
	if _, err := os.Stat(filepath.Join(f.wfDir, "night.json")); err != nil {
		t.Fatalf("workflow file: %v", err)
	}
}

func TestRotationRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/rotation/prompts?count=2&mode=sequential", "")
	if code != http.StatusOK {
		t.Fatalf("rotation: %d %v", code, body)
	}
	res := body["result"].(map[string]any)
	items := res["items"].([]any)
	if len(items) != 2 || items[0] != "A" || items[1] != "B" || res["mode"] != "sequential" {
		t.Fatalf("result: %v", res)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/rotation/prompts?count=-1", http.StatusBadRequest},
		{"/rotation/prompts?mode=shuffle", http.StatusBadRequest},
		{"/rotation/missing", http.StatusNotFound},
		{"/rotation/empty?mode=random", http.StatusNotFound},
		{"/rotation/prompts?count=0", http.StatusOK},
	}
	for _, tt := range tests {
		if code, body := f.do(t, http.MethodGet, tt.path, ""); code != tt.code {
			t.Fatalf("%s: code=%d body=%v", tt.path, code, body)
		}
	}

	if code, _ := f.do(t, http.MethodDelete, "/rotation/prompts", ""); code != http.StatusOK {
		t.Fatalf("reset: %d", code)
	}
	code, body = f.do(t, http.MethodGet, "/rotation", "")
	if srcs, _ := body["sources"].([]any); code != http.StatusOK || len(srcs) != 2 {
		t.Fatalf("sources: %d %v", code, body)
	}
}

func TestSeedsRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/seeds?count=3", "")
	seeds, _ := body["seeds"].([]any)
	if code != http.StatusOK || len(seeds) != 3 {
		t.Fatalf("seeds: %d %v", code, body)
	}
	_, again := f.do(t, http.MethodGet, "/seeds?count=3", "")
	for i := range seeds {
		if seeds[i] != again["seeds"].([]any)[i] {
			t.Fatalf("seeds differ for the same instant: %v vs %v", seeds, again["seeds"])
		}
	}
	if code, _ := f.do(t, http.MethodGet, "/seeds?count=abc", ""); code != http.StatusBadRequest {
		t.Fatalf("bad count: %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ready := make(chan struct{})
	f := newFixture(t, ready)

	if code, _ := f.do(t, http.MethodGet, "/healthz", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("health before ready: %d", code)
	}
	close(ready)
	if code, _ := f.do(t, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("health after ready: %d", code)
	}

	f.do(t, http.MethodGet, "/seeds", "")
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	out := w.Body.String()
	for _, want := range []string{"promptclock_http_requests_total", "promptclock_seedlist_generated_total"} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
