package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedsCommand(t *testing.T) {
	t.Parallel()
	out, err := run(t, "seeds", "--count", "3", "--at", "14:05:09")
	if err != nil {
		t.Fatalf("seeds: %v", err)
	}
	var got struct {
		TimeSeed int64   `json:"time_seed"`
		Seeds    []int64 `json:"seeds"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.TimeSeed != 140509 || len(got.Seeds) != 3 {
		t.Fatalf("got %+v", got)
	}
	again, _ := run(t, "seeds", "--count", "3", "--at", "14:05:09")
	if again != out {
		t.Fatalf("seed output not repeatable:\n%s\n%s", out, again)
	}
	if _, err := run(t, "seeds", "--at", "25:00"); err == nil {
		t.Fatalf("expected error for bad --at")
	}
}

func writeCLIConfig(t *testing.T, dir string) string {
	t.Helper()
	texts := filepath.Join(dir, "texts")
	if err := os.MkdirAll(texts, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(texts, "subjects.txt"), []byte("A\nB\nC\nD\nE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{
  "backend": {"base_url": "http://127.0.0.1:1"},
  "paths": {"workflows": %q, "schedules": %q, "texts": %q},
  "storage": {"driver": "file", "path": %q},
  "logging": {"level": "error"}
}`, filepath.Join(dir, "wf"), filepath.Join(dir, "schedules.json"), texts, filepath.Join(dir, "store"))
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCheckConfigCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := writeCLIConfig(t, dir)

	out, err := run(t, "check-config", "-c", cfg)
	if err != nil || !strings.Contains(out, "config ok") || !strings.Contains(out, "storage=file") {
		t.Fatalf("check-config: %q err=%v", out, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"scheduler":{"timezone":"Mars/Olympus"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "check-config", "-c", bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRotateCommands(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := writeCLIConfig(t, dir)

	out, err := run(t, "rotate", "subjects", "-c", cfg, "-n", "2")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	var res struct {
		Items []string `json:"items"`
		Mode  string   `json:"mode"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if strings.Join(res.Items, ",") != "A,B" || res.Mode != "sequential" {
		t.Fatalf("got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "store", "subjects.seed.json")); err != nil {
		t.Fatalf("anchor not persisted: %v", err)
	}

	out, err = run(t, "rotate-reset", "subjects", "-c", cfg)
	if err != nil || !strings.Contains(out, "reset") {
		t.Fatalf("rotate-reset: %q err=%v", out, err)
	}
	if _, err := run(t, "rotate", "subjects", "-c", cfg, "-m", "shuffle"); err == nil {
		t.Fatalf("expected bad mode error")
	}
	if _, err := run(t, "rotate", "nothing", "-c", cfg); err == nil {
		t.Fatalf("expected missing source error")
	}
}
