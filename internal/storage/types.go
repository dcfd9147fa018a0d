package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled   = errors.New("storage disabled")
	ErrInvalidKey = errors.New("storage: invalid source id")
	ErrClosed     = errors.New("storage: closed")
)

// SeedDateLayout is the on-disk format of a seed date.
const SeedDateLayout = "20060102"

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per seed plus runs.jsonl under Path (a directory)
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one invocation attempt of a scheduled workflow.
type RunRecord struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Time     string    `json:"time"` // trigger HH:MM
	Workflow string    `json:"workflow"`
	OK       bool      `json:"ok"`
	PromptID string    `json:"prompt_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// validKey reports whether id is usable as a file name component.
func validKey(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}

// dateOnly truncates t to midnight UTC of its calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
