package config

import "time"

type Config struct {
	Server     ServerConfig     `json:"server"`
	Backend    BackendConfig    `json:"backend"`
	Paths      PathsConfig      `json:"paths"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Addr string `json:"addr"` // default: "127.0.0.1:8189"; must differ from backend.base_url
}

// BackendConfig points at the workflow execution backend.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type BackendConfig struct {
	BaseURL        string  `json:"base_url"`
	PromptPath     string  `json:"prompt_path,omitempty"` // default: "/prompt"
	ClientID       string  `json:"client_id,omitempty"`   // default: "scheduled_task"
	RequestTimeout string  `json:"request_timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
}

type PathsConfig struct {
	Workflows string `json:"workflows"`
	Schedules string `json:"schedules"`
	Texts     string `json:"texts"`
	// State is the file store directory used when no storage section is set.
	State string `json:"state,omitempty"`
}

// SchedulerConfig controls the daily trigger loop.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s" (clamped to [1s, 60s])
//   - timezone: local
//   - action_timeout: "30s"
type SchedulerConfig struct {
	PollInterval  string `json:"poll_interval,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"`
}

// TaskEngineConfig controls the executor that runs fired triggers.
//
// Defaults: workers 2, queue_size 64, history_size 100.
type TaskEngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the persistence layer for rotation state and run audit.
// Without this section the file driver is used under paths.state; set
// driver "none" to keep rotation state in memory only.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./promptclock_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

const (
	DefaultServerAddr     = "127.0.0.1:8189"
	DefaultBackendURL     = "http://127.0.0.1:8188"
	DefaultStateDir       = "./promptclock_state"
	DefaultPromptPath     = "/prompt"
	DefaultClientID       = "scheduled_task"
	DefaultPollInterval   = 60 * time.Second
	MinPollInterval       = time.Second
	DefaultActionTimeout  = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)
