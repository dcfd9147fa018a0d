// Package schedule holds the persisted schedule configuration: the list of
// daily entries and the global enable switch.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"promptclock/internal/clock"
	logx "promptclock/pkg/logx"
)

// Entry is one daily trigger: run Workflow at Time ("HH:MM") every day.
type Entry struct {
	Time     string `json:"time"`
	Workflow string `json:"workflow"`
	Enabled  bool   `json:"enabled"`
}

// Config is the whole schedule file. The file is the single source of truth.
type Config struct {
	Schedules     []Entry   `json:"schedules"`
	GlobalEnabled bool      `json:"globalEnabled"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// EnabledCount returns the number of entries with their own flag set.
func (c Config) EnabledCount() int {
	n := 0
	for _, e := range c.Schedules {
		if e.Enabled {
			n++
		}
	}
	return n
}

// Store reads and writes the schedule file.
type Store struct {
	path  string
	clock clock.Clock
	log   logx.Logger

	mu sync.Mutex
}

func NewStore(path string, clk clock.Clock, log logx.Logger) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, clock: clk, log: log}
}

func (s *Store) Path() string { return s.path }

// Load returns the persisted config. A missing, unreadable or corrupt file
// yields the zero config; the reason is logged.
func (s *Store) Load() Config {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("schedule file missing; using empty config", logx.String("path", s.path))
		} else {
			s.log.Warn("schedule file unreadable; using empty config", logx.String("path", s.path), logx.Err(err))
		}
		return Config{Schedules: []Entry{}}
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		s.log.Warn("schedule file corrupt; using empty config", logx.String("path", s.path), logx.Err(err))
		return Config{Schedules: []Entry{}}
	}
	if cfg.Schedules == nil {
		cfg.Schedules = []Entry{}
	}
	return cfg
}

// Save stamps UpdatedAt and atomically replaces the file. On error the
// previous file is left intact.
func (s *Store) Save(cfg Config) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Schedules == nil {
		cfg.Schedules = []Entry{}
	}
	cfg.UpdatedAt = s.clock.Now()

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Config{}, err
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Config{}, fmt.Errorf("save schedules: %w", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return Config{}, fmt.Errorf("save schedules: %w", err)
	}
	s.log.Info("schedules saved",
		logx.Int("entries", len(cfg.Schedules)),
		logx.Int("enabled", cfg.EnabledCount()),
		logx.Bool("global_enabled", cfg.GlobalEnabled),
	)
	return cfg, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
