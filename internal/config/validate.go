package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	logx "promptclock/pkg/logx"
)

// Validate checks bounds and references that would otherwise fail at runtime.
// All problems are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if s := strings.TrimSpace(c.Backend.BaseURL); s != "" {
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url: invalid url %q", s))
		}
	}
	if err := checkListenCollision(c.Server.ListenAddr(), c.Backend.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("backend.request_timeout", c.Backend.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Backend.RatePerSec < 0 {
		errs = append(errs, errors.New("backend.rate_per_sec: must be >= 0"))
	}

	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.action_timeout", c.Scheduler.ActionTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}

	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 || c.TaskEngine.HistorySize < 0 {
		errs = append(errs, errors.New("task_engine: sizes must be >= 0"))
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if lv := strings.TrimSpace(c.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}
	return errors.Join(errs...)
}

// Location resolves the trigger timezone. Empty means the process local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// PollEvery returns the poll interval clamped to [1s, 60s].
func (s SchedulerConfig) PollEvery() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", s.PollInterval, DefaultPollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return min(max(d, MinPollInterval), DefaultPollInterval)
}

func (s SchedulerConfig) ActionTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.action_timeout", s.ActionTimeout, DefaultActionTimeout)
	if err != nil {
		return DefaultActionTimeout
	}
	return d
}

func (b BackendConfig) Timeout() time.Duration {
	d, err := ParseDurationOrDefault("backend.request_timeout", b.RequestTimeout, DefaultRequestTimeout)
	if err != nil {
		return DefaultRequestTimeout
	}
	return d
}

func (b BackendConfig) Path() string {
	p := strings.TrimSpace(b.PromptPath)
	if p == "" {
		return DefaultPromptPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (b BackendConfig) Client() string {
	if s := strings.TrimSpace(b.ClientID); s != "" {
		return s
	}
	return DefaultClientID
}

func (s ServerConfig) ListenAddr() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return DefaultServerAddr
}

// checkListenCollision rejects a listen address that is the backend itself.
// Loopback names and wildcard hosts compare equal.
func checkListenCollision(listen, baseURL string) error {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = DefaultBackendURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	lhost, lport, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	bport := u.Port()
	if bport == "" {
		bport = "80"
		if strings.EqualFold(u.Scheme, "https") {
			bport = "443"
		}
	}
	if lport != bport {
		return nil
	}
	if sameHost(lhost, u.Hostname()) {
		return fmt.Errorf("server.addr: %s collides with backend.base_url %s", listen, raw)
	}
	return nil
}

func sameHost(listen, backend string) bool {
	norm := func(h string) string {
		h = strings.ToLower(strings.Trim(h, "[]"))
		switch h {
		case "localhost", "::1", "127.0.0.1":
			return "loopback"
		}
		return h
	}
	l, b := norm(listen), norm(backend)
	if l == "" || l == "0.0.0.0" || l == "::" {
		return b == "loopback" || b == l || b == "0.0.0.0"
	}
	return l == b
}

// WithDefaults returns a copy with empty paths and sizes filled in.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	if c.Paths.Workflows == "" {
		c.Paths.Workflows = "./workflows"
	}
	if c.Paths.Schedules == "" {
		c.Paths.Schedules = "./schedules.json"
	}
	if c.Paths.Texts == "" {
		c.Paths.Texts = "./texts"
	}
	if c.Paths.State == "" {
		c.Paths.State = DefaultStateDir
	}
	if c.TaskEngine.Workers <= 0 {
		c.TaskEngine.Workers = 2
	}
	if c.TaskEngine.QueueSize <= 0 {
		c.TaskEngine.QueueSize = 64
	}
	if c.TaskEngine.HistorySize <= 0 {
		c.TaskEngine.HistorySize = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}

// LogConfig maps the logging section onto logx.
func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
