package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "promptclock/pkg/logx"
)

// Store is the persistence API used by the rotation service and the scheduler.
type Store interface {
	// GetSeedDate returns the anchor date for source. ok is false when none is stored.
	GetSeedDate(ctx context.Context, source string) (date time.Time, ok bool, err error)
	PutSeedDate(ctx context.Context, source string, date time.Time) error
	DeleteSeedDate(ctx context.Context, source string) error

	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "off", "disabled":
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
