//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "promptclock/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// maxRuns bounds the runs table; older rows are pruned periodically.
const maxRuns = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSeedDate(ctx context.Context, source string) (time.Time, bool, error) {
	if !validKey(source) {
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidKey, source)
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT seed_date FROM rotation_seed WHERE source = ?`, source).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	d, err := time.Parse(SeedDateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("seed %s: %w", source, err)
	}
	return d, true, nil
}

func (s *sqliteStore) PutSeedDate(ctx context.Context, source string, date time.Time) error {
	if !validKey(source) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, source)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rotation_seed(source, seed_date) VALUES(?,?)
		 ON CONFLICT(source) DO UPDATE SET seed_date=excluded.seed_date`,
		source, dateOnly(date).Format(SeedDateLayout),
	)
	return err
}

func (s *sqliteStore) DeleteSeedDate(ctx context.Context, source string) error {
	if !validKey(source) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, source)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM rotation_seed WHERE source = ?`, source)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, at, time, workflow, ok, prompt_id, err, took_ms) VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.At.Format(time.RFC3339Nano), r.Time, r.Workflow, ok, nullStr(r.PromptID), nullStr(r.Error), r.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneRuns(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, time, workflow, ok, COALESCE(prompt_id,''), COALESCE(err,''), took_ms
		 FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r  RunRecord
			at string
			ok int
		)
		if err := rows.Scan(&r.ID, &at, &r.Time, &r.Workflow, &ok, &r.PromptID, &r.Error, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneRuns(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT MAX(seq) FROM runs) - ?`, maxRuns)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
