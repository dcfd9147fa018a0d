package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "promptclock/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files under the store directory:
//   - <source>.seed.json  ({"seed_date":"YYYYMMDD"}, replaced atomically)
//   - runs.jsonl          (append-only JSON Lines)
type fileStore struct {
	log logx.Logger
	dir string

	mu      sync.Mutex
	runFile *os.File
}

type seedRecord struct {
	SeedDate string `json:"seed_date"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(filepath.Join(dir, "runs.jsonl"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir, runFile: rf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runFile == nil {
		return nil
	}
	err := s.runFile.Close()
	s.runFile = nil
	return err
}

func (s *fileStore) seedPath(source string) (string, error) {
	if !validKey(source) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, source)
	}
	return filepath.Join(s.dir, source+".seed.json"), nil
}

func (s *fileStore) GetSeedDate(ctx context.Context, source string) (time.Time, bool, error) {
	_ = ctx
	path, err := s.seedPath(source)
	if err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var rec seedRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("seed %s: %w", source, err)
	}
	d, err := time.Parse(SeedDateLayout, strings.TrimSpace(rec.SeedDate))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("seed %s: %w", source, err)
	}
	return d, true, nil
}

func (s *fileStore) PutSeedDate(ctx context.Context, source string, date time.Time) error {
	_ = ctx
	path, err := s.seedPath(source)
	if err != nil {
		return err
	}
	b, err := json.Marshal(seedRecord{SeedDate: dateOnly(date).Format(SeedDateLayout)})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(path, b, 0o600)
}

func (s *fileStore) DeleteSeedDate(ctx context.Context, source string) error {
	_ = ctx
	path, err := s.seedPath(source)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runFile).Encode(r)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runFile == nil {
		return nil, ErrClosed
	}

	f, err := os.Open(s.runFile.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a ring of the last limit records.
	ring := make([]RunRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping bad run record", logx.Err(err))
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
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
