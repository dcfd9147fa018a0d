// Package workflow manages the directory of workflow documents that
// schedule entries refer to, and runs them against the backend.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"promptclock/internal/invoker"
	logx "promptclock/pkg/logx"
)

var (
	ErrTargetNotFound = errors.New("workflow not found")
	ErrTargetExists   = errors.New("workflow already exists")
	ErrInvalidTarget  = errors.New("invalid workflow")
)

// Target is one workflow document in the catalog.
type Target struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// Catalog is a directory of *.json workflow documents.
type Catalog struct {
	dir string
	log logx.Logger
}

func NewCatalog(dir string, log logx.Logger) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Catalog{dir: dir, log: log}
}

func (c *Catalog) Dir() string { return c.dir }

// List returns the catalog sorted by filename. A missing directory is an empty catalog.
func (c *Catalog) List() ([]Target, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Target{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, Target{Name: strings.TrimSuffix(name, ".json"), Filename: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (c *Catalog) path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, filename)
	}
	return filepath.Join(c.dir, filename), nil
}

// Load returns the raw document. It must be valid JSON.
func (c *Catalog) Load(filename string) (json.RawMessage, error) {
	p, err := c.path(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: %s is not valid json", ErrInvalidTarget, filename)
	}
	return json.RawMessage(b), nil
}

var unsafeName = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeName maps name to the filename Save would write.
func SanitizeName(name string) string {
	safe := unsafeName.Replace(strings.TrimSpace(name))
	if !strings.HasSuffix(safe, ".json") {
		safe += ".json"
	}
	return safe
}

// Save writes payload as a new document and returns its filename.
// Existing files are never overwritten.
func (c *Catalog) Save(name string, payload json.RawMessage) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidTarget)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return "", fmt.Errorf("%w: workflow data cannot be empty", ErrInvalidTarget)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, trimmed, "", "  "); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	pretty.WriteByte('\n')

	filename := SanitizeName(name)
	p, err := c.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrTargetExists, filename)
	}
	if err != nil {
		return "", err
	}
	if _, err := f.Write(pretty.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return "", err
	}
	c.log.Info("workflow saved", logx.String("filename", filename))
	return filename, nil
}

// Runner resolves a target to its document at fire time and submits it.
type Runner struct {
	Catalog   *Catalog
	Submitter invoker.Submitter
}

func (r Runner) Run(ctx context.Context, target string) (string, error) {
	doc, err := r.Catalog.Load(target)
	if err != nil {
		return "", err
	}
	res, err := r.Submitter.Submit(ctx, doc)
	if err != nil {
		return "", err
	}
	return res.PromptID, nil
}
