package rotation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrSourceNotFound = errors.New("rotation source not found")

// TextSource reads candidate lists from <dir>/<source>.txt.
type TextSource struct {
	Dir string
}

// SourceID normalizes a user-supplied name to a file-safe id.
// It rejects anything that would escape the text directory.
func SourceID(name string) (string, error) {
	id := strings.TrimSuffix(strings.TrimSpace(name), ".txt")
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("%w: %q", ErrSourceNotFound, name)
	}
	return id, nil
}

// Candidates returns the trimmed non-blank lines of the source file.
func (t TextSource) Candidates(id string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(t.Dir, id+".txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ParseLines(b), nil
}

// ParseLines splits data into trimmed, non-empty lines.
func ParseLines(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// List returns the ids of all *.txt files, sorted.
func (t TextSource) List() ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(out)
	return out, nil
}
