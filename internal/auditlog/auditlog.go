// Package auditlog appends market audit lines to a JSONL file. One line
// per record, flushed per append, so a crashed process never loses more
// than the line being written.
package auditlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"corpsim/internal/sim"
)

type FileSink struct {
	mu   sync.Mutex
	path string
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".corpsim")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.jsonl"), nil
}

// NewFileSink opens a sink at path; empty path falls back to
// ~/.corpsim/audit.jsonl.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		var err error
		path, err = defaultPath()
		if err != nil {
			return nil, err
		}
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	return &FileSink{path: path}, nil
}

func (f *FileSink) Append(line sim.AuditLine) error {
	raw, err := json.Marshal(line)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := fh.Write(append(raw, '\n')); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// Load reads every audit line back, oldest first.
func (f *FileSink) Load() ([]sim.AuditLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []sim.AuditLine{}, nil
		}
		return nil, err
	}
	var out []sim.AuditLine
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var line sim.AuditLine
		if err := dec.Decode(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}
