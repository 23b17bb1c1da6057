package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RecordFile is an append-only line record (missing inputs, failed jobs,
// master launcher log). Writes are serialized through one handle so lines
// from concurrent completions never interleave.
type RecordFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenRecord(path string) (*RecordFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file %s: %w", path, err)
	}
	return &RecordFile{path: path, f: f}, nil
}

func (r *RecordFile) Path() string {
	return r.path
}

func (r *RecordFile) AppendLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", r.path, err)
	}
	return nil
}

func (r *RecordFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close record file %s: %w", r.path, err)
	}
	return nil
}
