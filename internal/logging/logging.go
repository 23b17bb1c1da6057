package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// New builds a text logger on the given writer.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewRunLogger builds the launcher lifecycle logger. Events go to stdout and
// are appended to the master log file, so a run leaves a durable trail even
// when the terminal scrolls away. The returned closer releases the file.
func NewRunLogger(masterLogPath string) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(masterLogPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create parent for %s: %w", masterLogPath, err)
	}
	f, err := os.OpenFile(masterLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open master log %s: %w", masterLogPath, err)
	}
	logger := New(io.MultiWriter(os.Stdout, f), slog.LevelInfo)
	return logger, f.Close, nil
}
