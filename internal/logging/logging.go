// Package logging builds the slog loggers used by the supervisor and the
// per-repository watchers.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Setup installs a text handler on stderr as the default logger.
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// Files hands out append-mode log files, opening each path once so that
// watchers sharing a destination share one descriptor.
type Files struct {
	mu    sync.Mutex
	files map[string]*os.File
}

// NewFiles creates an empty file set.
func NewFiles() *Files {
	return &Files{files: make(map[string]*os.File)}
}

// Open returns the log file at path, creating it and its parent directories
// as needed.
func (f *Files) Open(path string) (io.Writer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving log file path: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if file, ok := f.files[abs]; ok {
		return file, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	f.files[abs] = file
	return file, nil
}

// Close closes every opened file.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for path, file := range f.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
		delete(f.files, path)
	}
	return errors.Join(errs...)
}

// RepositoryLogger returns a logger tagged with the repository that writes to
// both console and, when logFile is set, the repository's log file.
func (f *Files) RepositoryLogger(console io.Writer, level slog.Level, repository, logFile string) (*slog.Logger, error) {
	w := console
	if logFile != "" {
		file, err := f.Open(logFile)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(console, file)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("repository", repository), nil
}
