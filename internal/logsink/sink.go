// Package logsink installs the process-wide slog logger: a text log file that
// is truncated on every start, optionally teed to a live subscriber.
package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options configures Open.
type Options struct {
	// Path is the log file. Empty writes to stderr.
	Path  string
	Level slog.Level
	// Tee receives records at or above TeeLevel. Nil disables teeing.
	Tee      EntryCallback
	TeeLevel slog.Level
}

// Sink owns the log destination.
type Sink struct {
	logger *slog.Logger
	file   *os.File
}

// Open creates the log destination and builds the logger. It does not touch
// the default logger; call Install for that.
func Open(opts Options) (*Sink, error) {
	var w io.Writer = os.Stderr
	var file *os.File
	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		w = f
	}

	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level})
	if opts.Tee != nil {
		handler = NewTeeHandler(handler, opts.TeeLevel, opts.Tee)
	}
	return &Sink{logger: slog.New(handler), file: file}, nil
}

// Logger returns the sink's logger.
func (s *Sink) Logger() *slog.Logger { return s.logger }

// Install makes the sink's logger the slog default and returns a function
// restoring the previous default.
func (s *Sink) Install() (restore func()) {
	prev := slog.Default()
	slog.SetDefault(s.logger)
	return func() { slog.SetDefault(prev) }
}

// Close flushes and closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
