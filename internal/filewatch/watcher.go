// Package filewatch turns modifications of a single file into a stream of
// full-content payloads.
package filewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"dispatch/internal/queue"
)

// ErrEventsClosed is returned by Run when the notification backend stops
// delivering events.
var ErrEventsClosed = errors.New("file notification stream closed")

// readFileFn is a test seam.
var readFileFn = os.ReadFile

// Watcher observes one file. It watches the parent directory and filters by
// base name so that editors saving via temp file + rename keep working.
type Watcher struct {
	path string
	base string
	fsw  *fsnotify.Watcher
}

// New establishes the watch. The file must exist.
func New(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("watch %s: is a directory", path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Debug("[filewatch] watching", "path", abs)
	return &Watcher{path: abs, base: filepath.Base(abs), fsw: fsw}, nil
}

// Path returns the absolute watched path.
func (w *Watcher) Path() string { return w.path }

// Run emits the current content as the first payload, then the full content
// again after every relevant change, until ctx is done. A missing file reads
// as an empty payload at startup and is skipped afterwards.
//
// Run returns nil on cancellation and an error when the notification stream
// fails, a re-read fails for any reason other than absence, or out has no
// receiver.
func (w *Watcher) Run(ctx context.Context, out *queue.Unbounded[[]byte]) error {
	initial, err := readFileFn(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", w.path, err)
	}
	if err := out.Send(initial); err != nil {
		return fmt.Errorf("forward initial payload: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return ErrEventsClosed
			}
			if !w.shouldReload(event) {
				continue
			}
			raw, err := readFileFn(w.path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					slog.Debug("[filewatch] file vanished during reload, waiting for next event", "path", w.path)
					continue
				}
				return fmt.Errorf("read %s: %w", w.path, err)
			}
			slog.Debug("[filewatch] change detected", "path", w.path, "op", event.Op.String(), "bytes", len(raw))
			if err := out.Send(raw); err != nil {
				return fmt.Errorf("forward payload: %w", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrEventsClosed
			}
			return fmt.Errorf("watch %s: %w", w.path, err)
		}
	}
}

// shouldReload reports whether event concerns the watched file and may have
// changed its content.
func (w *Watcher) shouldReload(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == w.path || filepath.Base(name) == w.base
}

// Close stops the underlying watcher. A running Run returns ErrEventsClosed.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
