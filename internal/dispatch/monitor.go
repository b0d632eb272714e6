package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dispatch/internal/filewatch"
	"dispatch/internal/keymap"
	"dispatch/internal/queue"
)

// Monitor parses keymap payloads and installs each valid one in the store.
// An invalid payload leaves the previous bindings active.
type Monitor struct {
	In *queue.Unbounded[[]byte]
}

func (m *Monitor) Name() string { return "monitor" }

func (m *Monitor) Serve(ctx context.Context, rt *Runtime) error {
	err := m.consume(ctx, rt)
	m.In.Detach()
	return err
}

func (m *Monitor) consume(ctx context.Context, rt *Runtime) error {
	for {
		payload, err := m.In.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive keymap payload: %w", err)
		}
		Apply(rt.Store, payload)
	}
}

// Apply parses payload and replaces the store contents on success. It
// reports whether the store was replaced.
func Apply(store *keymap.Store, payload []byte) bool {
	km, err := keymap.Parse(payload)
	if errors.Is(err, keymap.ErrEmptyPayload) {
		slog.Debug("[keymap] empty payload ignored")
		return false
	}
	if err != nil {
		slog.Warn("[WARN-KEYMAP] invalid keymap saved, keeping previous bindings", "error", err)
		return false
	}
	store.Replace(km)
	slog.Info("[keymap] keymap updated", "bindings", len(km))
	return true
}

// FileSource feeds the monitor from a watched keymap file.
type FileSource struct {
	Watcher *filewatch.Watcher
	Out     *queue.Unbounded[[]byte]
}

func (s *FileSource) Name() string { return "watcher" }

func (s *FileSource) Serve(ctx context.Context, _ *Runtime) error {
	err := s.Watcher.Run(ctx, s.Out)
	s.Out.Close()
	return err
}
