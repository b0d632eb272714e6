package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dispatch/internal/hotkeys"
	"dispatch/internal/queue"
)

var (
	chordCtrlA = hotkeys.FromNames([]string{"Ctrl", "A"})
	chordCtrlB = hotkeys.FromNames([]string{"Ctrl", "B"})
	chordAlt1  = hotkeys.FromNames([]string{"Alt", "1"})
	chordCtrl  = hotkeys.FromNames([]string{"Ctrl"})
)

// scriptedKeys replays one chord per sample, then reports no key pressed
// and closes finished.
type scriptedKeys struct {
	mu       sync.Mutex
	script   []hotkeys.Chord
	next     int
	current  hotkeys.Chord
	finished chan struct{}
	closed   bool
}

func newScriptedKeys(script ...hotkeys.Chord) *scriptedKeys {
	return &scriptedKeys{script: script, finished: make(chan struct{})}
}

func (s *scriptedKeys) IsDown(k hotkeys.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Key 0 is queried first in every sample.
	if k == 0 {
		if s.next < len(s.script) {
			s.current = s.script[s.next]
			s.next++
		} else {
			s.current = 0
			if !s.closed {
				s.closed = true
				close(s.finished)
			}
		}
	}
	return s.current.Has(k)
}

// heldKeys reports whatever chord the test last pressed.
type heldKeys struct {
	chord atomic.Uint64
}

func (h *heldKeys) IsDown(k hotkeys.Key) bool { return hotkeys.Chord(h.chord.Load()).Has(k) }

func (h *heldKeys) press(c hotkeys.Chord) { h.chord.Store(uint64(c)) }

// drain receives every value left in a closed queue.
func drain[T any](q *queue.Unbounded[T]) []T {
	var out []T
	for {
		v, err := q.Recv(context.Background())
		if err != nil {
			return out
		}
		out = append(out, v)
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitErr(t *testing.T, errCh <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatal("task did not return")
		return nil
	}
}
