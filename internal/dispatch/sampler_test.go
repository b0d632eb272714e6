package dispatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"dispatch/internal/hotkeys"
	"dispatch/internal/queue"
)

func TestSamplerDebounce(t *testing.T) {
	tests := []struct {
		name   string
		script []hotkeys.Chord
		want   []hotkeys.Chord
	}{
		{
			name:   "held chord fires once",
			script: []hotkeys.Chord{chordCtrlA, chordCtrlA, chordCtrlA},
			want:   []hotkeys.Chord{chordCtrlA},
		},
		{
			name:   "release re-arms the same chord",
			script: []hotkeys.Chord{chordCtrlA, 0, chordCtrlA},
			want:   []hotkeys.Chord{chordCtrlA, chordCtrlA},
		},
		{
			name:   "growing chord emits each step",
			script: []hotkeys.Chord{chordCtrl, chordCtrlA, chordCtrlA},
			want:   []hotkeys.Chord{chordCtrl, chordCtrlA},
		},
		{
			name:   "released state is never emitted",
			script: []hotkeys.Chord{0, 0, 0},
			want:   nil,
		},
		{
			name:   "direct switch between chords",
			script: []hotkeys.Chord{chordCtrlA, chordCtrlB, chordCtrlA},
			want:   []hotkeys.Chord{chordCtrlA, chordCtrlB, chordCtrlA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newScriptedKeys(tt.script...)
			out := queue.New[hotkeys.Chord]()
			s := &Sampler{State: keys, Out: out, Interval: time.Millisecond}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- s.Serve(ctx, nil) }()

			select {
			case <-keys.finished:
			case <-time.After(5 * time.Second):
				t.Fatal("script was not consumed")
			}
			cancel()
			if err := waitErr(t, errCh, 5*time.Second); err != nil {
				t.Fatalf("Serve() error = %v", err)
			}

			if got := drain(out); !slices.Equal(got, tt.want) {
				t.Fatalf("emitted %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSamplerForwardFailureIsFatal(t *testing.T) {
	out := queue.New[hotkeys.Chord]()
	out.Detach()
	s := &Sampler{State: newScriptedKeys(chordCtrlA), Out: out, Interval: time.Millisecond}

	err := s.Serve(context.Background(), nil)
	if !errors.Is(err, queue.ErrNoReceiver) {
		t.Fatalf("Serve() error = %v, want ErrNoReceiver", err)
	}
}

func TestSamplerStopsWithoutWaitingForInterval(t *testing.T) {
	out := queue.New[hotkeys.Chord]()
	s := &Sampler{State: &heldKeys{}, Out: out, Interval: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, nil) }()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()
	if err := waitErr(t, errCh, 2*time.Second); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Serve() took %v to stop", elapsed)
	}
	if _, err := out.Recv(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("output not closed after stop: %v", err)
	}
}

// slowKeys records when each sample starts and stalls the first one.
type slowKeys struct {
	mu     sync.Mutex
	stall  time.Duration
	starts []time.Time
}

func (s *slowKeys) IsDown(k hotkeys.Key) bool {
	if k != 0 {
		return false
	}
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	first := len(s.starts) == 1
	s.mu.Unlock()
	if first {
		time.Sleep(s.stall)
	}
	return false
}

func (s *slowKeys) sampleStarts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.starts)
}

func TestSamplerSleepsFullIntervalAfterSlowSample(t *testing.T) {
	const interval = 20 * time.Millisecond
	keys := &slowKeys{stall: 3 * interval}
	s := &Sampler{State: keys, Out: queue.New[hotkeys.Chord](), Interval: interval}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, nil) }()

	ok := waitForCondition(t, 5*time.Second, func() bool { return len(keys.sampleStarts()) >= 2 })
	cancel()
	if err := waitErr(t, errCh, 2*time.Second); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if !ok {
		t.Fatal("second sample never ran")
	}
	starts := keys.sampleStarts()
	if gap := starts[1].Sub(starts[0]); gap < keys.stall+interval {
		t.Fatalf("second sample started %v after the first, want at least %v", gap, keys.stall+interval)
	}
}
