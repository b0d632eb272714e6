package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dispatch/internal/hotkeys"
	"dispatch/internal/queue"
)

// SampleInterval is the key-state polling period.
const SampleInterval = 45 * time.Millisecond

// Sampler polls the keyboard and forwards each new non-empty chord.
//
// A chord is forwarded when it is non-zero and differs from the previous
// sample, so a held chord fires once and releasing all keys re-arms it.
type Sampler struct {
	State hotkeys.KeyState
	Out   *queue.Unbounded[hotkeys.Chord]
	// Interval defaults to SampleInterval.
	Interval time.Duration
}

func (s *Sampler) Name() string { return "sampler" }

// Serve closes Out only on return; a panic leaves it open for the restart.
func (s *Sampler) Serve(ctx context.Context, _ *Runtime) error {
	err := s.sample(ctx)
	s.Out.Close()
	return err
}

func (s *Sampler) sample(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = SampleInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var prev hotkeys.Chord
	for {
		chord := hotkeys.Sample(s.State)
		if chord != 0 && chord != prev {
			slog.Debug("[listener] chord pressed", "chord", chord)
			if err := s.Out.Send(chord); err != nil {
				return fmt.Errorf("forward chord %s: %w", chord, err)
			}
		}
		prev = chord

		// The full interval elapses after each sample, however long it took.
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
