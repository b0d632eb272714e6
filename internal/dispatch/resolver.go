package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"dispatch/internal/hotkeys"
	"dispatch/internal/queue"
)

// Resolver looks chords up in the shared store and forwards bound commands.
type Resolver struct {
	In  *queue.Unbounded[hotkeys.Chord]
	Out *queue.Unbounded[Dispatch]
}

func (r *Resolver) Name() string { return "resolver" }

func (r *Resolver) Serve(ctx context.Context, rt *Runtime) error {
	err := r.resolve(ctx, rt)
	r.Out.Close()
	r.In.Detach()
	return err
}

func (r *Resolver) resolve(ctx context.Context, rt *Runtime) error {
	for {
		chord, err := r.In.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive chord: %w", err)
		}
		cmd, ok := rt.Store.Lookup(chord)
		if !ok {
			slog.Debug("[resolver] chord not bound", "chord", chord)
			continue
		}
		slog.Debug("[resolver] chord matched", "chord", chord, "script", cmd)
		if err := r.Out.Send(Dispatch{Chord: chord, Command: cmd}); err != nil {
			return fmt.Errorf("forward command: %w", err)
		}
	}
}
