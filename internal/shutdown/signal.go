// Package shutdown implements the process-wide, one-way cancellation signal
// every long-running task observes.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRequested is the cause recorded when shutdown was asked for rather than
// forced by a failure (stop command, OS interrupt).
var ErrRequested = errors.New("shutdown requested")

// Signal is a one-shot broadcast flag: unset -> triggered, never reset.
// The zero value is not usable; construct with New.
type Signal struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

// New returns an untriggered signal derived from parent. Cancelling parent
// triggers the signal with parent's cause.
func New(parent context.Context) *Signal {
	ctx, cancel := context.WithCancelCause(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Trigger fires the signal with cause. Only the first call has effect; it
// reports whether this call was the one that fired it. A nil cause is
// recorded as ErrRequested.
func (s *Signal) Trigger(cause error) bool {
	if cause == nil {
		cause = ErrRequested
	}
	fired := false
	s.once.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		fired = true
		slog.Warn("[shutdown] STOPPING", "cause", cause)
		s.cancel(cause)
	})
	return fired
}

// Done returns a channel closed once the signal fires.
func (s *Signal) Done() <-chan struct{} { return s.ctx.Done() }

// Triggered reports whether the signal has fired.
func (s *Signal) Triggered() bool { return s.ctx.Err() != nil }

// Cause returns the error the signal fired with, or nil if it has not fired.
func (s *Signal) Cause() error { return context.Cause(s.ctx) }

// Context returns a context cancelled when the signal fires. Tasks pass it
// to blocking calls so they return promptly on shutdown.
func (s *Signal) Context() context.Context { return s.ctx }
