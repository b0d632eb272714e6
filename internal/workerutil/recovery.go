// Package workerutil supervises long-running tasks: panics are recovered and
// the task restarted with exponential backoff; a task's own return value is
// reported once.
package workerutil

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the delay before the first restart after a panic.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the exponential backoff between restarts.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries limits restart attempts before the task is given up.
	defaultMaxRetries = 5
)

// PanicError is passed to OnFatal when a task exhausted its restarts.
type PanicError struct {
	Worker     string
	MaxRetries int
	Value      any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker %s panicked %d times, last: %v", e.Worker, e.MaxRetries, e.Value)
}

// RecoveryOptions configures RunWithPanicRecovery. Zero values use defaults:
// InitialBackoff=100ms, MaxBackoff=5s, MaxRetries=5; nil callbacks are no-ops.
// MaxRetries=1 runs the task once with no restart.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic is called after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int)

	// OnFatal is called once when MaxRetries panics have been recovered and
	// the task is permanently stopped.
	OnFatal func(worker string, err error)

	// OnExit is called when the task returns without panicking. err is the
	// task's return value, nil on a clean stop.
	OnExit func(worker string, err error)

	// IsShutdown reports that the process is stopping; a panicking task is
	// then not restarted and OnFatal is not called.
	IsShutdown func() bool
}

// applyDefaults returns a copy of opts with zero-value fields replaced.
// MaxBackoff below InitialBackoff is raised to InitialBackoff.
func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff is contradictory, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery launches fn on a goroutine tracked by wg.
//
// A panic in fn is logged with its stack and fn is restarted after a backoff,
// up to opts.MaxRetries times; then opts.OnFatal is called. A normal return
// ends supervision and is reported through opts.OnExit.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context) error,
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

func runRecoveryLoop(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) error,
	opts RecoveryOptions,
) {
	restartDelay := opts.InitialBackoff
	var lastPanic any

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		panicked := false
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("[DEBUG-PANIC] worker recovered from panic",
						"worker", name,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					panicked = true
					lastPanic = r
				}
			}()
			err = fn(ctx)
		}()

		if !panicked {
			if opts.OnExit != nil {
				opts.OnExit(name, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] worker shutdown detected, stopping restart", "worker", name)
			return
		}

		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"restartDelay", restartDelay,
			"attempt", attempt+1,
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt+1)
		}

		// No wait after the final attempt; OnFatal follows immediately.
		if attempt == opts.MaxRetries-1 {
			break
		}

		restartTimer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			restartTimer.Stop()
			return
		case <-restartTimer.C:
		}
		restartDelay = nextBackoff(restartDelay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, &PanicError{Worker: name, MaxRetries: opts.MaxRetries, Value: lastPanic})
	}
}

// nextBackoff doubles current, capping at maxBackoff and guarding overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
