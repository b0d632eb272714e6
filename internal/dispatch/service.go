// Package dispatch runs the hotkey pipeline: a key-state sampler feeding a
// resolver feeding a command runner, plus the keymap monitor that keeps the
// shared store current. Every task observes one shutdown signal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dispatch/internal/hotkeys"
	"dispatch/internal/keymap"
	"dispatch/internal/shutdown"
	"dispatch/internal/workerutil"
)

// Runtime is the state shared by every service.
type Runtime struct {
	Shutdown *shutdown.Signal
	Store    *keymap.Store
}

// Service is a long-running task. Serve returns nil once ctx is done and an
// error when the task cannot continue; the error triggers shutdown. After a
// panic Serve is called again, so state shared with other services is only
// released when Serve returns.
type Service interface {
	Name() string
	Serve(ctx context.Context, rt *Runtime) error
}

// Dispatch is a resolved hotkey on its way to the runner.
type Dispatch struct {
	Chord   hotkeys.Chord
	Command string
}

type funcService struct {
	name string
	fn   func(ctx context.Context, rt *Runtime) error
}

// NewService wraps fn as a Service.
func NewService(name string, fn func(ctx context.Context, rt *Runtime) error) Service {
	return funcService{name: name, fn: fn}
}

func (s funcService) Name() string { return s.name }

func (s funcService) Serve(ctx context.Context, rt *Runtime) error { return s.fn(ctx, rt) }

// supervision is overridable in tests.
var supervision = workerutil.RecoveryOptions{}

// RunAll starts every service and blocks until all of them have returned.
// A failing service triggers rt.Shutdown with its error as cause, which in
// turn stops the others.
func RunAll(rt *Runtime, services ...Service) {
	ctx := rt.Shutdown.Context()
	var wg sync.WaitGroup

	opts := supervision
	opts.IsShutdown = rt.Shutdown.Triggered
	opts.OnExit = func(name string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("[dispatch] service failed", "service", name, "error", err)
			rt.Shutdown.Trigger(fmt.Errorf("%s: %w", name, err))
		}
		slog.Warn("[dispatch] stopping gracefully", "service", name)
	}
	opts.OnFatal = func(name string, err error) {
		rt.Shutdown.Trigger(err)
		slog.Warn("[dispatch] stopping gracefully", "service", name)
	}

	for _, svc := range services {
		workerutil.RunWithPanicRecovery(ctx, svc.Name(), &wg, func(ctx context.Context) error {
			return svc.Serve(ctx, rt)
		}, opts)
	}
	wg.Wait()
}
