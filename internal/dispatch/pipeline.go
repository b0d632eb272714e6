package dispatch

import (
	"time"

	"dispatch/internal/filewatch"
	"dispatch/internal/hotkeys"
	"dispatch/internal/queue"
)

// PipelineOptions configures Pipeline.
type PipelineOptions struct {
	State hotkeys.KeyState
	// Watcher is the keymap file source. Nil leaves the store to the caller.
	Watcher  *filewatch.Watcher
	Launch   Launcher
	Journal  Recorder
	OnEvent  func(Event)
	Interval time.Duration
}

// Pipeline wires sampler -> resolver -> runner and, with a watcher,
// watcher -> monitor. The result is passed to RunAll.
func Pipeline(opts PipelineOptions) []Service {
	chords := queue.New[hotkeys.Chord]()
	commands := queue.New[Dispatch]()

	services := []Service{
		&Sampler{State: opts.State, Out: chords, Interval: opts.Interval},
		&Resolver{In: chords, Out: commands},
		&Runner{In: commands, Launch: opts.Launch, Journal: opts.Journal, OnEvent: opts.OnEvent},
	}
	if opts.Watcher != nil {
		payloads := queue.New[[]byte]()
		services = append(services,
			&FileSource{Watcher: opts.Watcher, Out: payloads},
			&Monitor{In: payloads},
		)
	}
	return services
}
