package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/journal"
	"dispatch/internal/procutil"
	"dispatch/internal/queue"
	"dispatch/internal/shell"
)

// errEmptyCommand is the spawn error for a command with no tokens.
var errEmptyCommand = errors.New("empty command")

// journalWriteTimeout bounds each journal write.
const journalWriteTimeout = 5 * time.Second

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int, error)
}

// Launcher starts argv as a detached child.
type Launcher func(argv []string) (Process, error)

// Recorder persists launches. *journal.Journal implements it.
type Recorder interface {
	RecordLaunch(ctx context.Context, l journal.Launch) error
	RecordExit(ctx context.Context, id uuid.UUID, exitCode int, at time.Time) error
}

// Event describes one spawn attempt. Exited events follow Started ones for
// children that were launched.
type Event struct {
	ID       uuid.UUID
	Dispatch Dispatch
	Argv     []string
	PID      int
	Err      error
	Exited   bool
	ExitCode int
}

// Runner tokenizes each command and launches it without waiting for it.
// Each launch runs on its own goroutine; children are reaped in the
// background and outlive the daemon.
type Runner struct {
	In *queue.Unbounded[Dispatch]
	// Launch defaults to ExecLauncher.
	Launch Launcher
	// Journal is optional.
	Journal Recorder
	// OnEvent is optional and is called from launch goroutines.
	OnEvent func(Event)

	spawns sync.WaitGroup
}

func (r *Runner) Name() string { return "runner" }

func (r *Runner) Serve(ctx context.Context, _ *Runtime) error {
	err := r.receive(ctx)
	r.In.Detach()
	// Launches already accepted finish starting before the runner reports stopped.
	r.spawns.Wait()
	return err
}

func (r *Runner) receive(ctx context.Context) error {
	for {
		d, err := r.In.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive command: %w", err)
		}
		r.spawns.Go(func() { r.spawn(d) })
	}
}

func (r *Runner) spawn(d Dispatch) {
	launch := r.Launch
	if launch == nil {
		launch = ExecLauncher
	}
	id := uuid.New()
	argv := shell.Tokenize(d.Command)
	started := time.Now()

	proc, err := launch(argv)
	pid := 0
	if err != nil {
		slog.Error("[runner] failed to spawn", "id", id, "script", d.Command, "error", err)
	} else {
		pid = proc.Pid()
		slog.Info("[runner] spawned", "id", id, "script", d.Command, "pid", pid)
	}

	r.record(journal.Launch{
		ID:        id,
		StartedAt: started,
		Chord:     d.Chord.String(),
		Command:   d.Command,
		Argv:      argv,
		PID:       pid,
		Error:     errorText(err),
	})
	r.emit(Event{ID: id, Dispatch: d, Argv: argv, PID: pid, Err: err})

	if err != nil {
		return
	}
	// Reaper: untracked so a long-lived child never holds up shutdown.
	go r.reap(id, d, argv, proc)
}

func (r *Runner) reap(id uuid.UUID, d Dispatch, argv []string, proc Process) {
	code, err := proc.Wait()
	if err != nil {
		slog.Debug("[runner] wait failed", "id", id, "error", err)
		return
	}
	slog.Debug("[runner] child exited", "id", id, "pid", proc.Pid(), "exitCode", code)
	if r.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := r.Journal.RecordExit(ctx, id, code, time.Now()); err != nil {
			slog.Debug("[runner] journal exit not recorded", "id", id, "error", err)
		}
	}
	r.emit(Event{ID: id, Dispatch: d, Argv: argv, PID: proc.Pid(), Exited: true, ExitCode: code})
}

func (r *Runner) record(l journal.Launch) {
	if r.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := r.Journal.RecordLaunch(ctx, l); err != nil {
		slog.Warn("[runner] journal launch not recorded", "id", l.ID, "error", err)
	}
}

func (r *Runner) emit(ev Event) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int { return p.cmd.Process.Pid }

func (p execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

// ExecLauncher starts argv[0] with the remaining arguments, detached from
// the daemon's console and process group, with no inherited stdio.
func ExecLauncher(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errEmptyCommand
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	procutil.Detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd: cmd}, nil
}
