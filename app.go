package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"dispatch/internal/config"
	"dispatch/internal/control"
	"dispatch/internal/dispatch"
	"dispatch/internal/eventfeed"
	"dispatch/internal/filewatch"
	"dispatch/internal/hotkeys"
	"dispatch/internal/journal"
	"dispatch/internal/keymap"
	"dispatch/internal/logsink"
	"dispatch/internal/shutdown"
	"dispatch/internal/singleinstance"
)

var (
	newKeyStateFn = hotkeys.NewKeyState
	tryLockFn     = singleinstance.TryLock
	lockNameFn    = singleinstance.DefaultName
	listenPipeFn  = control.ListenPipe
	launchFn      = dispatch.ExecLauncher
)

// App owns the daemon's resources for one run.
type App struct {
	configPath string
	cfg        config.Config

	sig   *shutdown.Signal
	store *keymap.Store

	hub      *eventfeed.Hub
	journal  *journal.Journal
	lock     *singleinstance.Lock
	watcher  *filewatch.Watcher
	keys     hotkeys.KeyState
	services []dispatch.Service
	// listeners are closed on exit in case their server never ran.
	listeners []net.Listener

	// ready is closed once every service has been started.
	ready       chan struct{}
	readyOnce   sync.Once
	controlAddr net.Addr
}

// NewApp creates an App reading settings from configPath.
func NewApp(configPath string) *App {
	return &App{
		configPath: configPath,
		store:      keymap.NewStore(),
		ready:      make(chan struct{}),
	}
}

// Run starts the daemon and blocks until it has shut down. It returns nil
// when shutdown was requested and the failure cause otherwise.
func (a *App) Run(ctx context.Context) (err error) {
	cfg, cfgErr := config.Load(a.configPath)
	a.cfg = cfg

	if cfg.EventsAddr != "" {
		a.hub = eventfeed.NewHub(eventfeed.HubOptions{Addr: cfg.EventsAddr})
	}
	sinkOpts := logsink.Options{Path: cfg.LogPath, Level: cfg.Level()}
	if a.hub != nil {
		sinkOpts.Tee = a.publishEntry
		sinkOpts.TeeLevel = slog.LevelInfo
	}
	sink, err := logsink.Open(sinkOpts)
	if err != nil {
		return err
	}
	restoreLogger := sink.Install()
	defer func() {
		restoreLogger()
		if closeErr := sink.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", closeErr)
		}
	}()
	if cfgErr != nil {
		slog.Warn("[WARN-CONFIG] settings file unusable, running with defaults", "path", a.configPath, "error", cfgErr)
	}

	a.sig = shutdown.New(ctx)
	defer a.releaseResources()

	if err := a.startup(); err != nil {
		slog.Error("[DEBUG-STARTUP] startup failed", "error", err)
		a.sig.Trigger(err)
		return err
	}

	slog.Info("[DEBUG-STARTUP] dispatch running",
		"keymap", a.watcher.Path(),
		"control", a.controlAddr,
		"services", len(a.services),
	)
	a.readyOnce.Do(func() { close(a.ready) })
	dispatch.RunAll(&dispatch.Runtime{Shutdown: a.sig, Store: a.store}, a.services...)
	slog.Info("[DEBUG-SHUTDOWN] all services stopped")

	cause := a.sig.Cause()
	if errors.Is(cause, shutdown.ErrRequested) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// startup acquires the resources every service needs. Any error is fatal.
func (a *App) startup() error {
	lock, err := tryLockFn(lockNameFn())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		return err
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] lock unavailable, proceeding without single-instance guard", "error", err)
	}
	a.lock = lock

	ln, err := control.ListenTCP(a.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	a.controlAddr = ln.Addr()
	a.addControlService("tcp", ln)

	if name := a.cfg.PipeName(); name != "" {
		pipeLn, err := listenPipeFn(name)
		switch {
		case errors.Is(err, control.ErrPipeUnsupported):
		case err != nil:
			slog.Warn("[control] named pipe unavailable", "pipe", name, "error", err)
		default:
			a.addControlService("pipe", pipeLn)
		}
	}
	a.services = append(a.services, dispatch.NewService("signals", waitForInterrupt))

	keys, err := newKeyStateFn()
	if err != nil {
		return fmt.Errorf("key state: %w", err)
	}
	a.keys = keys

	watcher, err := filewatch.New(a.cfg.KeymapPath)
	if err != nil {
		return fmt.Errorf("keymap watch: %w", err)
	}
	a.watcher = watcher

	if a.hub != nil {
		// Publish on an unstarted hub only drops events.
		if err := a.hub.Start(a.sig.Context()); err != nil {
			slog.Warn("[eventfeed] event feed disabled", "addr", a.cfg.EventsAddr, "error", err)
		}
	}

	opts := dispatch.PipelineOptions{State: keys, Watcher: watcher, Launch: launchFn}
	if a.cfg.JournalPath != "" {
		j, err := journal.Open(a.cfg.JournalPath)
		if err != nil {
			slog.Warn("[runner] launch journal disabled", "path", a.cfg.JournalPath, "error", err)
		} else {
			a.journal = j
			opts.Journal = j
		}
	}
	a.services = append(a.services, dispatch.Pipeline(opts)...)
	return nil
}

func (a *App) addControlService(name string, ln net.Listener) {
	a.listeners = append(a.listeners, ln)
	srv := control.NewServer(name, ln, func(reason string) {
		a.sig.Trigger(fmt.Errorf("%w: %s", shutdown.ErrRequested, reason))
	})
	a.services = append(a.services, dispatch.NewService("control-"+name, func(ctx context.Context, _ *dispatch.Runtime) error {
		return srv.Serve(ctx)
	}))
}

// waitForInterrupt turns an OS interrupt into a requested shutdown.
func waitForInterrupt(ctx context.Context, rt *dispatch.Runtime) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case s := <-sigCh:
		slog.Warn("[shutdown] interrupt received", "signal", s.String())
		rt.Shutdown.Trigger(fmt.Errorf("%w: %s", shutdown.ErrRequested, s))
	}
	return nil
}

func (a *App) publishEntry(e logsink.Entry) {
	a.hub.Publish(eventfeed.Event{
		Time:    e.Time,
		Level:   e.Level.String(),
		Source:  e.Source,
		Message: e.Message,
		Attrs:   e.Attrs,
	})
}

// releaseResources runs after every service has returned.
func (a *App) releaseResources() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			slog.Debug("[filewatch] close failed", "error", err)
		}
	}
	if closer, ok := a.keys.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Debug("[listener] key state close failed", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			slog.Warn("[runner] journal close failed", "error", err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Debug("[eventfeed] stop failed", "error", err)
		}
	}
	for _, ln := range a.listeners {
		ln.Close()
	}
	if err := a.lock.Release(); err != nil {
		slog.Warn("[DEBUG-SINGLE] lock release failed", "error", err)
	}
}
