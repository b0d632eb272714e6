package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dispatch/internal/control"
	"dispatch/internal/dispatch"
	"dispatch/internal/hotkeys"
	"dispatch/internal/journal"
	"dispatch/internal/singleinstance"
)

type testKeys struct {
	chord atomic.Uint64
}

func (k *testKeys) IsDown(key hotkeys.Key) bool { return hotkeys.Chord(k.chord.Load()).Has(key) }

type testProcess struct{ pid int }

func (p testProcess) Pid() int           { return p.pid }
func (p testProcess) Wait() (int, error) { return 0, nil }

type recordingLauncher struct {
	mu    sync.Mutex
	argvs [][]string
}

func (l *recordingLauncher) launch(argv []string) (dispatch.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.argvs = append(l.argvs, argv)
	return testProcess{pid: 4242}, nil
}

func (l *recordingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.argvs)
}

type appFixture struct {
	dir        string
	configPath string
	keymapPath string
	logPath    string
	journal    string
	keys       *testKeys
	launcher   *recordingLauncher
}

// newAppFixture writes settings and a keymap into a temp dir and replaces
// the platform seams.
func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	dir := t.TempDir()
	f := &appFixture{
		dir:        dir,
		configPath: filepath.Join(dir, "dispatch.yaml"),
		keymapPath: filepath.Join(dir, "dispatch.json"),
		logPath:    filepath.Join(dir, "dispatch.log"),
		journal:    filepath.Join(dir, "launches.db"),
		keys:       &testKeys{},
		launcher:   &recordingLauncher{},
	}
	settings := fmt.Sprintf(`keymap_path: %q
log_path: %q
log_level: debug
control_addr: 127.0.0.1:0
control_pipe: "-"
events_addr: 127.0.0.1:0
journal_path: %q
`, f.keymapPath, f.logPath, f.journal)
	writeFile(t, f.configPath, settings)
	writeFile(t, f.keymapPath, `{"keybinds":[{"keys":["Ctrl","Alt","T"],"script":"terminal --title 'hot key'"}]}`)

	origKeys, origLock, origLaunch := newKeyStateFn, tryLockFn, launchFn
	t.Cleanup(func() {
		newKeyStateFn, tryLockFn, launchFn = origKeys, origLock, origLaunch
	})
	newKeyStateFn = func() (hotkeys.KeyState, error) { return f.keys, nil }
	tryLockFn = func(string) (*singleinstance.Lock, error) { return nil, nil }
	launchFn = f.launcher.launch
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func (f *appFixture) logs(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(f.logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(raw)
}

// start runs the app and waits until its services are up.
func startApp(t *testing.T, f *appFixture) (*App, <-chan error) {
	t.Helper()
	app := NewApp(f.configPath)
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(context.Background()) }()

	select {
	case <-app.ready:
	case err := <-errCh:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not become ready")
	}
	return app, errCh
}

func stopApp(t *testing.T, app *App, errCh <-chan error) error {
	t.Helper()
	if err := control.SendTCP(context.Background(), app.controlAddr.String(), control.ShutdownCommand); err != nil {
		t.Fatalf("SendTCP() error = %v", err)
	}
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func TestAppStopsOnControlCommand(t *testing.T) {
	f := newAppFixture(t)
	app, errCh := startApp(t, f)

	if err := stopApp(t, app, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	logs := f.logs(t)
	for _, want := range []string{"[control] shutdown received", "STOPPING", "keymap updated"} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q", want)
		}
	}
	// control-tcp, signals, sampler, resolver, runner, watcher, monitor
	if got := strings.Count(logs, "stopping gracefully"); got != 7 {
		t.Errorf("stopping gracefully logged %d times, want 7", got)
	}
}

func TestAppLaunchesBoundChord(t *testing.T) {
	f := newAppFixture(t)
	app, errCh := startApp(t, f)

	chord := hotkeys.FromNames([]string{"ctrl", "alt", "t"})
	deadline := time.Now().Add(5 * time.Second)
	for f.launcher.count() == 0 {
		// The keymap loads asynchronously; re-press until it is live.
		f.keys.chord.Store(uint64(chord))
		time.Sleep(20 * time.Millisecond)
		f.keys.chord.Store(0)
		time.Sleep(20 * time.Millisecond)
		if time.Now().After(deadline) {
			t.Fatal("bound chord was never launched")
		}
	}
	if err := stopApp(t, app, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	f.launcher.mu.Lock()
	argv := f.launcher.argvs[0]
	f.launcher.mu.Unlock()
	if strings.Join(argv, "|") != "terminal|--title|hot key" {
		t.Fatalf("argv = %q", argv)
	}

	j, err := journal.Open(f.journal)
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	defer j.Close()
	launches, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(launches) == 0 || launches[len(launches)-1].Chord != "Ctrl+Alt+T" || launches[0].PID != 4242 {
		t.Fatalf("journal = %+v", launches)
	}
}

func TestAppStartupFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *appFixture)
		wantErr string
		wantIs  error
	}{
		{
			name:    "missing keymap file",
			prepare: func(f *appFixture) { os.Remove(f.keymapPath) },
			wantErr: "keymap watch",
		},
		{
			name: "key state unavailable",
			prepare: func(*appFixture) {
				newKeyStateFn = func() (hotkeys.KeyState, error) { return nil, errors.New("no keyboard") }
			},
			wantErr: "key state",
		},
		{
			name: "another instance running",
			prepare: func(*appFixture) {
				tryLockFn = func(string) (*singleinstance.Lock, error) { return nil, singleinstance.ErrAlreadyRunning }
			},
			wantIs: singleinstance.ErrAlreadyRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAppFixture(t)
			tt.prepare(f)

			err := NewApp(f.configPath).Run(context.Background())
			if err == nil {
				t.Fatal("Run() expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Run() error = %v, want %q", err, tt.wantErr)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantIs)
			}
			if !strings.Contains(f.logs(t), "STOPPING") {
				t.Error("startup failure did not log STOPPING")
			}
		})
	}
}

func TestAppStopsWhenParentCancelled(t *testing.T) {
	f := newAppFixture(t)
	app := NewApp(f.configPath)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	select {
	case <-app.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("app did not become ready")
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}
