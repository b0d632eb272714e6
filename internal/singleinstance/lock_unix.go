//go:build unix

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dispatch/internal/userutil"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive flock on a per-user lock file. The kernel drops
// the lock when the process exits.
type Lock struct {
	file *os.File
}

// TryLock takes a non-blocking exclusive lock on the file at name.
// Returns ErrAlreadyRunning if another process holds it.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", name, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("flock %q: %w", name, err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. Safe on a nil receiver and
// idempotent. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// DefaultName returns the per-user lock file path, under XDG_RUNTIME_DIR
// when set.
func DefaultName() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dispatch-"+userutil.CurrentUsername()+".lock")
}
