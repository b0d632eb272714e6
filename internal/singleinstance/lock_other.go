//go:build !windows && !unix

package singleinstance

// Lock is a no-op on platforms without a named mutex or flock.
type Lock struct{}

// TryLock always succeeds; the control port bind is the only guard here.
func TryLock(string) (*Lock, error) { return &Lock{}, nil }

// Release is a no-op.
func (l *Lock) Release() error { return nil }

// DefaultName returns an empty string.
func DefaultName() string { return "" }
