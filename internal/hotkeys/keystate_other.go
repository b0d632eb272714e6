//go:build !windows && !linux

package hotkeys

import "log/slog"

type idleKeyState struct{}

// NewKeyState returns a key source that never reports a pressed key.
// Global key-state polling is only implemented for Windows and Linux;
// the daemon still runs so the config and stop paths stay usable.
func NewKeyState() (KeyState, error) {
	slog.Warn("[listener] DEBUG global key polling is not supported on this platform; hotkeys will never fire")
	return idleKeyState{}, nil
}

// IsDown implements KeyState.
func (idleKeyState) IsDown(Key) bool { return false }
