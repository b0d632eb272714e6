package hotkeys

// KeyState reports the live press state of tracked physical keys.
//
// Implementations must treat an unreadable key as not pressed. IsDown may
// block briefly on an OS query; callers run it on their own goroutine.
type KeyState interface {
	IsDown(k Key) bool
}

// KeyStateFunc adapts a plain function to KeyState.
type KeyStateFunc func(k Key) bool

// IsDown implements KeyState.
func (f KeyStateFunc) IsDown(k Key) bool { return f(k) }

// Sample queries every tracked key once and packs the result into a Chord.
func Sample(state KeyState) Chord {
	var chord Chord
	for k := Key(0); k < keyCount; k++ {
		if state.IsDown(k) {
			chord |= k.bit()
		}
	}
	return chord
}
