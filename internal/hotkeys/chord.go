package hotkeys

import "strings"

// Key identifies one tracked physical key. The value is the key's bit
// position inside a Chord.
type Key uint8

// Modifier keys occupy the low four bits.
const (
	KeyCtrl Key = iota
	KeyShift
	KeyAlt
	KeySuper
)

const (
	// firstLetterBit is the bit position of 'A'; letters run A..Z.
	firstLetterBit = 4
	// firstDigitBit is the bit position of '0'; digits run 0..9.
	firstDigitBit = firstLetterBit + 26
	// keyCount is the number of tracked keys (4 modifiers + 26 letters + 10 digits).
	keyCount = firstDigitBit + 10
)

// modifierMask covers the four modifier bits.
const modifierMask Chord = 1<<KeyCtrl | 1<<KeyShift | 1<<KeyAlt | 1<<KeySuper

// Chord is a bit-packed set of simultaneously pressed keys.
//
// Bit layout: 0 Ctrl, 1 Shift, 2 Alt, 3 Super, 4..29 letters A..Z,
// 30..39 digits 0..9. The zero value means no key is pressed.
type Chord uint64

// LetterKey returns the Key for an ASCII letter (either case).
func LetterKey(ch byte) (Key, bool) {
	switch {
	case ch >= 'A' && ch <= 'Z':
		return Key(firstLetterBit + ch - 'A'), true
	case ch >= 'a' && ch <= 'z':
		return Key(firstLetterBit + ch - 'a'), true
	}
	return 0, false
}

// DigitKey returns the Key for an ASCII digit.
func DigitKey(ch byte) (Key, bool) {
	if ch >= '0' && ch <= '9' {
		return Key(firstDigitBit + ch - '0'), true
	}
	return 0, false
}

// AllKeys returns every tracked key in bit order.
func AllKeys() []Key {
	keys := make([]Key, keyCount)
	for i := range keys {
		keys[i] = Key(i)
	}
	return keys
}

// IsModifier reports whether k is Ctrl, Shift, Alt or Super.
func (k Key) IsModifier() bool { return k <= KeySuper }

// String returns the canonical key name.
func (k Key) String() string {
	switch {
	case k == KeyCtrl:
		return "Ctrl"
	case k == KeyShift:
		return "Shift"
	case k == KeyAlt:
		return "Alt"
	case k == KeySuper:
		return "Super"
	case k < firstDigitBit:
		return string(rune('A' + int(k) - firstLetterBit))
	case k < keyCount:
		return string(rune('0' + int(k) - firstDigitBit))
	default:
		return "?"
	}
}

func (k Key) bit() Chord { return 1 << k }

// ChordOf builds a Chord from the given keys.
func ChordOf(keys ...Key) Chord {
	var c Chord
	for _, k := range keys {
		if k < keyCount {
			c |= k.bit()
		}
	}
	return c
}

// Has reports whether k is part of the chord.
func (c Chord) Has(k Key) bool { return k < keyCount && c&k.bit() != 0 }

// Keys decodes the chord back into its keys, in bit order.
func (c Chord) Keys() []Key {
	var keys []Key
	for i := Key(0); i < keyCount; i++ {
		if c.Has(i) {
			keys = append(keys, i)
		}
	}
	return keys
}

// Names returns the canonical names of the chord's keys, in bit order.
func (c Chord) Names() []string {
	keys := c.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return names
}

// Modifiers returns only the modifier part of the chord.
func (c Chord) Modifiers() Chord { return c & modifierMask }

// KeyCount returns the number of non-modifier keys in the chord.
func (c Chord) KeyCount() int {
	n := 0
	for rest := c &^ modifierMask; rest != 0; rest &= rest - 1 {
		n++
	}
	return n
}

// String renders the chord as "Ctrl+Shift+A". The zero chord renders as "none".
func (c Chord) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Names(), "+")
}
