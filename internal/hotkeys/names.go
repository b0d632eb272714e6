package hotkeys

import (
	"log/slog"
	"strings"
)

var modifierByName = map[string]Key{
	"CTRL":    KeyCtrl,
	"CONTROL": KeyCtrl,
	"SHIFT":   KeyShift,
	"ALT":     KeyAlt,
	"OPT":     KeyAlt,
	"OPTION":  KeyAlt,
	"SUPER":   KeySuper,
	"WIN":     KeySuper,
	"CMD":     KeySuper,
	"META":    KeySuper,
}

// FromNames parses human-readable key names into a Chord.
//
// Names are case-insensitive. Unknown names are logged and skipped; the rest
// of the chord is still built, so a partially invalid binding degrades
// instead of failing the whole keymap.
func FromNames(names []string) Chord {
	var chord Chord
	for _, raw := range names {
		k, ok := parseKeyName(raw)
		if !ok {
			slog.Warn("[WARN-KEYMAP] ignoring unrecognized key name", "key", raw)
			continue
		}
		chord |= k.bit()
	}
	return chord
}

func parseKeyName(raw string) (Key, bool) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if k, ok := modifierByName[token]; ok {
		return k, true
	}
	if len(token) != 1 {
		return 0, false
	}
	if k, ok := LetterKey(token[0]); ok {
		return k, true
	}
	return DigitKey(token[0])
}
