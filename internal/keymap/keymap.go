// Package keymap holds the chord -> command table and its JSON file format.
package keymap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"dispatch/internal/hotkeys"
)

// Keybind is one entry of the keymap file.
type Keybind struct {
	Keys   []string `json:"keys"`
	Script string   `json:"script"`
}

// File is the on-disk keymap format:
//
//	{"keybinds":[{"keys":["Ctrl","Shift","A"],"script":"notepad.exe"}]}
type File struct {
	Keybinds []Keybind `json:"keybinds"`
}

// Keymap maps a chord to the command line it launches.
// It is replaced wholesale on reload and never mutated after construction.
type Keymap map[hotkeys.Chord]string

// Binding is one resolved keymap entry, used for listings.
type Binding struct {
	Chord   hotkeys.Chord
	Command string
}

// ErrEmptyPayload is returned by Parse for a zero-length payload.
var ErrEmptyPayload = errors.New("keymap payload is empty")

// Parse decodes a keymap file payload.
//
// Bindings whose key names decode to no key at all are skipped; duplicate
// chords keep the later binding. Both cases are logged, not errors.
func Parse(raw []byte) (Keymap, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode keymap: %w", err)
	}

	km := make(Keymap, len(file.Keybinds))
	for i, bind := range file.Keybinds {
		chord := hotkeys.FromNames(bind.Keys)
		if chord == 0 {
			slog.Warn("[WARN-KEYMAP] skipping binding without recognizable keys",
				"index", i, "keys", bind.Keys, "script", bind.Script)
			continue
		}
		if chord.KeyCount() > 1 {
			slog.Warn("[WARN-KEYMAP] binding uses more than one non-modifier key",
				"index", i, "chord", chord.String())
		}
		if previous, exists := km[chord]; exists {
			slog.Warn("[WARN-KEYMAP] duplicate chord, later binding wins",
				"index", i, "chord", chord.String(), "replaced", previous)
		}
		km[chord] = bind.Script
	}
	return km, nil
}

// Bindings lists the keymap entries ordered by chord value.
func (km Keymap) Bindings() []Binding {
	out := make([]Binding, 0, len(km))
	for chord, cmd := range km {
		out = append(out, Binding{Chord: chord, Command: cmd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chord < out[j].Chord })
	return out
}
