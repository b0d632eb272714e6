package keymap

import (
	"sync"

	"dispatch/internal/hotkeys"
)

// Store is the shared, live-swappable keymap. Lookups take the read lock;
// Replace swaps the whole table under the write lock. The table itself is
// never mutated in place, so a lookup sees either the old or the new table.
type Store struct {
	mu    sync.RWMutex
	table Keymap
}

// NewStore returns a Store holding an empty keymap.
func NewStore() *Store {
	return &Store{table: Keymap{}}
}

// Lookup returns the command bound to chord.
func (s *Store) Lookup(chord hotkeys.Chord) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.table[chord]
	return cmd, ok
}

// Replace installs km as the active table. A nil keymap installs an empty one.
func (s *Store) Replace(km Keymap) {
	if km == nil {
		km = Keymap{}
	}
	s.mu.Lock()
	s.table = km
	s.mu.Unlock()
}

// Snapshot returns the active table. Callers must not modify it.
func (s *Store) Snapshot() Keymap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Len returns the number of active bindings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}
