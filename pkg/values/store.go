package values

import (
	"sort"
	"sync"
)

// Entry is the Value Store record of one field.
type Entry struct {
	Current Value
	// LinkedRecordID is the persisted parent row this value belongs to. Nil
	// means the value is new and can only be written through a batch submit.
	LinkedRecordID *int64
	// LinkedOptionID is the option the value resolved to on the server, when
	// the field is single-select.
	LinkedOptionID *int64
}

// Linked reports whether the entry can be saved incrementally.
func (e Entry) Linked() bool {
	return e.LinkedRecordID != nil
}

// Store maps field ids to entries. It is safe for concurrent use; the save
// coordinator reads from it on completion goroutines.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[int64]Entry)}
}

// Get returns the entry for fieldID. Missing entries report ok=false and a
// zero Entry (null value, unlinked).
func (s *Store) Get(fieldID int64) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fieldID]
	return entry, ok
}

// Value returns the current value of fieldID, null when absent.
func (s *Store) Value(fieldID int64) Value {
	entry, _ := s.Get(fieldID)
	return entry.Current
}

// Set stores a new current value, creating the entry lazily. Linkage is
// kept.
func (s *Store) Set(fieldID int64, v Value) {
	s.Update(fieldID, func(e *Entry) {
		e.Current = v
	})
}

// Put replaces the whole entry.
func (s *Store) Put(fieldID int64, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fieldID] = entry
}

// Update applies fn to the entry under the store lock, creating it when
// absent, and returns the result.
func (s *Store) Update(fieldID int64, fn func(*Entry)) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[fieldID]
	fn(&entry)
	s.entries[fieldID] = entry
	return entry
}

// FieldIDs lists the ids that have entries, sorted.
func (s *Store) FieldIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clone copies the store; used to snapshot item blocks before submission.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewStore()
	for id, entry := range s.entries {
		out.entries[id] = entry
	}
	return out
}
