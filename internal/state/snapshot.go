package state

import (
	"encoding/json"
	"sort"
)

// Snapshot is an immutable view of all live state.
type Snapshot struct {
	version uint64
	kinds   map[Kind]map[int]Entry
}

var emptySnapshot = &Snapshot{kinds: map[Kind]map[int]Entry{}}

// Version increases by one with every publication.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Get returns the entry for kind and id.
func (s *Snapshot) Get(kind Kind, id int) (Entry, bool) {
	e, ok := s.kinds[kind][id]
	return e, ok
}

// Len returns the number of entries of kind.
func (s *Snapshot) Len(kind Kind) int {
	return len(s.kinds[kind])
}

// IDs returns the ids held for kind in ascending order.
func (s *Snapshot) IDs(kind Kind) []int {
	ids := make([]int, 0, len(s.kinds[kind]))
	for id := range s.kinds[kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Entries returns a copy of the entries for kind.
func (s *Snapshot) Entries(kind Kind) map[int]Entry {
	out := make(map[int]Entry, len(s.kinds[kind]))
	for id, e := range s.kinds[kind] {
		out[id] = e
	}
	return out
}

// Keyed returns every entry keyed by its composite channel key, the shape
// used by "state" messages.
func (s *Snapshot) Keyed() map[string]Entry {
	out := make(map[string]Entry)
	for kind, entries := range s.kinds {
		for id, e := range entries {
			out[FormatKey(kind, id)] = e
		}
	}
	return out
}

// Select returns the entries named by keys. Keys without an entry are omitted.
func (s *Snapshot) Select(keys []Key) map[string]Entry {
	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		if e, ok := s.Get(k.Kind, k.ID); ok {
			out[k.String()] = e
		}
	}
	return out
}

// MarshalJSON encodes the snapshot in the keyed form.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keyed())
}
