package state

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Update is one keyed entry in a batch write.
type Update struct {
	Kind  Kind
	ID    int
	Entry Entry
}

// Change is delivered to subscribers after each publication.
type Change struct {
	Snapshot *Snapshot

	// Keys lists the entries written or removed. When Full is set the
	// change covers whole kinds (or notifications were dropped) and
	// consumers should treat the snapshot as a resync.
	Keys []Key
	Full bool
}

// Subscription receives Change notifications on C.
type Subscription struct {
	C  <-chan Change
	ch chan Change
}

// Store holds the current Snapshot.
//
// Thread Safety:
//   - Read is lock-free and safe from any goroutine.
//   - Writes are serialized by a mutex; each write is one publication.
type Store struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	logger Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		subs:   make(map[*Subscription]struct{}),
		logger: noopLogger{},
	}
	s.current.Store(emptySnapshot)
	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Read returns the current snapshot. Repeated calls return the same pointer
// until the next write.
func (s *Store) Read() *Snapshot {
	return s.current.Load()
}

// ApplyFullSnapshot replaces the whole map of every kind present in kinds.
// Kinds absent from kinds are left untouched. Entries are stored as given,
// except that a missing state value becomes Unknown.
func (s *Store) ApplyFullSnapshot(kinds map[Kind]map[int]Entry) {
	if len(kinds) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	next := prev.cloneOuter()
	var keys []Key
	for kind, entries := range kinds {
		fresh := make(map[int]Entry, len(entries))
		for id, e := range entries {
			e.Kind = kind
			if e.State == "" {
				e.State = Unknown
			}
			fresh[id] = e
			keys = append(keys, Key{Kind: kind, ID: id})
		}
		for id := range prev.kinds[kind] {
			if _, ok := fresh[id]; !ok {
				keys = append(keys, Key{Kind: kind, ID: id})
			}
		}
		next.kinds[kind] = fresh
	}
	s.publish(next, keys, true)
}

// ApplyEntries upserts a batch of entries in one publication, in order.
//
// An entry with a model replaces the stored entry for that id outright.
// An entry without a model is merged: the stored model is kept, along with
// any state or train fields the update leaves empty.
func (s *Store) ApplyEntries(updates []Update) {
	if len(updates) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	next := prev.cloneOuter()
	copied := make(map[Kind]bool)
	keys := make([]Key, 0, len(updates))
	for _, u := range updates {
		if !copied[u.Kind] {
			next.kinds[u.Kind] = cloneInner(prev.kinds[u.Kind], 1)
			copied[u.Kind] = true
		}
		old, had := next.kinds[u.Kind][u.ID]
		next.kinds[u.Kind][u.ID] = merge(old, had, u.Kind, u.Entry)
		keys = append(keys, Key{Kind: u.Kind, ID: u.ID})
	}
	s.publish(next, keys, false)
}

// ApplyPartialUpdate upserts a single entry. A nil model keeps the model
// already stored for id.
func (s *Store) ApplyPartialUpdate(kind Kind, id int, model json.RawMessage, value Value) {
	s.ApplyEntries([]Update{{Kind: kind, ID: id, Entry: Entry{Kind: kind, Model: model, State: value}}})
}

// Remove deletes the entries for ids of kind. Missing ids are ignored.
func (s *Store) Remove(kind Kind, ids []int) {
	if len(ids) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	var keys []Key
	for _, id := range ids {
		if _, ok := prev.kinds[kind][id]; ok {
			keys = append(keys, Key{Kind: kind, ID: id})
		}
	}
	if len(keys) == 0 {
		return
	}

	next := prev.cloneOuter()
	next.kinds[kind] = cloneInner(prev.kinds[kind], 0)
	for _, k := range keys {
		delete(next.kinds[kind], k.ID)
	}
	s.publish(next, keys, false)
}

// Subscribe registers for change notifications. buffer must be at least 1.
// When the buffer is full the oldest pending notification is dropped and
// the next one is marked Full.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch}

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	return sub
}

// Unsubscribe stops notifications and closes the subscription channel.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// publish must be called with writeMu held.
func (s *Store) publish(next *Snapshot, keys []Key, full bool) {
	next.version = s.current.Load().version + 1
	s.current.Store(next)
	s.logger.Debug("state published", "version", next.version, "changed", len(keys), "full", full)

	change := Change{Snapshot: next, Keys: keys, Full: full}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- change:
			continue
		default:
		}
		// Drop the oldest pending change; the one we deliver must then
		// stand in for everything missed.
		select {
		case <-sub.ch:
		default:
		}
		resync := Change{Snapshot: next, Full: true}
		select {
		case sub.ch <- resync:
		default:
			s.logger.Warn("state subscriber lagging", "version", next.version)
		}
	}
}

func (s *Snapshot) cloneOuter() *Snapshot {
	out := &Snapshot{kinds: make(map[Kind]map[int]Entry, len(s.kinds)+1)}
	for k, v := range s.kinds {
		out.kinds[k] = v
	}
	return out
}

func cloneInner(m map[int]Entry, extra int) map[int]Entry {
	out := make(map[int]Entry, len(m)+extra)
	for id, e := range m {
		out[id] = e
	}
	return out
}

// merge applies next on top of old. An entry stored without a state value
// holds Unknown.
func merge(old Entry, had bool, kind Kind, next Entry) Entry {
	next.Kind = kind
	if !next.Partial() || !had {
		if next.State == "" {
			next.State = Unknown
		}
		return next
	}

	out := old
	out.Kind = kind
	if next.State != "" {
		out.State = next.State
	}
	if next.Speed != nil {
		speed := *next.Speed
		out.Speed = &speed
	}
	if next.Direction != "" {
		out.Direction = next.Direction
	}
	if next.Functions != nil {
		out.Functions = next.Functions
	}
	return out
}
