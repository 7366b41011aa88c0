// ABOUTME: In-memory conversation state store keyed by actor
// ABOUTME: Provides set/get/merge/clear plus an atomic read-modify-write Update

package session

import (
	"maps"
	"strconv"
	"sync"

	"github.com/2389/olymp-desk/internal/chat"
)

// Tag names a step within a flow, e.g. "registration.phone".
type Tag string

// None is the tag of an actor with no active flow.
const None Tag = ""

// Data is the bag of values accumulated across steps.
type Data map[string]any

// String returns the string stored under key, or "".
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Actor returns the actor id stored under key.
func (d Data) Actor(key string) (chat.ActorID, bool) {
	switch v := d[key].(type) {
	case chat.ActorID:
		return v, v != 0
	case int64:
		return chat.ActorID(v), v != 0
	case int:
		return chat.ActorID(v), v != 0
	case string:
		return chat.ParseActorID(v)
	}
	return 0, false
}

// Int64 returns the integer stored under key.
func (d Data) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case chat.ActorID:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// State is one actor's conversation record.
type State struct {
	Tag  Tag
	Data Data
}

// Active reports whether the actor is inside a flow.
func (s State) Active() bool {
	return s.Tag != None
}

func (s State) clone() State {
	return State{Tag: s.Tag, Data: maps.Clone(s.Data)}
}

// Store is a process-local conversation state store.
type Store struct {
	mu     sync.Mutex
	states map[chat.ActorID]*State
	gens   map[chat.ActorID]uint64
	seq    uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		states: make(map[chat.ActorID]*State),
		gens:   make(map[chat.ActorID]uint64),
	}
}

// touch records a write to the actor. Must be called with mu held.
func (s *Store) touch(actor chat.ActorID) {
	s.seq++
	s.gens[actor] = s.seq
}

// forget drops the actor's record and generation. An actor without state
// always reads generation 0, so a snapshot of a present state still fails
// to swap after a clear. Must be called with mu held.
func (s *Store) forget(actor chat.ActorID) {
	delete(s.states, actor)
	delete(s.gens, actor)
}

// Get returns a copy of the actor's state. The data bag is copied one level
// deep; values stored in it are shared. The bool is false when the actor
// has no state.
func (s *Store) Get(actor chat.ActorID) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[actor]
	if !ok {
		return State{Data: Data{}}, false
	}
	return st.clone(), true
}

// Tag returns the actor's current tag, or None.
func (s *Store) Tag(actor chat.ActorID) Tag {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[actor]; ok {
		return st.Tag
	}
	return None
}

// Set moves the actor to tag, keeping the data bag. Setting None clears.
func (s *Store) Set(actor chat.ActorID, tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tag == None {
		s.forget(actor)
		return
	}
	s.touch(actor)
	st, ok := s.states[actor]
	if !ok {
		st = &State{Data: Data{}}
		s.states[actor] = st
	}
	st.Tag = tag
}

// Merge copies partial into the actor's data bag, creating the record if
// needed.
func (s *Store) Merge(actor chat.ActorID, partial Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch(actor)
	st, ok := s.states[actor]
	if !ok {
		st = &State{Data: Data{}}
		s.states[actor] = st
	}
	maps.Copy(st.Data, partial)
}

// Clear forgets the actor's state. Clearing an actor without state is a
// no-op.
func (s *Store) Clear(actor chat.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forget(actor)
}

// Update runs fn on a copy of the actor's state and commits the copy only
// if fn returns nil. A committed state with Tag None removes the record.
func (s *Store) Update(actor chat.ActorID, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := State{Data: Data{}}
	if st, ok := s.states[actor]; ok {
		cur = st.clone()
	}
	if cur.Data == nil {
		cur.Data = Data{}
	}
	if err := fn(&cur); err != nil {
		return err
	}
	s.commitLocked(actor, cur)
	return nil
}

func (s *Store) commitLocked(actor chat.ActorID, st State) {
	if st.Tag == None {
		s.forget(actor)
		return
	}
	s.touch(actor)
	s.states[actor] = &st
}

// Snapshot returns a copy of the actor's state and its generation. The
// generation changes on every write to the actor.
func (s *Store) Snapshot(actor chat.ActorID) (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := State{Data: Data{}}
	if st, ok := s.states[actor]; ok {
		cur = st.clone()
	}
	if cur.Data == nil {
		cur.Data = Data{}
	}
	return cur, s.gens[actor]
}

// CompareAndSwap commits st only if nothing has written the actor since the
// Snapshot that returned gen.
func (s *Store) CompareAndSwap(actor chat.ActorID, gen uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gens[actor] != gen {
		return false
	}
	s.commitLocked(actor, st.clone())
	return true
}

// Len returns the number of actors with state.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
