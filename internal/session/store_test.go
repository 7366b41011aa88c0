// ABOUTME: Tests for the conversation state store
// ABOUTME: Covers clear idempotency, merge isolation, and atomic Update semantics

package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/olymp-desk/internal/chat"
)

func TestStore_ClearThenGet(t *testing.T) {
	s := NewStore()
	s.Set(42, "registration.phone")
	s.Merge(42, Data{"full_name": "Ann Lee"})

	s.Clear(42)
	st, ok := s.Get(42)
	assert.False(t, ok)
	assert.Equal(t, None, st.Tag)
	assert.Empty(t, st.Data)

	// Second clear is a no-op.
	s.Clear(42)
	_, ok = s.Get(42)
	assert.False(t, ok)
}

func TestStore_ClearUnknownActor(t *testing.T) {
	s := NewStore()
	assert.NotPanics(t, func() { s.Clear(999) })
	assert.Equal(t, 0, s.Len())
}

func TestStore_SetKeepsData(t *testing.T) {
	s := NewStore()
	s.Set(1, "a")
	s.Merge(1, Data{"k": "v"})
	s.Set(1, "b")

	st, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, Tag("b"), st.Tag)
	assert.Equal(t, "v", st.Data.String("k"))
}

func TestStore_SetNoneClears(t *testing.T) {
	s := NewStore()
	s.Set(1, "a")
	s.Set(1, None)
	assert.Equal(t, None, s.Tag(1))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ActorsDoNotShareData(t *testing.T) {
	s := NewStore()
	s.Set(1, "dialog.staff")
	s.Set(2, "dialog.participant")
	s.Merge(1, Data{"partner": chat.ActorID(2)})

	st2, _ := s.Get(2)
	assert.NotContains(t, st2.Data, "partner")

	// Mutating a returned copy does not leak back.
	st1, _ := s.Get(1)
	st1.Data["partner"] = chat.ActorID(3)
	again, _ := s.Get(1)
	partner, ok := again.Data.Actor("partner")
	require.True(t, ok)
	assert.Equal(t, chat.ActorID(2), partner)
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := NewStore()
	s.Set(5, "registration.email")
	s.Merge(5, Data{"email": "old"})

	errBad := errors.New("bad")
	err := s.Update(5, func(st *State) error {
		st.Tag = "registration.agreement"
		st.Data["email"] = "new"
		return errBad
	})
	assert.ErrorIs(t, err, errBad)

	st, _ := s.Get(5)
	assert.Equal(t, Tag("registration.email"), st.Tag)
	assert.Equal(t, "old", st.Data.String("email"))
}

func TestStore_UpdateToNoneRemoves(t *testing.T) {
	s := NewStore()
	s.Set(5, "x")
	require.NoError(t, s.Update(5, func(st *State) error {
		st.Tag = None
		return nil
	}))
	_, ok := s.Get(5)
	assert.False(t, ok)
}

func TestStore_ConcurrentUpdatesAreAtomic(t *testing.T) {
	s := NewStore()
	s.Set(1, "counter")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = s.Update(1, func(st *State) error {
				v, _ := st.Data.Int64("n")
				st.Data["n"] = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	st, _ := s.Get(1)
	v, _ := st.Data.Int64("n")
	assert.Equal(t, int64(n), v)
}

func TestData_Actor(t *testing.T) {
	d := Data{"a": chat.ActorID(7), "b": int64(8), "c": "9", "d": "x"}
	for key, want := range map[string]chat.ActorID{"a": 7, "b": 8, "c": 9} {
		got, ok := d.Actor(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := d.Actor("d")
	assert.False(t, ok)
	_, ok = d.Actor("missing")
	assert.False(t, ok)
}

func TestStore_CompareAndSwap(t *testing.T) {
	s := NewStore()
	s.Set(1, "flow.a")

	st, gen := s.Snapshot(1)
	st.Tag = "flow.b"
	st.Data["k"] = "v"
	assert.True(t, s.CompareAndSwap(1, gen, st))
	assert.Equal(t, Tag("flow.b"), s.Tag(1))

	// A write by someone else in between makes the stale commit lose.
	st, gen = s.Snapshot(1)
	s.Clear(1)
	st.Tag = "flow.c"
	assert.False(t, s.CompareAndSwap(1, gen, st))
	assert.Equal(t, None, s.Tag(1))

	// Committing None removes the record.
	s.Set(2, "x")
	st, gen = s.Snapshot(2)
	st.Tag = None
	assert.True(t, s.CompareAndSwap(2, gen, st))
	_, ok := s.Get(2)
	assert.False(t, ok)
}

func TestStore_ClearForgetsGeneration(t *testing.T) {
	s := NewStore()
	for actor := chat.ActorID(1); actor <= 100; actor++ {
		s.Set(actor, "flow.a")
		s.Merge(actor, Data{"k": "v"})
		s.Clear(actor)
	}
	s.Set(101, "flow.a")
	s.Set(101, None)
	require.NoError(t, s.Update(102, func(st *State) error { return nil }))

	assert.Empty(t, s.gens)
	assert.Equal(t, 0, s.Len())

	// A snapshot of an absent actor still loses to a write in between.
	st, gen := s.Snapshot(1)
	s.Set(1, "flow.b")
	st.Tag = "flow.c"
	assert.False(t, s.CompareAndSwap(1, gen, st))
	assert.Equal(t, Tag("flow.b"), s.Tag(1))
}
