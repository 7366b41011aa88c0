// ABOUTME: Tests for the event id dedupe cache
// ABOUTME: Covers TTL expiry, capacity eviction order and concurrent marking

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return New(ttl, size, WithClock(clock.now)), clock
}

func TestCache_FirstSightIsNew(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.False(t, c.Seen("$ev1"))
	assert.True(t, c.Seen("$ev1"))
	assert.False(t, c.Seen("$ev2"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Seen("$ev1")
	clock.advance(30 * time.Second)
	c.Seen("$ev2")
	assert.True(t, c.Seen("$ev1"))

	clock.advance(31 * time.Second)
	assert.False(t, c.Seen("$ev1"), "expired key counts as new")
	assert.True(t, c.Seen("$ev2"))
}

func TestCache_RepeatDoesNotRefresh(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Seen("$ev1")
	clock.advance(50 * time.Second)
	assert.True(t, c.Seen("$ev1"))
	clock.advance(20 * time.Second)
	assert.False(t, c.Seen("$ev1"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)

	for i := 1; i <= 3; i++ {
		c.Seen(fmt.Sprintf("$ev%d", i))
	}
	c.Seen("$ev4")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("$ev1"), "oldest was evicted")
	assert.True(t, c.Seen("$ev4"))
}

func TestCache_MinimumSize(t *testing.T) {
	c := New(time.Hour, 0)
	assert.False(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentSingleWinner(t *testing.T) {
	c := New(time.Minute, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("$same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}
