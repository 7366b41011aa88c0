package alerts

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/olymp-desk/internal/chat"
)

func TestRegistry_AddAndClaim(t *testing.T) {
	r := NewRegistry(0)

	rec := r.Add(42, KindSupport, []Delivery{{Staff: 7, Ref: "m1"}, {Staff: 8, Ref: "m2"}})
	assert.NotEmpty(t, rec.ID)
	r.Add(42, KindReport, []Delivery{{Staff: 7, Ref: "m3"}})

	assert.True(t, r.Pending(42, ""))
	assert.True(t, r.Pending(42, KindReport))
	assert.False(t, r.Pending(42, KindAppeal))

	got, ok := r.Claim(42)
	require.True(t, ok)
	assert.Equal(t, []Delivery{{7, "m1"}, {8, "m2"}, {7, "m3"}}, got)

	// The thread is evicted on claim.
	assert.False(t, r.Pending(42, ""))
	_, ok = r.Claim(42)
	assert.False(t, ok, "second claim reports already handled")
	assert.Zero(t, r.Len())
}

func TestRegistry_HistoryCap(t *testing.T) {
	r := NewRegistry(3)
	for i := 0; i < 5; i++ {
		r.Add(1, KindSupport, []Delivery{{Staff: 7, Ref: chat.MessageRef(fmt.Sprintf("m%d", i))}})
	}

	thread := r.Thread(1)
	require.Len(t, thread, 3)
	assert.Equal(t, chat.MessageRef("m2"), thread[0].Deliveries[0].Ref, "oldest records dropped first")
	assert.Equal(t, chat.MessageRef("m4"), thread[2].Deliveries[0].Ref)
}

func TestRegistry_ConcurrentClaimOnlyOneWins(t *testing.T) {
	r := NewRegistry(0)
	r.Add(42, KindAppeal, []Delivery{{Staff: 7, Ref: "m1"}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim(42); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRegistry_AddCopiesDeliveries(t *testing.T) {
	r := NewRegistry(0)
	d := []Delivery{{Staff: 7, Ref: "m1"}}
	r.Add(1, KindSupport, d)
	d[0].Ref = "changed"

	assert.Equal(t, chat.MessageRef("m1"), r.Thread(1)[0].Deliveries[0].Ref)
}
