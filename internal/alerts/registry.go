// ABOUTME: Alert thread registry mapping originators to fanned-out staff messages
// ABOUTME: Evicts on claim and caps unclaimed history per originator

package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/olymp-desk/internal/chat"
)

// DefaultHistory is the per-originator cap on unclaimed records.
const DefaultHistory = 10

// Kind is what raised the alert.
type Kind string

const (
	KindSupport Kind = "support"
	KindReport  Kind = "report"
	KindAppeal  Kind = "appeal"
)

// Delivery is one copy of an alert in a staff member's chat.
type Delivery struct {
	Staff chat.ActorID
	Ref   chat.MessageRef
}

// Record is one fan-out of one alert.
type Record struct {
	ID         string
	Kind       Kind
	Originator chat.ActorID
	Deliveries []Delivery
	CreatedAt  time.Time
}

// Registry holds unclaimed alert threads.
type Registry struct {
	mu      sync.Mutex
	threads map[chat.ActorID][]*Record
	history int
	now     func() time.Time
}

// NewRegistry creates a registry keeping at most history unclaimed records
// per originator. Zero or less means DefaultHistory.
func NewRegistry(history int) *Registry {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Registry{
		threads: make(map[chat.ActorID][]*Record),
		history: history,
		now:     time.Now,
	}
}

// Add records a fan-out and returns it. The oldest records beyond the cap
// are dropped.
func (r *Registry) Add(originator chat.ActorID, kind Kind, deliveries []Delivery) *Record {
	rec := &Record{
		ID:         uuid.NewString(),
		Kind:       kind,
		Originator: originator,
		Deliveries: append([]Delivery(nil), deliveries...),
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	thread := append(r.threads[originator], rec)
	if over := len(thread) - r.history; over > 0 {
		thread = append([]*Record(nil), thread[over:]...)
	}
	r.threads[originator] = thread
	return rec
}

// Pending reports whether the originator has an unclaimed alert of kind.
// An empty kind matches any.
func (r *Registry) Pending(originator chat.ActorID, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.threads[originator] {
		if kind == "" || rec.Kind == kind {
			return true
		}
	}
	return false
}

// Claim evicts the originator's thread and returns every delivery in it.
// The bool is false when there was nothing to claim, which means another
// staff member got there first.
func (r *Registry) Claim(originator chat.ActorID) ([]Delivery, bool) {
	r.mu.Lock()
	thread, ok := r.threads[originator]
	delete(r.threads, originator)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	var out []Delivery
	for _, rec := range thread {
		out = append(out, rec.Deliveries...)
	}
	return out, true
}

// Thread returns a copy of the originator's unclaimed records, oldest
// first.
func (r *Registry) Thread(originator chat.ActorID) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.threads[originator]))
	for _, rec := range r.threads[originator] {
		out = append(out, *rec)
	}
	return out
}

// Len returns the number of originators with unclaimed alerts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
