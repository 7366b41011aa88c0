// ABOUTME: Time-windowed aggregation buffer keyed by album group id
// ABOUTME: Guarantees each fragment is delivered exactly once as part of a whole batch

package aggregate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/olymp-desk/internal/chat"
)

// DefaultWindow is the quiet period after the first fragment of a group.
const DefaultWindow = 500 * time.Millisecond

// Timer is the part of *time.Timer the buffer uses.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DeliverFunc receives every flushed batch.
type DeliverFunc func(chat.Batch)

// batch is the mutable state of one group. events and closed are only
// touched with Buffer.mu held.
type batch struct {
	group  string
	events chat.Batch
	closed bool
	timer  Timer
}

// Buffer merges fragments that share a group id.
type Buffer struct {
	mu        sync.Mutex
	pending   map[string]*batch
	window    time.Duration
	afterFunc AfterFunc
	deliver   DeliverFunc
	inflight  sync.WaitGroup
	closed    bool
	logger    *slog.Logger
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithWindow sets the quiet period.
func WithWindow(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc, for tests that fire deadlines by
// hand.
func WithAfterFunc(f AfterFunc) Option {
	return func(b *Buffer) {
		b.afterFunc = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// New creates a buffer that hands flushed batches to deliver.
func New(deliver DeliverFunc, opts ...Option) *Buffer {
	b := &Buffer{
		pending:   make(map[string]*batch),
		window:    DefaultWindow,
		afterFunc: stdAfterFunc,
		deliver:   deliver,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "aggregate")
	return b
}

// Submit offers a fragment to the buffer. It returns true when the event
// has no group and the caller must deliver it itself. Grouped fragments
// are always delivered later through the deliver callback.
func (b *Buffer) Submit(ev chat.Event) bool {
	if ev.GroupID == "" {
		return true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.deliver(chat.Batch{ev})
		return false
	}

	if open, ok := b.pending[ev.GroupID]; ok && !open.closed {
		open.events = append(open.events, ev)
		b.mu.Unlock()
		return false
	}

	nb := &batch{group: ev.GroupID, events: chat.Batch{ev}}
	b.pending[ev.GroupID] = nb
	b.inflight.Add(1)
	nb.timer = b.afterFunc(b.window, func() { b.expire(nb) })
	b.mu.Unlock()

	b.logger.Debug("opened batch", "group", ev.GroupID, "actor", ev.Actor)
	return false
}

// expire is the deadline callback for nb.
func (b *Buffer) expire(nb *batch) {
	defer b.inflight.Done()

	events, ok := b.claim(nb)
	if !ok {
		return
	}
	b.logger.Debug("flushing batch", "group", nb.group, "size", len(events))
	b.deliver(events)
}

// claim closes nb and removes it from the map if it is still the live entry.
// It reports false when nb was already claimed.
func (b *Buffer) claim(nb *batch) (chat.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if nb.closed {
		return nil, false
	}
	nb.closed = true
	if b.pending[nb.group] == nb {
		delete(b.pending, nb.group)
	}
	return nb.events, true
}

// Pending returns the number of open batches.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Wait blocks until every armed deadline has fired and delivered.
func (b *Buffer) Wait() {
	b.inflight.Wait()
}

// Close flushes every open batch immediately. Fragments submitted after
// Close are delivered as single-item batches.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var flush []chat.Batch
	for group, nb := range b.pending {
		nb.closed = true
		delete(b.pending, group)
		flush = append(flush, nb.events)
		if nb.timer.Stop() {
			// The callback will never run, so release its slot here.
			b.inflight.Done()
		}
	}
	b.mu.Unlock()

	for _, events := range flush {
		b.deliver(events)
	}
}
