// ABOUTME: Dispatch pipeline running gate, aggregation and routing on per-actor lanes
// ABOUTME: Serializes each actor's events while different actors run concurrently

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/2389/olymp-desk/internal/access"
	"github.com/2389/olymp-desk/internal/aggregate"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
)

// Handler processes a routed batch.
type Handler = func(ctx context.Context, batch chat.Batch) error

// Config wires a Pipeline.
type Config struct {
	Gate    *access.Gate
	States  *session.Store
	Machine *fsm.Machine

	// Globals run for their action in any state.
	Globals map[string]Handler
	// Default runs when nothing else matched.
	Default Handler

	// Reenter decides whether an entry action may restart a flow for an
	// actor currently in state from. Nil always allows.
	Reenter func(ctx context.Context, actor chat.ActorID, from session.Tag) bool
	// OnDeny reports a gate denial to the actor.
	OnDeny func(ctx context.Context, ev chat.Event, v access.Verdict)
	// OnError reports a handler error to the actor.
	OnError func(ctx context.Context, actor chat.ActorID, err error)

	AlbumWindow time.Duration
	AfterFunc   aggregate.AfterFunc
	Logger      *slog.Logger
}

type job struct {
	ctx   context.Context
	ev    chat.Event
	batch chat.Batch // set for flushed albums, which skip gate and buffer
}

type lane struct {
	jobs []job
}

// Pipeline dispatches inbound events.
type Pipeline struct {
	cfg    Config
	buffer *aggregate.Buffer
	logger *slog.Logger

	baseCtx context.Context

	mu      sync.Mutex
	lanes   map[chat.ActorID]*lane
	pending sync.WaitGroup
}

// New creates a pipeline. ctx is used for routing flushed albums.
func New(ctx context.Context, cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger.With("component", "dispatch"),
		baseCtx: ctx,
		lanes:   make(map[chat.ActorID]*lane),
	}

	opts := []aggregate.Option{aggregate.WithWindow(cfg.AlbumWindow), aggregate.WithLogger(logger)}
	if cfg.AfterFunc != nil {
		opts = append(opts, aggregate.WithAfterFunc(cfg.AfterFunc))
	}
	p.buffer = aggregate.New(p.flushed, opts...)
	return p
}

// Dispatch queues ev on its actor's lane and returns immediately.
func (p *Pipeline) Dispatch(ctx context.Context, ev chat.Event) {
	p.enqueue(ev.Actor, job{ctx: ctx, ev: ev})
}

// flushed is the aggregation buffer's delivery callback.
func (p *Pipeline) flushed(batch chat.Batch) {
	first := batch.First()
	p.enqueue(first.Actor, job{ctx: p.baseCtx, ev: first, batch: batch})
}

func (p *Pipeline) enqueue(actor chat.ActorID, j job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.Add(1)
	l, running := p.lanes[actor]
	if !running {
		l = &lane{}
		p.lanes[actor] = l
	}
	l.jobs = append(l.jobs, j)
	if !running {
		go p.drain(actor, l)
	}
}

// drain processes a lane until it is empty, then retires it.
func (p *Pipeline) drain(actor chat.ActorID, l *lane) {
	for {
		p.mu.Lock()
		if len(l.jobs) == 0 {
			delete(p.lanes, actor)
			p.mu.Unlock()
			return
		}
		j := l.jobs[0]
		l.jobs = l.jobs[1:]
		p.mu.Unlock()

		p.run(j)
		p.pending.Done()
	}
}

// run processes one job, recovering from handler panics.
func (p *Pipeline) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic", "actor", j.ev.Actor, "panic", r, "stack", string(debug.Stack()))
			p.report(j.ctx, j.ev.Actor, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if j.batch != nil {
		p.route(j.ctx, j.batch)
		return
	}

	if p.cfg.Gate != nil {
		if v := p.cfg.Gate.Check(j.ev); !v.Allowed() {
			if v.Decision == access.DenyNotice && p.cfg.OnDeny != nil {
				p.cfg.OnDeny(j.ctx, j.ev, v)
			}
			return
		}
	}

	if !p.buffer.Submit(j.ev) {
		return
	}
	p.route(j.ctx, chat.Batch{j.ev})
}

func (p *Pipeline) route(ctx context.Context, batch chat.Batch) {
	ev := batch.First()
	actor := ev.Actor
	isAction := ev.Kind == chat.KindCommand || ev.Kind == chat.KindCallback

	if isAction {
		if h, ok := p.cfg.Globals[ev.Action]; ok {
			p.report(ctx, actor, h(ctx, batch))
			return
		}
	}

	m := p.cfg.Machine
	if m != nil {
		if isAction && !p.restart(ctx, actor, ev) {
			return
		}

		handled, err := m.Fire(ctx, p.cfg.States, actor, batch)
		if handled {
			p.report(ctx, actor, err)
			return
		}
	}

	if p.cfg.Default != nil {
		p.report(ctx, actor, p.cfg.Default(ctx, batch))
	}
}

// restart clears the actor's flow when ev is an entry action that flow has
// no step for. The clear only commits against the state the decision was
// made on; a concurrent write, such as a dialog opening, forces a fresh
// decision. It reports false when the re-entry policy refused.
func (p *Pipeline) restart(ctx context.Context, actor chat.ActorID, ev chat.Event) bool {
	m := p.cfg.Machine
	for {
		st, gen := p.cfg.States.Snapshot(actor)
		if st.Tag == session.None || m.HasAction(st.Tag, ev) || !m.HasAction(session.None, ev) {
			return true
		}
		if p.cfg.Reenter != nil && !p.cfg.Reenter(ctx, actor, st.Tag) {
			return false
		}
		if p.cfg.States.CompareAndSwap(actor, gen, session.State{}) {
			p.logger.Debug("restarting flow", "actor", actor, "from", st.Tag, "action", ev.Action)
			return true
		}
	}
}

func (p *Pipeline) report(ctx context.Context, actor chat.ActorID, err error) {
	if err == nil {
		return
	}
	if _, ok := fsm.AsValidation(err); ok {
		p.logger.Debug("validation failed", "actor", actor, "error", err)
	} else {
		p.logger.Error("handler failed", "actor", actor, "error", err)
	}
	if p.cfg.OnError != nil {
		p.cfg.OnError(ctx, actor, err)
	}
}

// Wait blocks until every queued event and pending album has been
// processed.
func (p *Pipeline) Wait() {
	p.pending.Wait()
	p.buffer.Wait()
	p.pending.Wait()
}

// Close flushes pending albums and waits for the lanes to drain.
func (p *Pipeline) Close() {
	p.buffer.Close()
	p.Wait()
}
