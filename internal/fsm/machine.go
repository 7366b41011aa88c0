// ABOUTME: Explicit per-flow transition tables and the machine that fires them
// ABOUTME: Commits state only when the handler succeeds, re-prompting on validation errors

package fsm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/session"
)

// Special next tags.
const (
	// Stay keeps the current tag.
	Stay session.Tag = "~stay"
	// Done clears the actor's state.
	Done session.Tag = "~done"
)

// Handler runs one step.
type Handler func(ctx context.Context, c *Call) error

// ErrIllegalTransition is returned when a handler moves to a tag its step
// does not declare.
var ErrIllegalTransition = errors.New("illegal transition")

// Step is one row of a transition table. Action may end in "*" to match any
// action with that prefix. A zero Next keeps the current tag. Also lists
// the other tags Run may Goto.
type Step struct {
	From   session.Tag
	On     chat.Kind
	Action string
	Next   session.Tag
	Also   []session.Tag
	Run    Handler
}

func (s Step) allows(tag session.Tag) bool {
	return tag == s.Next || tag == Stay || tag == Done || slices.Contains(s.Also, tag)
}

func (s Step) targets() []session.Tag {
	return append([]session.Tag{s.Next}, s.Also...)
}

func (s Step) String() string {
	on := string(s.On)
	if s.Action != "" {
		on += ":" + s.Action
	}
	return fmt.Sprintf("%s --%s--> %s", s.From, on, s.Next)
}

func (s Step) matchesAction(action string) bool {
	if prefix, ok := strings.CutSuffix(s.Action, "*"); ok {
		return strings.HasPrefix(action, prefix)
	}
	return s.Action == action
}

// Call is the context a handler runs with. Data is a private copy of the
// actor's data bag; it is committed with the transition.
type Call struct {
	Actor chat.ActorID
	Batch chat.Batch
	Tag   session.Tag
	Data  session.Data

	next     session.Tag
	override bool
}

// Event returns the routing event.
func (c *Call) Event() chat.Event {
	return c.Batch.First()
}

// Goto overrides the step's next tag. Goto(session.None) clears like Done.
func (c *Call) Goto(tag session.Tag) {
	if tag == session.None {
		tag = Done
	}
	c.next, c.override = tag, true
}

// Stay keeps the current tag regardless of the step.
func (c *Call) Stay() {
	c.Goto(Stay)
}

// Done clears the state after the handler returns.
func (c *Call) Done() {
	c.Goto(Done)
}

// Set stores a value in the data bag.
func (c *Call) Set(key string, value any) {
	if c.Data == nil {
		c.Data = session.Data{}
	}
	c.Data[key] = value
}

// ValidationError rejects input without changing state. Notice is the
// catalog key to re-prompt with.
type ValidationError struct {
	Notice string
	Args   []any
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Notice
}

// Invalid builds a ValidationError.
func Invalid(notice string, args ...any) error {
	return &ValidationError{Notice: notice, Args: args}
}

// AsValidation unwraps a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	ok := errors.As(err, &v)
	return v, ok
}

// Machine is a set of flow tables.
type Machine struct {
	name  string
	steps map[session.Tag][]Step
	order []session.Tag
}

// New creates a machine from steps.
func New(name string, steps ...Step) *Machine {
	m := &Machine{name: name, steps: make(map[session.Tag][]Step)}
	m.Add(steps...)
	return m
}

// Name returns the machine name.
func (m *Machine) Name() string {
	return m.name
}

// Add appends steps to the table.
func (m *Machine) Add(steps ...Step) {
	for _, s := range steps {
		if _, ok := m.steps[s.From]; !ok {
			m.order = append(m.order, s.From)
		}
		m.steps[s.From] = append(m.steps[s.From], s)
	}
}

// Steps returns every step in insertion order.
func (m *Machine) Steps() []Step {
	var out []Step
	for _, tag := range m.order {
		out = append(out, m.steps[tag]...)
	}
	return out
}

// Handles reports whether the table has any step from tag.
func (m *Machine) Handles(tag session.Tag) bool {
	_, ok := m.steps[tag]
	return ok
}

// Lookup finds the most specific step for ev in state tag: an exact or
// prefix action match first, then the event kind, then KindAny.
func (m *Machine) Lookup(tag session.Tag, ev chat.Event) (Step, bool) {
	steps := m.steps[tag]

	if ev.Action != "" {
		for _, s := range steps {
			if s.Action != "" && (s.On == ev.Kind || s.On == chat.KindAny) && s.matchesAction(ev.Action) {
				return s, true
			}
		}
	}
	for _, s := range steps {
		if s.Action == "" && s.On == ev.Kind {
			return s, true
		}
	}
	for _, s := range steps {
		if s.Action == "" && s.On == chat.KindAny {
			return s, true
		}
	}
	return Step{}, false
}

// HasAction reports whether tag has a step naming ev's action explicitly.
func (m *Machine) HasAction(tag session.Tag, ev chat.Event) bool {
	if ev.Action == "" {
		return false
	}
	for _, s := range m.steps[tag] {
		if s.Action != "" && (s.On == ev.Kind || s.On == chat.KindAny) && s.matchesAction(ev.Action) {
			return true
		}
	}
	return false
}

// Fire runs the step matching batch in the actor's current state. It
// reports false when no step matches. Handler errors are returned
// unchanged and leave the state as it was.
func (m *Machine) Fire(ctx context.Context, states *session.Store, actor chat.ActorID, batch chat.Batch) (bool, error) {
	snap, gen := states.Snapshot(actor)
	step, ok := m.Lookup(snap.Tag, batch.First())
	if !ok {
		return false, nil
	}

	call := &Call{
		Actor: actor,
		Batch: batch,
		Tag:   snap.Tag,
		Data:  snap.Data,
		next:  step.Next,
	}
	if step.Run != nil {
		if err := step.Run(ctx, call); err != nil {
			return true, err
		}
	}

	next := call.next
	if call.override && !step.allows(next) {
		return true, fmt.Errorf("%w: %s to %q", ErrIllegalTransition, step, next)
	}
	switch next {
	case Stay, "":
		next = snap.Tag
	case Done:
		next = session.None
	}
	if next == session.None {
		call.Data = nil
	}

	// A collaborator that already moved this actor (the dialog bridge
	// opening or closing a link) wins over the step's transition.
	states.CompareAndSwap(actor, gen, session.State{Tag: next, Data: call.Data})
	return true, nil
}

// Validate checks that every step target is a known tag, and that every
// non-entry tag is reachable from an entry step. entry lists the tags the
// flows start from (usually session.None). extern lists tags owned by other
// components that steps may move to.
func (m *Machine) Validate(entry []session.Tag, extern ...session.Tag) error {
	known := make(map[session.Tag]bool)
	for _, tag := range m.order {
		known[tag] = true
	}
	for _, tag := range extern {
		known[tag] = true
	}

	var problems []string
	for _, s := range m.Steps() {
		if s.Run == nil && s.Next == Stay {
			problems = append(problems, fmt.Sprintf("step %s does nothing", s))
		}
		if s.On == "" {
			problems = append(problems, fmt.Sprintf("step %s has no event kind", s))
		}
		for _, target := range s.targets() {
			switch target {
			case Stay, Done, session.None:
				continue
			}
			if !known[target] {
				problems = append(problems, fmt.Sprintf("step %s targets unknown tag %q", s, target))
			}
		}
	}

	reached := make(map[session.Tag]bool)
	queue := append([]session.Tag(nil), entry...)
	for len(queue) > 0 {
		tag := queue[0]
		queue = queue[1:]
		if reached[tag] {
			continue
		}
		reached[tag] = true
		for _, s := range m.steps[tag] {
			for _, target := range s.targets() {
				if target != Stay && target != Done && !reached[target] {
					queue = append(queue, target)
				}
			}
		}
	}
	for _, tag := range m.order {
		if !reached[tag] && !slices.Contains(extern, tag) {
			problems = append(problems, fmt.Sprintf("tag %q is unreachable", tag))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%s: %s", m.name, strings.Join(problems, "; "))
	}
	return nil
}
