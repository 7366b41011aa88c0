// ABOUTME: Desk wires the roster, gate, bridge and flow tables into one dispatch pipeline
// ABOUTME: Maps handler errors and gate denials to catalog notices for the actor

package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/olymp-desk/internal/access"
	"github.com/2389/olymp-desk/internal/aggregate"
	"github.com/2389/olymp-desk/internal/alerts"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/dispatch"
	"github.com/2389/olymp-desk/internal/fanout"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
	"github.com/2389/olymp-desk/internal/texts"
)

var (
	// errPersistence marks a failed store write. The step is not committed.
	errPersistence = errors.New("persistence failure")
	// errNotAllowed is returned when the actor lacks the role for a step.
	errNotAllowed = errors.New("not allowed")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errPersistence, op, err)
}

// Options configures a Desk.
type Options struct {
	Profiles store.ProfileStore
	Roster   *access.Roster
	Out      chat.Channel
	Texts    *texts.Catalog

	// AgreementPath is the document sent for the agreement_doc action.
	AgreementPath string
	// AlertHistory caps the alert records kept per originator.
	AlertHistory int
	// BroadcastInterval is the pause between mass sends.
	BroadcastInterval time.Duration
	AlbumWindow       time.Duration
	AfterFunc         aggregate.AfterFunc
	// Credentials generates login and password for new profiles. Nil uses
	// bcrypt.DefaultCost.
	Credentials store.CredentialFunc

	Logger *slog.Logger
}

// Desk is the running bot core.
type Desk struct {
	profiles  store.ProfileStore
	roster    *access.Roster
	out       chat.Channel
	texts     *texts.Catalog
	states    *session.Store
	bridge    *dialog.Bridge
	alerts    *alerts.Registry
	fanout    *fanout.Sender
	machine   *fsm.Machine
	pipeline  *dispatch.Pipeline
	creds     store.CredentialFunc
	agreement string
	logger    *slog.Logger
}

// New builds a desk and validates its flow tables.
func New(ctx context.Context, opts Options) (*Desk, error) {
	if opts.Profiles == nil || opts.Roster == nil || opts.Out == nil {
		return nil, errors.New("desk: profiles, roster and channel are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := opts.Texts
	if catalog == nil {
		catalog = texts.Default()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = CredentialGenerator(bcrypt.DefaultCost)
	}
	interval := opts.BroadcastInterval
	if interval == 0 {
		interval = fanout.DefaultInterval
	}

	states := session.NewStore()
	d := &Desk{
		profiles:  opts.Profiles,
		roster:    opts.Roster,
		out:       opts.Out,
		texts:     catalog,
		states:    states,
		bridge:    dialog.NewBridge(states, opts.Out, opts.Profiles, catalog, logger),
		alerts:    alerts.NewRegistry(opts.AlertHistory),
		fanout:    fanout.New(interval, logger),
		creds:     creds,
		agreement: opts.AgreementPath,
		logger:    logger.With("component", "desk"),
	}

	d.machine = fsm.New("desk")
	d.machine.Add(d.registrationSteps()...)
	d.machine.Add(d.accountSteps()...)
	d.machine.Add(d.alertSteps()...)
	d.machine.Add(d.moderationSteps()...)
	d.machine.Add(d.dialogSteps()...)
	d.machine.Add(d.broadcastSteps()...)
	d.machine.Add(d.exportSteps()...)
	if err := d.machine.Validate([]session.Tag{session.None}, dialog.ParticipantTag, dialog.StaffTag); err != nil {
		return nil, fmt.Errorf("desk: invalid flow table: %w", err)
	}

	d.pipeline = dispatch.New(ctx, dispatch.Config{
		Gate:        access.NewGate(opts.Roster, d.bridge, access.WithGateLogger(logger)),
		States:      states,
		Machine:     d.machine,
		Globals:     d.globals(),
		Default:     d.fallback,
		Reenter:     d.reenter,
		OnDeny:      d.onDeny,
		OnError:     d.onError,
		AlbumWindow: opts.AlbumWindow,
		AfterFunc:   opts.AfterFunc,
		Logger:      logger,
	})
	return d, nil
}

// Dispatch queues an inbound event.
func (d *Desk) Dispatch(ctx context.Context, ev chat.Event) {
	d.pipeline.Dispatch(ctx, ev)
}

// Wait blocks until every queued event has been handled.
func (d *Desk) Wait() {
	d.pipeline.Wait()
}

// Close flushes pending albums and drains the lanes.
func (d *Desk) Close() {
	d.pipeline.Close()
}

// States exposes the conversation state store.
func (d *Desk) States() *session.Store {
	return d.states
}

// Bridge exposes the dialog link table.
func (d *Desk) Bridge() *dialog.Bridge {
	return d.bridge
}

// Machine exposes the flow tables.
func (d *Desk) Machine() *fsm.Machine {
	return d.machine
}

// Alerts exposes the alert thread registry.
func (d *Desk) Alerts() *alerts.Registry {
	return d.alerts
}

func (d *Desk) onDeny(ctx context.Context, ev chat.Event, v access.Verdict) {
	msg := chat.Markdown(d.texts.Get(v.Notice), d.texts.Fill(v.Actions)...)
	d.send(ctx, ev.Actor, msg)
}

func (d *Desk) onError(ctx context.Context, actor chat.ActorID, err error) {
	if v, ok := fsm.AsValidation(err); ok {
		d.say(ctx, actor, v.Notice, nil, v.Args...)
		return
	}

	key := "common.error"
	switch {
	case errors.Is(err, errNotAllowed):
		key = "common.not_allowed"
	case errors.Is(err, errPersistence):
		key = "common.persist_failed"
	case errors.Is(err, dialog.ErrUndeliverable), errors.Is(err, chat.ErrUndeliverable):
		key = "common.delivery_failed"
	case errors.Is(err, store.ErrNotFound):
		key = "common.not_found"
	}
	d.say(ctx, actor, key, nil)
}

// send delivers msg best-effort and returns its ref.
func (d *Desk) send(ctx context.Context, to chat.ActorID, msg chat.Text) chat.MessageRef {
	ref, err := d.out.SendText(ctx, to, msg)
	if err != nil {
		d.logger.Warn("send failed", "to", to, "error", err)
		return ""
	}
	return ref
}

// say sends the catalog message key with the given action ids.
func (d *Desk) say(ctx context.Context, to chat.ActorID, key string, actions []string, args ...any) chat.MessageRef {
	return d.send(ctx, to, d.texts.Markdown(key, actions, args...))
}

// prompt replaces the previous bot prompt of the flow with a new one.
func (d *Desk) prompt(ctx context.Context, c *fsm.Call, key string, actions []string, args ...any) {
	d.promptText(ctx, c, d.texts.Markdown(key, actions, args...))
}

func (d *Desk) promptText(ctx context.Context, c *fsm.Call, msg chat.Text) {
	d.dropPrompt(ctx, c)
	c.Set(promptKey, string(d.send(ctx, c.Actor, msg)))
}

// dropPrompt deletes the flow's last prompt, best-effort.
func (d *Desk) dropPrompt(ctx context.Context, c *fsm.Call) {
	prev := c.Data.String(promptKey)
	if prev == "" {
		return
	}
	if err := d.out.DeleteMessage(ctx, c.Actor, chat.MessageRef(prev)); err != nil {
		d.logger.Debug("prompt cleanup failed", "actor", c.Actor, "error", err)
	}
	delete(c.Data, promptKey)
}

func (d *Desk) requireStaff(actor chat.ActorID) error {
	if !d.roster.IsStaff(actor) {
		return errNotAllowed
	}
	return nil
}

func (d *Desk) requireSuperuser(actor chat.ActorID) error {
	if !d.roster.IsSuperuser(actor) {
		return errNotAllowed
	}
	return nil
}

// profile loads the actor's profile. The bool is false when none exists.
func (d *Desk) profile(ctx context.Context, actor chat.ActorID) (*store.Profile, bool, error) {
	p, err := d.profiles.FindByExternalID(ctx, actor)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, persistErr("find profile", err)
	}
	return p, true, nil
}

// label renders an actor for staff, preferring the stored handle.
func (d *Desk) label(ctx context.Context, actor chat.ActorID) string {
	if p, err := d.profiles.FindByExternalID(ctx, actor); err == nil {
		return p.Label()
	}
	return "ID " + actor.String()
}
