// ABOUTME: Staff moderation flows: ban and unban, plus superuser promote and demote
// ABOUTME: Each flow finds its target by id or handle, commits to the store, then the roster

package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
)

// lookup is a flow that starts by finding one profile.
type lookup struct {
	// name prefixes the flow's tags.
	name   string
	entry  string
	method string
	// strictHandle requires the handle to be typed with "@".
	strictHandle bool
	guard        func(chat.ActorID) error
	// next is the tag found moves to; Done when found finishes the flow.
	next  session.Tag
	found func(ctx context.Context, c *fsm.Call, p *store.Profile) error
}

func (l lookup) tag(step string) session.Tag {
	return session.Tag(l.name + "." + step)
}

func (d *Desk) lookupSteps(l lookup) []fsm.Step {
	method, byID, byHandle := l.tag("method"), l.tag("by_id"), l.tag("by_handle")
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: l.entry, Next: method, Run: func(ctx context.Context, c *fsm.Call) error {
			if err := l.guard(c.Actor); err != nil {
				return err
			}
			d.prompt(ctx, c, l.method, []string{"search_by_id", "search_by_username", "home"})
			return nil
		}},
		{From: method, On: chat.KindAny, Action: "search_by_id", Next: byID, Run: func(ctx context.Context, c *fsm.Call) error {
			d.prompt(ctx, c, "common.enter_id", []string{"home"})
			return nil
		}},
		{From: method, On: chat.KindAny, Action: "search_by_username", Next: byHandle, Run: func(ctx context.Context, c *fsm.Call) error {
			d.prompt(ctx, c, "common.enter_handle", []string{"home"})
			return nil
		}},
		{From: byID, On: chat.KindText, Next: l.next, Run: func(ctx context.Context, c *fsm.Call) error {
			id, ok := chat.ParseActorID(strings.TrimSpace(c.Event().Text))
			if !ok {
				return fsm.Invalid("common.id_not_number")
			}
			p, err := d.profiles.FindByExternalID(ctx, id)
			if err != nil {
				return notFoundOr(err)
			}
			return l.found(ctx, c, p)
		}},
		{From: byHandle, On: chat.KindText, Next: l.next, Run: func(ctx context.Context, c *fsm.Call) error {
			handle := strings.TrimSpace(c.Event().Text)
			if l.strictHandle && !strings.HasPrefix(handle, "@") {
				return fsm.Invalid("common.handle_required")
			}
			if strings.TrimPrefix(handle, "@") == "" {
				return fsm.Invalid("common.handle_required")
			}
			p, err := d.profiles.FindByHandle(ctx, handle)
			if err != nil {
				return notFoundOr(err)
			}
			return l.found(ctx, c, p)
		}},
	}
}

// notFoundOr re-prompts on a missing profile and wraps anything else.
func notFoundOr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fsm.Invalid("common.not_found")
	}
	return persistErr("find profile", err)
}

// attribution renders the acting staff member for ban records.
func attribution(ev chat.Event) string {
	if ev.Handle != "" {
		return fmt.Sprintf("@%s, ID_%d", ev.Handle, ev.Actor)
	}
	return fmt.Sprintf("ID_%d", ev.Actor)
}

const (
	banReason session.Tag = "ban.reason"
	banProof  session.Tag = "ban.proof"
)

func (d *Desk) moderationSteps() []fsm.Step {
	var steps []fsm.Step
	steps = append(steps, d.lookupSteps(lookup{
		name: "ban", entry: "ban", method: "ban.method",
		guard: d.requireStaff, next: banReason, found: d.banTarget,
	})...)
	steps = append(steps,
		fsm.Step{From: banReason, On: chat.KindText, Next: banProof, Run: d.takeBanReason},
		fsm.Step{From: banProof, On: chat.KindText, Next: fsm.Done, Run: d.applyBan},
		fsm.Step{From: banProof, On: chat.KindMedia, Next: fsm.Done, Run: d.applyBan},
	)
	steps = append(steps, d.lookupSteps(lookup{
		name: "unban", entry: "unban", method: "unban.method",
		guard: d.requireStaff, next: fsm.Done, found: d.unban,
	})...)
	steps = append(steps, d.lookupSteps(lookup{
		name: "promote", entry: "promote", method: "promote.method", strictHandle: true,
		guard: d.requireSuperuser, next: fsm.Done, found: d.promote,
	})...)
	steps = append(steps, d.lookupSteps(lookup{
		name: "demote", entry: "demote", method: "demote.method", strictHandle: true,
		guard: d.requireSuperuser, next: fsm.Done, found: d.demote,
	})...)
	return steps
}

func (d *Desk) banTarget(ctx context.Context, c *fsm.Call, p *store.Profile) error {
	c.Set(targetKey, p.ExternalID)
	c.Set("target_name", p.FullName)
	c.Set("target_handle", p.Handle)
	d.prompt(ctx, c, "ban.found", []string{"home"}, p.FullName, p.ExternalID)
	return nil
}

func (d *Desk) takeBanReason(ctx context.Context, c *fsm.Call) error {
	reason := strings.TrimSpace(c.Event().Text)
	if reason == "" {
		return fsm.Invalid("common.unknown")
	}
	c.Set("reason", reason)
	d.prompt(ctx, c, "ban.proof", []string{"home"})
	return nil
}

// banProofText renders the proof column: the text itself or the first
// attachment's transport reference.
func banProofText(batch chat.Batch) string {
	if media := batch.Media(); len(media) > 0 {
		return "Photo ID: " + media[0].Ref
	}
	return "Текст: " + strings.TrimSpace(batch.First().Text)
}

func (d *Desk) applyBan(ctx context.Context, c *fsm.Call) error {
	target, ok := c.Data.Actor(targetKey)
	if !ok {
		c.Done()
		return nil
	}
	rec := &store.BanRecord{
		ExternalID: target,
		Handle:     c.Data.String("target_handle"),
		Reason:     c.Data.String("reason"),
		Proof:      banProofText(c.Batch),
		BannedBy:   attribution(c.Event()),
	}
	if err := d.profiles.Ban(ctx, rec); err != nil {
		return persistErr("ban", err)
	}
	d.roster.Ban(target)
	d.logger.Info("actor banned", "target", target, "by", c.Actor)

	// A running dialog ends from the staff side so both ends get the
	// right notice; the target's own flow is dropped with it.
	if staff, ok := d.bridge.Partner(target); ok && !d.bridge.IsStaffSide(target) {
		d.bridge.Close(ctx, staff)
		d.say(ctx, staff, "dialog.ended", adminMenu())
	} else {
		d.bridge.Close(ctx, target)
	}
	d.states.Clear(target)

	d.say(ctx, target, "banned.notify", []string{"banned_appeal"})
	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "ban.done", adminMenu(), c.Data.String("target_name"), target)
	return nil
}

func (d *Desk) unban(ctx context.Context, c *fsm.Call, p *store.Profile) error {
	if !p.Banned && !d.roster.IsBanned(p.ExternalID) {
		d.say(ctx, c.Actor, "unban.not_banned", adminMenu())
		return nil
	}
	if err := d.profiles.Unban(ctx, p.ExternalID, attribution(c.Event())); err != nil {
		return persistErr("unban", err)
	}
	d.roster.Unban(p.ExternalID)
	d.logger.Info("actor unbanned", "target", p.ExternalID, "by", c.Actor)

	d.say(ctx, p.ExternalID, "banned.lifted", d.menu(p.ExternalID))
	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "unban.done", adminMenu(), p.FullName)
	return nil
}

func (d *Desk) promote(ctx context.Context, c *fsm.Call, p *store.Profile) error {
	if d.roster.HasStaffRole(p.ExternalID) {
		d.say(ctx, c.Actor, "promote.already", architectMenu())
		return nil
	}
	if err := d.profiles.SetRole(ctx, p.ExternalID, store.RoleStaff, true); err != nil {
		return persistErr("promote", err)
	}
	d.roster.Promote(p.ExternalID)
	d.logger.Info("staff promoted", "target", p.ExternalID, "by", c.Actor)

	d.say(ctx, p.ExternalID, "promote.notify", d.menu(p.ExternalID))
	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "promote.done", architectMenu(), p.Label())
	return nil
}

// demote revokes the staff role and ends the demoted member's dialog.
func (d *Desk) demote(ctx context.Context, c *fsm.Call, p *store.Profile) error {
	if !d.roster.HasStaffRole(p.ExternalID) {
		d.say(ctx, c.Actor, "demote.not_staff", architectMenu())
		return nil
	}
	if err := d.profiles.SetRole(ctx, p.ExternalID, store.RoleStaff, false); err != nil {
		return persistErr("demote", err)
	}
	d.roster.Demote(p.ExternalID)
	if d.bridge.IsStaffSide(p.ExternalID) {
		d.bridge.Close(ctx, p.ExternalID)
	}
	d.logger.Info("staff demoted", "target", p.ExternalID, "by", c.Actor)

	d.say(ctx, p.ExternalID, "demote.notify", d.menu(p.ExternalID))
	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "demote.done", architectMenu(), p.Label())
	return nil
}
