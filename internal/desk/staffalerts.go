// ABOUTME: Support, report and ban-appeal alerts fanned out to staff
// ABOUTME: A staff claim evicts the thread and routes one reply back to the originator

package desk

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/2389/olymp-desk/internal/alerts"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
)

const (
	supportWaiting    session.Tag = "support.waiting"
	reportOffender    session.Tag = "report.offender"
	reportDescription session.Tag = "report.description"
	reportProof       session.Tag = "report.proof"
	replyWaiting      session.Tag = "reply.waiting"
)

const replyAction = "reply_"

func (d *Desk) alertSteps() []fsm.Step {
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: "contact_support", Next: supportWaiting, Run: d.startSupport},
		{From: supportWaiting, On: chat.KindText, Next: fsm.Done, Run: d.sendSupport},
		{From: supportWaiting, On: chat.KindMedia, Next: fsm.Done, Run: d.sendSupport},

		{From: session.None, On: chat.KindAny, Action: "report_violation", Next: reportOffender, Run: d.startReport},
		{From: reportOffender, On: chat.KindText, Next: reportDescription, Run: d.takeOffender},
		{From: reportDescription, On: chat.KindText, Next: reportProof, Run: d.takeDescription},
		{From: reportProof, On: chat.KindText, Next: fsm.Done, Run: d.sendReport},
		{From: reportProof, On: chat.KindMedia, Next: fsm.Done, Run: d.sendReport},

		{From: session.None, On: chat.KindAny, Action: "banned_appeal", Run: d.appeal},

		{From: session.None, On: chat.KindAny, Action: replyAction + "*", Next: replyWaiting, Run: d.claim},
		{From: replyWaiting, On: chat.KindText, Next: fsm.Done, Run: d.sendReply},
		{From: replyWaiting, On: chat.KindMedia, Next: fsm.Done, Run: d.sendReply},
	}
}

// staffRecipients returns everyone who receives alerts, minus the
// originator.
func (d *Desk) staffRecipients(originator chat.ActorID) []chat.ActorID {
	ids := d.roster.StaffIDs()
	if su := d.roster.Superuser(); su != 0 && !slices.Contains(ids, su) {
		ids = append(ids, su)
	}
	return slices.DeleteFunc(ids, func(id chat.ActorID) bool { return id == originator })
}

// alertStaff sends body with a reply action to every staff member, followed
// by any media, and records where the copies went.
func (d *Desk) alertStaff(ctx context.Context, originator chat.ActorID, kind alerts.Kind, body string, media []chat.Media) *alerts.Record {
	msg := chat.Markdown(body, d.texts.Actions(replyAction+originator.String())...)

	var deliveries []alerts.Delivery
	for _, staff := range d.staffRecipients(originator) {
		ref, err := d.out.SendText(ctx, staff, msg)
		if err != nil {
			d.logger.Warn("alert delivery failed", "staff", staff, "kind", kind, "error", err)
			continue
		}
		deliveries = append(deliveries, alerts.Delivery{Staff: staff, Ref: ref})
		if err := sendMedia(ctx, d.out, staff, media); err != nil {
			d.logger.Warn("alert media delivery failed", "staff", staff, "kind", kind, "error", err)
		}
	}

	rec := d.alerts.Add(originator, kind, deliveries)
	d.logger.Info("alert raised", "id", rec.ID, "kind", kind, "originator", originator, "copies", len(deliveries))
	return rec
}

func sendMedia(ctx context.Context, out chat.Channel, to chat.ActorID, media []chat.Media) error {
	switch len(media) {
	case 0:
		return nil
	case 1:
		_, err := out.SendMedia(ctx, to, media[0], chat.Text{})
		return err
	default:
		_, err := out.SendMediaBatch(ctx, to, media, chat.Text{})
		return err
	}
}

func (d *Desk) startSupport(ctx context.Context, c *fsm.Call) error {
	if ok, err := d.requireProfile(ctx, c); !ok {
		return err
	}
	d.prompt(ctx, c, "support.prompt", []string{"home"})
	return nil
}

func (d *Desk) sendSupport(ctx context.Context, c *fsm.Call) error {
	ev := c.Event()
	body := c.Batch.Caption()
	if body == "" {
		body = d.texts.Get("support.media_only")
	}
	alert := d.texts.Get("support.alert", c.Actor, ev.HandleLabel(), body)
	d.alertStaff(ctx, c.Actor, alerts.KindSupport, alert, c.Batch.Media())

	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "support.sent", d.menu(c.Actor))
	return nil
}

func (d *Desk) startReport(ctx context.Context, c *fsm.Call) error {
	if ok, err := d.requireProfile(ctx, c); !ok {
		return err
	}
	d.prompt(ctx, c, "report.offender", []string{"home"})
	return nil
}

func (d *Desk) takeOffender(ctx context.Context, c *fsm.Call) error {
	offender := strings.TrimSpace(c.Event().Text)
	if !strings.HasPrefix(offender, "@") || len(offender) < 2 {
		return fsm.Invalid("report.offender_invalid")
	}
	c.Set("offender", offender)
	d.prompt(ctx, c, "report.description", []string{"home"})
	return nil
}

func (d *Desk) takeDescription(ctx context.Context, c *fsm.Call) error {
	desc := strings.TrimSpace(c.Event().Text)
	if desc == "" {
		return fsm.Invalid("report.description")
	}
	c.Set("description", desc)
	d.prompt(ctx, c, "report.proof", []string{"home"})
	return nil
}

// noProof reports whether a text answer to the proof prompt means none.
func noProof(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "нет", "no", "-":
		return true
	}
	return false
}

func (d *Desk) sendReport(ctx context.Context, c *fsm.Call) error {
	ev := c.Event()
	alert := d.texts.Get("report.alert", c.Actor, ev.HandleLabel(), c.Data.String("offender"), c.Data.String("description"))

	media := c.Batch.Media()
	if len(media) == 0 && !noProof(ev.Text) {
		alert += d.texts.Get("report.alert_proof", strings.TrimSpace(ev.Text))
	}
	d.alertStaff(ctx, c.Actor, alerts.KindReport, alert, media)

	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "report.sent", d.menu(c.Actor))
	return nil
}

// appeal alerts staff once per pending appeal.
func (d *Desk) appeal(ctx context.Context, c *fsm.Call) error {
	if d.alerts.Pending(c.Actor, alerts.KindAppeal) {
		d.say(ctx, c.Actor, "appeal.pending", nil)
		return nil
	}
	alert := d.texts.Get("appeal.alert", c.Actor, c.Event().HandleLabel())
	d.alertStaff(ctx, c.Actor, alerts.KindAppeal, alert, nil)
	d.say(ctx, c.Actor, "appeal.sent", nil)
	return nil
}

func (d *Desk) claim(ctx context.Context, c *fsm.Call) error {
	if err := d.requireStaff(c.Actor); err != nil {
		return err
	}
	id, _ := strings.CutPrefix(c.Event().Action, replyAction)
	originator, ok := chat.ParseActorID(id)
	if !ok {
		return fsm.Invalid("common.id_not_number")
	}

	deliveries, ok := d.alerts.Claim(originator)
	if !ok {
		d.say(ctx, c.Actor, "reply.handled", nil)
		c.Done()
		return nil
	}
	for _, del := range deliveries {
		if del.Staff == c.Actor {
			continue
		}
		if err := d.out.DeleteMessage(ctx, del.Staff, del.Ref); err != nil {
			d.logger.Debug("alert copy cleanup failed", "staff", del.Staff, "error", err)
		}
	}

	c.Set(targetKey, originator)
	d.prompt(ctx, c, "reply.prompt", []string{"home"}, d.label(ctx, originator))
	return nil
}

func (d *Desk) sendReply(ctx context.Context, c *fsm.Call) error {
	target, ok := c.Data.Actor(targetKey)
	if !ok {
		c.Done()
		return nil
	}

	err := dialog.Relay(ctx, d.out, target, d.texts.Get("dialog.header_staff"), c.Batch)
	switch {
	case errors.Is(err, dialog.ErrUnsupported):
		return fsm.Invalid("common.unsupported")
	case errors.Is(err, dialog.ErrUndeliverable):
		d.logger.Warn("reply undeliverable", "staff", c.Actor, "target", target, "error", err)
		d.say(ctx, c.Actor, "common.delivery_failed", adminMenu())
		return nil
	case err != nil:
		return err
	}

	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "reply.sent", adminMenu())
	return nil
}
