// ABOUTME: Staff dialog search and in-dialog steps for both sides of a link
// ABOUTME: Content inside a dialog is proxied through the bridge until either side ends it

package desk

import (
	"context"
	"errors"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
)

func (d *Desk) dialogSteps() []fsm.Step {
	steps := d.lookupSteps(lookup{
		name: "search", entry: "dialog", method: "common.search_method",
		guard: d.requireStaff, next: dialog.StaffTag, found: d.openDialog,
	})
	for _, side := range []session.Tag{dialog.StaffTag, dialog.ParticipantTag} {
		steps = append(steps,
			fsm.Step{From: side, On: chat.KindAny, Action: "end_dialog", Next: fsm.Done, Run: d.endDialog},
			fsm.Step{From: side, On: chat.KindText, Run: d.proxy},
			fsm.Step{From: side, On: chat.KindMedia, Run: d.proxy},
		)
	}
	return steps
}

func (d *Desk) openDialog(ctx context.Context, c *fsm.Call, p *store.Profile) error {
	if _, err := d.bridge.Open(ctx, p.ExternalID, c.Actor); err != nil {
		switch {
		case errors.Is(err, dialog.ErrConflict):
			if d.bridge.Linked(c.Actor) {
				d.say(ctx, c.Actor, "dialog.staff_busy", nil)
			} else {
				d.say(ctx, c.Actor, "dialog.busy", adminMenu(), p.Label())
			}
			c.Done()
			return nil
		case errors.Is(err, store.ErrNotFound):
			return fsm.Invalid("common.not_found")
		}
		return persistErr("open dialog", err)
	}
	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "dialog.started", []string{"end_dialog"}, p.Label())
	return nil
}

func (d *Desk) endDialog(ctx context.Context, c *fsm.Call) error {
	staffSide := d.bridge.IsStaffSide(c.Actor)
	d.bridge.Close(ctx, c.Actor)
	if staffSide {
		d.say(ctx, c.Actor, "dialog.ended", adminMenu())
	} else {
		d.say(ctx, c.Actor, "dialog.ended", d.menu(c.Actor))
	}
	return nil
}

func (d *Desk) proxy(ctx context.Context, c *fsm.Call) error {
	err := d.bridge.Proxy(ctx, c.Actor, c.Batch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dialog.ErrNoLink):
		// The state outlived its link.
		c.Done()
		d.say(ctx, c.Actor, "dialog.left", d.menu(c.Actor))
		return nil
	case errors.Is(err, dialog.ErrUnsupported):
		return fsm.Invalid("common.unsupported")
	case errors.Is(err, dialog.ErrUndeliverable):
		d.say(ctx, c.Actor, "common.delivery_failed", nil)
		return nil
	}
	return err
}
