// ABOUTME: Stateless participant actions: show credentials and the contact menu
// ABOUTME: Both require an existing profile

package desk

import (
	"context"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
)

func (d *Desk) accountSteps() []fsm.Step {
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: "get_creds", Run: d.showCredentials},
		{From: session.None, On: chat.KindAny, Action: "contact", Run: d.openContact},
	}
}

func (d *Desk) showCredentials(ctx context.Context, c *fsm.Call) error {
	p, found, err := d.profile(ctx, c.Actor)
	if err != nil {
		return err
	}
	if !found {
		d.say(ctx, c.Actor, "creds.not_registered", []string{"register"})
		return nil
	}
	d.say(ctx, c.Actor, "creds.show", nil, p.Login, p.Password)
	return nil
}

func (d *Desk) openContact(ctx context.Context, c *fsm.Call) error {
	_, found, err := d.profile(ctx, c.Actor)
	if err != nil {
		return err
	}
	if !found {
		d.say(ctx, c.Actor, "contact.denied", []string{"register"})
		return nil
	}
	d.say(ctx, c.Actor, "contact.choose", []string{"report_violation", "contact_support", "home"})
	return nil
}

// requireProfile refuses participant-only flows to unregistered actors.
func (d *Desk) requireProfile(ctx context.Context, c *fsm.Call) (bool, error) {
	_, found, err := d.profile(ctx, c.Actor)
	if err != nil {
		return false, err
	}
	if !found {
		d.say(ctx, c.Actor, "contact.denied", []string{"register"})
		c.Done()
	}
	return found, nil
}
