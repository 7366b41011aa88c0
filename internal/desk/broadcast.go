// ABOUTME: Staff broadcast and superuser credential redistribution to every profile
// ABOUTME: Sends are paced by the fanout sender and one failed recipient never stops the rest

package desk

import (
	"context"
	"fmt"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
)

const broadcastWaiting session.Tag = "broadcast.waiting"

func (d *Desk) broadcastSteps() []fsm.Step {
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: "broadcast", Next: broadcastWaiting, Run: d.startBroadcast},
		{From: broadcastWaiting, On: chat.KindText, Next: fsm.Done, Run: d.broadcast},
		{From: broadcastWaiting, On: chat.KindMedia, Next: fsm.Done, Run: d.broadcast},
		{From: session.None, On: chat.KindAny, Action: "send_creds", Run: d.sendCredentials},
	}
}

func (d *Desk) startBroadcast(ctx context.Context, c *fsm.Call) error {
	if err := d.requireStaff(c.Actor); err != nil {
		return err
	}
	d.prompt(ctx, c, "broadcast.prompt", []string{"home"})
	return nil
}

func (d *Desk) broadcast(ctx context.Context, c *fsm.Call) error {
	if c.Batch.Caption() == "" && len(c.Batch.Media()) == 0 {
		return fsm.Invalid("common.unsupported")
	}
	profiles, err := d.profiles.ListAll(ctx)
	if err != nil {
		return persistErr("list profiles", err)
	}
	recipients := make([]chat.ActorID, 0, len(profiles))
	for _, p := range profiles {
		recipients = append(recipients, p.ExternalID)
	}

	d.dropPrompt(ctx, c)
	d.say(ctx, c.Actor, "broadcast.started", nil, len(recipients))
	res, err := d.fanout.Send(ctx, recipients, func(ctx context.Context, to chat.ActorID) error {
		return dialog.Relay(ctx, d.out, to, "", c.Batch)
	})
	if err != nil {
		return fmt.Errorf("broadcast interrupted after %d sends: %w", res.Sent, err)
	}
	d.logger.Info("broadcast finished", "staff", c.Actor, "sent", res.Sent, "total", res.Total)
	d.say(ctx, c.Actor, "broadcast.finished", adminMenu(), res.Sent, res.Total)
	return nil
}

func (d *Desk) sendCredentials(ctx context.Context, c *fsm.Call) error {
	if err := d.requireSuperuser(c.Actor); err != nil {
		return err
	}
	profiles, err := d.profiles.ListAll(ctx)
	if err != nil {
		return persistErr("list profiles", err)
	}
	notices := make(map[chat.ActorID]chat.Text, len(profiles))
	recipients := make([]chat.ActorID, 0, len(profiles))
	for _, p := range profiles {
		if p.Login == "" {
			continue
		}
		notices[p.ExternalID] = d.texts.Markdown("creds.notice", nil, p.Login, p.Password)
		recipients = append(recipients, p.ExternalID)
	}

	d.say(ctx, c.Actor, "creds.started", nil)
	res, err := d.fanout.Send(ctx, recipients, func(ctx context.Context, to chat.ActorID) error {
		_, err := d.out.SendText(ctx, to, notices[to])
		return err
	})
	if err != nil {
		return fmt.Errorf("credential redistribution interrupted after %d sends: %w", res.Sent, err)
	}
	d.say(ctx, c.Actor, "creds.finished", architectMenu(), res.Sent, res.Total)
	return nil
}
