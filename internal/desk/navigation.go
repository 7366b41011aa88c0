// ABOUTME: Global navigation actions, menus and the flow re-entry policy
// ABOUTME: Home and back always tear down any dialog and clear the actor's state

package desk

import (
	"context"
	"strings"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/dispatch"
	"github.com/2389/olymp-desk/internal/session"
)

// Data keys shared across flows.
const (
	promptKey = "prompt"
	targetKey = "target"
)

// Actions typed as menu commands. Every other action id is a callback
// attached to a specific message.
var commands = map[string]bool{
	"start":           true,
	"home":            true,
	"back":            true,
	"register":        true,
	"get_creds":       true,
	"contact":         true,
	"admin_panel":     true,
	"architect_panel": true,
	"agreement_doc":   true,
	"accept":          true,
	"confirm":         true,
	"broadcast":       true,
	"dialog":          true,
	"ban":             true,
	"unban":           true,
	"export":          true,
	"end_dialog":      true,
	"promote":         true,
	"demote":          true,
	"send_creds":      true,
}

// ActionKind classifies an action id for transports that cannot tell menu
// commands from message callbacks.
func ActionKind(id string) chat.Kind {
	if commands[strings.ToLower(id)] {
		return chat.KindCommand
	}
	return chat.KindCallback
}

func (d *Desk) globals() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"start":           d.navigate("common.welcome"),
		"home":            d.navigate("common.home"),
		"back":            d.navigate("common.back"),
		"admin_panel":     d.adminPanel,
		"architect_panel": d.architectPanel,
	}
}

// menu returns the main menu actions for the actor.
func (d *Desk) menu(actor chat.ActorID) []string {
	ids := []string{"register", "get_creds", "contact"}
	if d.roster.IsStaff(actor) {
		ids = append(ids, "admin_panel")
	}
	if d.roster.IsSuperuser(actor) {
		ids = append(ids, "architect_panel")
	}
	return ids
}

func adminMenu() []string {
	return []string{"broadcast", "dialog", "ban", "unban", "export", "home"}
}

func architectMenu() []string {
	return []string{"promote", "demote", "send_creds", "export", "home"}
}

// reset closes the actor's dialog, if any, and clears their state.
func (d *Desk) reset(ctx context.Context, actor chat.ActorID) {
	d.bridge.Close(ctx, actor)
	d.states.Clear(actor)
}

func (d *Desk) navigate(key string) dispatch.Handler {
	return func(ctx context.Context, batch chat.Batch) error {
		actor := batch.First().Actor
		d.reset(ctx, actor)
		d.say(ctx, actor, key, d.menu(actor))
		return nil
	}
}

func (d *Desk) adminPanel(ctx context.Context, batch chat.Batch) error {
	actor := batch.First().Actor
	if err := d.requireStaff(actor); err != nil {
		return err
	}
	d.reset(ctx, actor)
	d.say(ctx, actor, "panel.admin", adminMenu())
	return nil
}

func (d *Desk) architectPanel(ctx context.Context, batch chat.Batch) error {
	actor := batch.First().Actor
	if err := d.requireSuperuser(actor); err != nil {
		return err
	}
	d.reset(ctx, actor)
	d.say(ctx, actor, "panel.architect", architectMenu())
	return nil
}

// reenter refuses to restart a flow over a live dialog. Leaving a dialog
// takes an explicit home or end_dialog.
func (d *Desk) reenter(ctx context.Context, actor chat.ActorID, from session.Tag) bool {
	if from == dialog.ParticipantTag || from == dialog.StaffTag {
		d.say(ctx, actor, "common.finish_dialog_first", nil)
		return false
	}
	return true
}

func (d *Desk) fallback(ctx context.Context, batch chat.Batch) error {
	actor := batch.First().Actor
	if d.states.Tag(actor) != session.None {
		d.say(ctx, actor, "common.unknown", []string{"home"})
		return nil
	}
	d.say(ctx, actor, "common.unknown", d.menu(actor))
	return nil
}
