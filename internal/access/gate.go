// ABOUTME: Access control gate applied to every inbound event before aggregation
// ABOUTME: Lets banned actors keep talking inside a staff dialog and appeal otherwise

package access

import (
	"log/slog"

	"github.com/2389/olymp-desk/internal/chat"
)

// AppealAction is the one callback a banned actor outside a dialog may use.
const AppealAction = "banned_appeal"

// Notice keys resolved against the message catalog.
const (
	NoticeBanned         = "banned.explain"
	NoticeBannedCallback = "banned.callback"
	NoticeBannedInDialog = "banned.in_dialog"
)

// DefaultDenyList is the set of menu commands a banned actor may not use
// while inside a dialog. Navigation home stays available so the actor can
// leave.
var DefaultDenyList = []string{
	"start_menu",
	"register",
	"get_creds",
	"contact",
	"contact_support",
	"report_violation",
	"admin_panel",
	"architect_panel",
	"dialog",
	"broadcast",
	"export",
	"ban",
	"unban",
	"promote",
	"demote",
	"send_creds",
}

// Decision is the outcome of a gate check.
type Decision int

const (
	Allow Decision = iota
	DenySilent
	DenyNotice
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenySilent:
		return "deny-silent"
	case DenyNotice:
		return "deny-notice"
	}
	return "unknown"
}

// Verdict is a decision plus the notice to show for DenyNotice.
type Verdict struct {
	Decision Decision
	Notice   string
	Actions  []chat.Action
}

// Allowed reports whether the event may proceed.
func (v Verdict) Allowed() bool {
	return v.Decision == Allow
}

// LinkChecker reports whether an actor is inside a live dialog.
type LinkChecker interface {
	Linked(actor chat.ActorID) bool
}

// Gate applies the ban policy to inbound events.
type Gate struct {
	roster *Roster
	links  LinkChecker
	deny   map[string]bool
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDenyList replaces the in-dialog command deny-list.
func WithDenyList(actions ...string) GateOption {
	return func(g *Gate) {
		g.deny = make(map[string]bool, len(actions))
		for _, a := range actions {
			g.deny[a] = true
		}
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a gate over the roster and the dialog link table.
func NewGate(roster *Roster, links LinkChecker, opts ...GateOption) *Gate {
	g := &Gate{
		roster: roster,
		links:  links,
		logger: slog.Default(),
	}
	WithDenyList(DefaultDenyList...)(g)
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gate")
	return g
}

// Check decides whether ev may proceed.
func (g *Gate) Check(ev chat.Event) Verdict {
	v := g.check(ev)
	if !v.Allowed() {
		g.logger.Debug("event denied", "actor", ev.Actor, "kind", ev.Kind, "action", ev.Action, "decision", v.Decision)
	}
	return v
}

func (g *Gate) check(ev chat.Event) Verdict {
	if ev.Actor == 0 || !g.roster.IsBanned(ev.Actor) {
		return Verdict{Decision: Allow}
	}

	if g.links != nil && g.links.Linked(ev.Actor) {
		switch ev.Kind {
		case chat.KindText:
			return Verdict{Decision: Allow}
		case chat.KindMedia:
			if ev.Media != nil && (ev.Media.Kind == chat.MediaPhoto || ev.Media.Kind == chat.MediaDocument) {
				return Verdict{Decision: Allow}
			}
			return Verdict{Decision: DenySilent}
		case chat.KindCommand:
			if g.deny[ev.Action] {
				return Verdict{Decision: DenyNotice, Notice: NoticeBannedInDialog}
			}
			return Verdict{Decision: Allow}
		case chat.KindCallback:
			return Verdict{Decision: DenyNotice, Notice: NoticeBannedInDialog}
		}
		return Verdict{Decision: DenySilent}
	}

	switch ev.Kind {
	case chat.KindCallback:
		if ev.Action == AppealAction {
			return Verdict{Decision: Allow}
		}
		return Verdict{Decision: DenyNotice, Notice: NoticeBannedCallback}
	case chat.KindText, chat.KindMedia, chat.KindCommand:
		return Verdict{
			Decision: DenyNotice,
			Notice:   NoticeBanned,
			Actions:  []chat.Action{{ID: AppealAction}},
		}
	}
	return Verdict{Decision: DenySilent}
}
