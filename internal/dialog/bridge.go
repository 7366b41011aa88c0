// ABOUTME: Dialog bridge between a participant and a staff member
// ABOUTME: Owns the link table, both sides' dialog state and the content relay

package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
	"github.com/2389/olymp-desk/internal/texts"
)

// Dialog state tags and data keys.
const (
	ParticipantTag session.Tag = "dialog.participant"
	StaffTag       session.Tag = "dialog.staff"
	PartnerKey                 = "partner"
)

var (
	// ErrConflict is returned by Open when either side is already linked.
	ErrConflict = errors.New("already in a dialog")
	// ErrNoLink is returned by Proxy when the sender has no partner.
	ErrNoLink = errors.New("no active dialog")
	// ErrUndeliverable is returned by Proxy when the partner could not be
	// reached.
	ErrUndeliverable = errors.New("partner unreachable")
	// ErrUnsupported is returned by Proxy for batches with nothing to relay.
	ErrUnsupported = errors.New("unsupported content")
)

// ProfileFinder is the part of the profile store Open needs.
type ProfileFinder interface {
	FindByExternalID(ctx context.Context, id chat.ActorID) (*store.Profile, error)
}

// Bridge holds every live dialog link.
type Bridge struct {
	mu            sync.Mutex
	byParticipant map[chat.ActorID]chat.ActorID // participant -> staff
	byStaff       map[chat.ActorID]chat.ActorID // staff -> participant

	states   *session.Store
	out      chat.Channel
	profiles ProfileFinder
	texts    *texts.Catalog
	logger   *slog.Logger
}

// NewBridge creates an empty bridge.
func NewBridge(states *session.Store, out chat.Channel, profiles ProfileFinder, catalog *texts.Catalog, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = texts.Default()
	}
	return &Bridge{
		byParticipant: make(map[chat.ActorID]chat.ActorID),
		byStaff:       make(map[chat.ActorID]chat.ActorID),
		states:        states,
		out:           out,
		profiles:      profiles,
		texts:         catalog,
		logger:        logger.With("component", "dialog"),
	}
}

// Open links participant with staff. It returns the participant's profile.
func (b *Bridge) Open(ctx context.Context, participant, staff chat.ActorID) (*store.Profile, error) {
	if participant == staff {
		return nil, ErrConflict
	}

	profile, err := b.profiles.FindByExternalID(ctx, participant)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.linkedLocked(participant) || b.linkedLocked(staff) {
		b.mu.Unlock()
		return nil, ErrConflict
	}
	b.byParticipant[participant] = staff
	b.byStaff[staff] = participant
	b.states.Update(participant, func(s *session.State) error {
		*s = session.State{Tag: ParticipantTag, Data: session.Data{PartnerKey: staff}}
		return nil
	})
	b.states.Update(staff, func(s *session.State) error {
		*s = session.State{Tag: StaffTag, Data: session.Data{PartnerKey: participant}}
		return nil
	})
	b.mu.Unlock()

	b.logger.Info("dialog opened", "participant", participant, "staff", staff)

	msg := chat.Text{
		Body:    b.texts.Get("dialog.connected"),
		Format:  chat.FormatMarkdown,
		Actions: b.texts.Actions("home"),
	}
	if _, err := b.out.SendText(ctx, participant, msg); err != nil {
		b.logger.Warn("failed to notify participant", "participant", participant, "error", err)
	}
	return profile, nil
}

// Close tears down the link the actor is part of, from either side. It
// reports whether a link existed.
func (b *Bridge) Close(ctx context.Context, actor chat.ActorID) bool {
	b.mu.Lock()
	participant, staff, ok := b.sidesLocked(actor)
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.byParticipant, participant)
	delete(b.byStaff, staff)
	b.states.Clear(participant)
	b.states.Clear(staff)
	b.mu.Unlock()

	b.logger.Info("dialog closed", "participant", participant, "staff", staff, "by", actor)

	other, key := participant, "dialog.closed_by_staff"
	if actor == participant {
		other, key = staff, "dialog.closed_by_participant"
	}
	if _, err := b.out.SendText(ctx, other, chat.Markdown(b.texts.Get(key))); err != nil {
		b.logger.Warn("failed to notify dialog partner", "actor", other, "error", err)
	}
	return true
}

// Partner returns the other side of the actor's link.
func (b *Bridge) Partner(actor chat.ActorID) (chat.ActorID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	participant, staff, ok := b.sidesLocked(actor)
	if !ok {
		return 0, false
	}
	if actor == participant {
		return staff, true
	}
	return participant, true
}

// Linked reports whether the actor is on either side of a link.
func (b *Bridge) Linked(actor chat.ActorID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.linkedLocked(actor)
}

// IsStaffSide reports whether the actor holds a link as the staff member.
func (b *Bridge) IsStaffSide(actor chat.ActorID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byStaff[actor]
	return ok
}

// Len returns the number of live links.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byParticipant)
}

func (b *Bridge) linkedLocked(actor chat.ActorID) bool {
	_, p := b.byParticipant[actor]
	_, s := b.byStaff[actor]
	return p || s
}

func (b *Bridge) sidesLocked(actor chat.ActorID) (participant, staff chat.ActorID, ok bool) {
	if s, ok := b.byParticipant[actor]; ok {
		return actor, s, true
	}
	if p, ok := b.byStaff[actor]; ok {
		return p, actor, true
	}
	return 0, 0, false
}

// Proxy relays batch from the sender to its partner behind a role header.
// An album is sent as one batch with the header on its first item only.
func (b *Bridge) Proxy(ctx context.Context, from chat.ActorID, batch chat.Batch) error {
	b.mu.Lock()
	participant, staff, ok := b.sidesLocked(from)
	b.mu.Unlock()
	if !ok {
		return ErrNoLink
	}

	to := participant
	header := b.texts.Get("dialog.header_staff")
	if from == participant {
		to = staff
		header = b.texts.Get("dialog.header_participant", batch.First().HandleLabel())
	}

	if err := Relay(ctx, b.out, to, header, batch); err != nil {
		if !errors.Is(err, ErrUnsupported) {
			b.logger.Warn("dialog relay failed", "from", from, "to", to, "error", err)
		}
		return err
	}
	return nil
}

// Relay re-sends the content of batch to one actor with header prepended
// to the caption. Albums go out as a single batch with the header on the
// first item. A blank header relays the content unchanged.
func Relay(ctx context.Context, out chat.Channel, to chat.ActorID, header string, batch chat.Batch) error {
	caption := chat.Markdown(joinHeader(header, batch.Caption()))
	media := batch.Media()

	var err error
	switch {
	case len(media) > 1:
		_, err = out.SendMediaBatch(ctx, to, media, caption)
	case len(media) == 1:
		_, err = out.SendMedia(ctx, to, media[0], caption)
	case batch.Caption() != "":
		_, err = out.SendText(ctx, to, caption)
	default:
		return ErrUnsupported
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUndeliverable, err)
	}
	return nil
}

func joinHeader(header, body string) string {
	switch {
	case strings.TrimSpace(body) == "":
		return header
	case header == "":
		return body
	}
	return header + "\n" + body
}
