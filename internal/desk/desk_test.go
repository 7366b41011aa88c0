package desk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/olymp-desk/internal/access"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
	"github.com/2389/olymp-desk/internal/texts"
)

const (
	superuser   chat.ActorID = 1
	staffer     chat.ActorID = 7
	otherStaff  chat.ActorID = 8
	participant chat.ActorID = 42
	bystander   chat.ActorID = 43
)

var handles = map[chat.ActorID]string{
	superuser:   "architect",
	staffer:     "boss",
	otherStaff:  "helper",
	participant: "pupil",
	bystander:   "other",
}

type harness struct {
	t      *testing.T
	desk   *Desk
	store  *store.MockStore
	roster *access.Roster
	out    *chat.Recorder
	texts  *texts.Catalog
	seq    int
}

type harnessOption func(*Options)

func withAgreement(path string) harnessOption {
	return func(o *Options) { o.AgreementPath = path }
}

func withAlbumWindow(d time.Duration) harnessOption {
	return func(o *Options) { o.AlbumWindow = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  store.NewMockStore(),
		roster: access.NewRoster(superuser, staffer, otherStaff),
		out:    chat.NewRecorder(),
		texts:  texts.Default(),
	}
	o := Options{
		Profiles:          h.store,
		Roster:            h.roster,
		Out:               h.out,
		Texts:             h.texts,
		Credentials:       CredentialGenerator(bcrypt.MinCost),
		BroadcastInterval: -1,
		AlbumWindow:       20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	d, err := New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	h.desk = d
	return h
}

// register stores a profile for the actor directly.
func (h *harness) register(actor chat.ActorID) *store.Profile {
	h.t.Helper()
	p := &store.Profile{
		ExternalID: actor,
		Handle:     handles[actor],
		FullName:   "Участник " + handles[actor],
		Login:      "user" + actor.String(),
		Password:   "secret" + actor.String(),
	}
	h.store.Put(p)
	got, err := h.store.FindByExternalID(context.Background(), actor)
	require.NoError(h.t, err)
	return got
}

func (h *harness) dispatch(ev chat.Event) {
	h.seq++
	ev.ID = fmt.Sprintf("ev%d", h.seq)
	ev.Handle = handles[ev.Actor]
	h.desk.Dispatch(context.Background(), ev)
	h.desk.Wait()
}

func (h *harness) text(actor chat.ActorID, body string) {
	h.dispatch(chat.Event{Actor: actor, Kind: chat.KindText, Text: body})
}

func (h *harness) action(actor chat.ActorID, id string) {
	h.dispatch(chat.Event{Actor: actor, Kind: ActionKind(id), Action: id})
}

func (h *harness) photo(actor chat.ActorID, ref, caption string) {
	h.dispatch(chat.Event{
		Actor: actor,
		Kind:  chat.KindMedia,
		Text:  caption,
		Media: &chat.Media{Kind: chat.MediaPhoto, Ref: ref},
	})
}

// album submits every fragment before waiting, like a burst upload.
func (h *harness) album(actor chat.ActorID, group, caption string, refs ...string) {
	for i, ref := range refs {
		ev := chat.Event{
			Actor:   actor,
			Handle:  handles[actor],
			Kind:    chat.KindMedia,
			GroupID: group,
			Media:   &chat.Media{Kind: chat.MediaPhoto, Ref: ref},
		}
		if i == 0 {
			ev.Text = caption
		}
		h.desk.Dispatch(context.Background(), ev)
	}
	h.desk.Wait()
}

func (h *harness) tag(actor chat.ActorID) session.Tag {
	return h.desk.States().Tag(actor)
}

func (h *harness) last(actor chat.ActorID) chat.Sent {
	h.t.Helper()
	s, ok := h.out.Last(actor)
	require.True(h.t, ok, "nothing sent to %s", actor)
	return s
}

// lastSays asserts the last message to actor is the catalog text for key.
func (h *harness) lastSays(actor chat.ActorID, key string, args ...any) {
	h.t.Helper()
	assert.Equal(h.t, h.texts.Get(key, args...), h.last(actor).Text.Body)
}

func actionIDs(actions []chat.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestFlowTablesValidate(t *testing.T) {
	h := newHarness(t)
	m := h.desk.Machine()
	require.NoError(t, m.Validate([]session.Tag{session.None}, dialog.ParticipantTag, dialog.StaffTag))

	for _, tag := range []session.Tag{
		regFullName, regPhone, regPlace, regSchool, regGrade, regEmail, regAgreement, regConfirm,
		supportWaiting, reportOffender, reportDescription, reportProof, replyWaiting,
		"search.method", "search.by_id", "search.by_handle",
		"ban.method", "ban.by_id", "ban.by_handle", banReason, banProof,
		"unban.method", "promote.by_handle", "demote.by_id",
		broadcastWaiting, dialog.StaffTag, dialog.ParticipantTag,
	} {
		assert.True(t, m.Handles(tag), "no steps from %q", tag)
	}
}

func TestActionKind(t *testing.T) {
	assert.Equal(t, chat.KindCommand, ActionKind("home"))
	assert.Equal(t, chat.KindCommand, ActionKind("register"))
	assert.Equal(t, chat.KindCommand, ActionKind("END_DIALOG"))
	assert.Equal(t, chat.KindCallback, ActionKind("banned_appeal"))
	assert.Equal(t, chat.KindCallback, ActionKind("reply_42"))
	assert.Equal(t, chat.KindCallback, ActionKind("grade_3"))
}

func TestStart_ShowsMenuByRole(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "start")
	h.lastSays(participant, "common.welcome")
	assert.Equal(t, []string{"register", "get_creds", "contact"}, actionIDs(h.last(participant).Text.Actions))

	h.action(staffer, "start")
	assert.Contains(t, actionIDs(h.last(staffer).Text.Actions), "admin_panel")
	assert.NotContains(t, actionIDs(h.last(staffer).Text.Actions), "architect_panel")

	h.action(superuser, "start")
	assert.Contains(t, actionIDs(h.last(superuser).Text.Actions), "architect_panel")
}

func TestHome_ClearsAnyFlow(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "register")
	require.Equal(t, regFullName, h.tag(participant))

	h.action(participant, "home")
	assert.Equal(t, session.None, h.tag(participant))
	h.lastSays(participant, "common.home")
}

func TestPanels_RequireRole(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "admin_panel")
	h.lastSays(participant, "common.not_allowed")

	h.action(staffer, "admin_panel")
	h.lastSays(staffer, "panel.admin")
	assert.Equal(t, adminMenu(), actionIDs(h.last(staffer).Text.Actions))

	h.action(staffer, "architect_panel")
	h.lastSays(staffer, "common.not_allowed")

	h.action(superuser, "architect_panel")
	h.lastSays(superuser, "panel.architect")
}

func TestPanels_ClearState(t *testing.T) {
	h := newHarness(t)

	h.action(staffer, "ban")
	require.Equal(t, session.Tag("ban.method"), h.tag(staffer))

	h.action(staffer, "admin_panel")
	assert.Equal(t, session.None, h.tag(staffer))
}

func TestFallback_UnknownInput(t *testing.T) {
	h := newHarness(t)

	h.text(participant, "привет")
	h.lastSays(participant, "common.unknown")
	assert.Equal(t, []string{"register", "get_creds", "contact"}, actionIDs(h.last(participant).Text.Actions))
}

func TestEntryActionRestartsFlow(t *testing.T) {
	h := newHarness(t)
	h.register(participant)

	h.action(participant, "report_violation")
	require.Equal(t, reportOffender, h.tag(participant))

	h.action(participant, "contact_support")
	assert.Equal(t, supportWaiting, h.tag(participant))
}

func TestCredentials(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "get_creds")
	h.lastSays(participant, "creds.not_registered")

	p := h.register(participant)
	h.action(participant, "get_creds")
	h.lastSays(participant, "creds.show", p.Login, p.Password)
}

func TestContact_RequiresRegistration(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "contact")
	h.lastSays(participant, "contact.denied")

	h.action(participant, "contact_support")
	h.lastSays(participant, "contact.denied")
	assert.Equal(t, session.None, h.tag(participant))

	h.register(participant)
	h.action(participant, "contact")
	h.lastSays(participant, "contact.choose")
	assert.Equal(t, []string{"report_violation", "contact_support", "home"}, actionIDs(h.last(participant).Text.Actions))
}

func TestPromptsAreReplaced(t *testing.T) {
	h := newHarness(t)

	h.action(participant, "register")
	first := h.last(participant).Ref
	h.text(participant, "Иванов Иван")

	assert.Contains(t, h.out.Deleted(participant), first)
}
