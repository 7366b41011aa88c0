package desk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/olymp-desk/internal/access"
	"github.com/2389/olymp-desk/internal/aggregate"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dialog"
	"github.com/2389/olymp-desk/internal/session"
)

// openDialog links staff with participant through the search flow.
func openDialog(t *testing.T, h *harness) {
	t.Helper()
	h.action(staffer, "dialog")
	h.action(staffer, "search_by_username")
	h.text(staffer, "@pupil")
	require.Equal(t, dialog.StaffTag, h.tag(staffer))
	require.Equal(t, dialog.ParticipantTag, h.tag(participant))
}

func TestDialog_OpenProxyEnd(t *testing.T) {
	h := newHarness(t)
	h.register(participant)

	openDialog(t, h)
	h.lastSays(staffer, "dialog.started", "@pupil")
	assert.Equal(t, []string{"end_dialog"}, actionIDs(h.last(staffer).Text.Actions))
	assert.True(t, h.out.Contains(participant, h.texts.Get("dialog.connected")))

	st, _ := h.desk.States().Get(staffer)
	partner, ok := st.Data.Actor(dialog.PartnerKey)
	require.True(t, ok)
	assert.Equal(t, participant, partner)

	h.text(staffer, "Здравствуйте")
	assert.Equal(t, h.texts.Get("dialog.header_staff")+"\nЗдравствуйте", h.last(participant).Text.Body)

	h.text(participant, "Добрый день")
	assert.Equal(t, h.texts.Get("dialog.header_participant", "@pupil")+"\nДобрый день", h.last(staffer).Text.Body)

	h.album(participant, "g1", "скрины", "mxc://a", "mxc://b")
	got := h.last(staffer)
	assert.Equal(t, "batch", got.Op)
	assert.Len(t, got.Media, 2)

	h.action(staffer, "end_dialog")
	assert.Equal(t, session.None, h.tag(staffer))
	assert.Equal(t, session.None, h.tag(participant))
	assert.False(t, h.desk.Bridge().Linked(participant))
	h.lastSays(staffer, "dialog.ended")
	h.lastSays(participant, "dialog.closed_by_staff")
}

func TestDialog_PausedAlbumRelayedOnce(t *testing.T) {
	h := newHarness(t, withAlbumWindow(aggregate.DefaultWindow))
	h.register(participant)
	openDialog(t, h)
	h.out.Reset()

	ctx := context.Background()
	for i, ref := range []string{"mxc://a", "mxc://b"} {
		if i > 0 {
			time.Sleep(aggregate.DefaultWindow * 3 / 5)
		}
		h.desk.Dispatch(ctx, chat.Event{
			Actor:   participant,
			Handle:  "pupil",
			Kind:    chat.KindMedia,
			GroupID: "g1",
			Media:   &chat.Media{Kind: chat.MediaPhoto, Ref: ref},
		})
	}
	h.desk.Wait()

	sends := h.out.To(staffer)
	require.Len(t, sends, 1)
	assert.Equal(t, "batch", sends[0].Op)
	assert.Len(t, sends[0].Media, 2)
	assert.Equal(t, h.texts.Get("dialog.header_participant", "@pupil"), sends[0].Text.Body)
}

func TestDialog_SearchConflicts(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	openDialog(t, h)

	h.action(otherStaff, "dialog")
	h.action(otherStaff, "search_by_id")
	h.text(otherStaff, "42")
	h.lastSays(otherStaff, "dialog.busy", "@pupil")
	assert.Equal(t, session.None, h.tag(otherStaff))
	assert.Equal(t, dialog.StaffTag, h.tag(staffer), "existing link untouched")

	h.action(otherStaff, "dialog")
	h.action(otherStaff, "search_by_id")
	h.text(otherStaff, "77")
	h.lastSays(otherStaff, "common.not_found")
	assert.Equal(t, session.Tag("search.by_id"), h.tag(otherStaff))
}

func TestDialog_EntryActionsRefusedInside(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	openDialog(t, h)

	h.action(staffer, "ban")
	h.lastSays(staffer, "common.finish_dialog_first")
	assert.Equal(t, dialog.StaffTag, h.tag(staffer))

	h.action(participant, "contact")
	h.lastSays(participant, "common.finish_dialog_first")
	assert.True(t, h.desk.Bridge().Linked(participant))
}

func TestDialog_HomeFromParticipantSide(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	openDialog(t, h)

	h.action(participant, "home")
	assert.Equal(t, session.None, h.tag(staffer))
	assert.Equal(t, session.None, h.tag(participant))
	h.lastSays(staffer, "dialog.closed_by_participant")
	h.lastSays(participant, "common.home")
}

func TestDialog_BannedParticipantKeepsTalking(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	openDialog(t, h)
	h.roster.Ban(participant)

	h.text(participant, "можно вопрос")
	assert.Equal(t, h.texts.Get("dialog.header_participant", "@pupil")+"\nможно вопрос", h.last(staffer).Text.Body)

	h.action(participant, "register")
	h.lastSays(participant, access.NoticeBannedInDialog)
	h.action(participant, "report_violation")
	h.lastSays(participant, access.NoticeBannedInDialog)
	assert.True(t, h.desk.Bridge().Linked(participant))

	h.action(participant, "home")
	assert.False(t, h.desk.Bridge().Linked(participant))
}

func TestDialog_UndeliverablePartner(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	openDialog(t, h)
	h.out.Block(participant)

	h.text(staffer, "вы тут?")
	h.lastSays(staffer, "common.delivery_failed")
	assert.Equal(t, dialog.StaffTag, h.tag(staffer), "delivery failure keeps the dialog")
}

func TestDialog_StaleStateWithoutLink(t *testing.T) {
	h := newHarness(t)
	h.desk.States().Set(staffer, dialog.StaffTag)

	h.text(staffer, "кто-нибудь?")
	assert.Equal(t, session.None, h.tag(staffer))
	h.lastSays(staffer, "dialog.left")
}

func TestDialog_RequiresStaff(t *testing.T) {
	h := newHarness(t)
	h.register(bystander)

	h.action(bystander, "dialog")
	h.lastSays(bystander, "common.not_allowed")
	assert.Equal(t, session.None, h.tag(bystander))
}
