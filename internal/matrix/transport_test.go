package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/olymp-desk/internal/aggregate"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/store"
)

const (
	botID  = id.UserID("@desk:example.org")
	pupil  = id.UserID("@pupil:example.org")
	dmRoom = id.RoomID("!dm:example.org")
)

type sentEvent struct {
	room    id.RoomID
	content *event.MessageEventContent
}

type fakeClient struct {
	mu       sync.Mutex
	sent     []sentEvent
	redacted []id.EventID
	uploads  [][]byte
	joined   []id.RoomID
	sendErr  error
	download []byte
}

func (f *fakeClient) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentEvent{room: roomID, content: contentJSON.(*event.MessageEventContent)})
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$out%d", len(f.sent)))}, nil
}

func (f *fakeClient) RedactEvent(_ context.Context, _ id.RoomID, eventID id.EventID, _ ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redacted = append(f.redacted, eventID)
	return &mautrix.RespSendEvent{}, nil
}

func (f *fakeClient) UploadBytes(_ context.Context, data []byte, _ string) (*mautrix.RespMediaUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, data)
	return &mautrix.RespMediaUpload{ContentURI: id.ContentURI{Homeserver: "example.org", FileID: fmt.Sprintf("up%d", len(f.uploads))}}, nil
}

func (f *fakeClient) DownloadBytes(context.Context, id.ContentURI) ([]byte, error) {
	return f.download, nil
}

func (f *fakeClient) JoinRoomByID(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return &mautrix.RespJoinRoom{RoomID: roomID}, nil
}

type collector struct {
	events []chat.Event
}

func (c *collector) Dispatch(_ context.Context, ev chat.Event) {
	c.events = append(c.events, ev)
}

type fixture struct {
	t      *Transport
	client *fakeClient
	dir    *store.MockStore
	in     *collector
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{client: &fakeClient{}, dir: store.NewMockStore(), in: &collector{}}
	tr, err := New(Options{
		Client:    f.client,
		Self:      botID,
		Directory: f.dir,
		Classify: func(action string) chat.Kind {
			if strings.HasPrefix(action, "reply_") {
				return chat.KindCallback
			}
			return chat.KindCommand
		},
		AlbumWindow: time.Second,
	})
	require.NoError(t, err)
	f.clock = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return f.clock }
	f.t = tr
	return f
}

var eventSeq int

func message(sender id.UserID, content *event.MessageEventContent) *event.Event {
	eventSeq++
	return &event.Event{
		ID:      id.EventID(fmt.Sprintf("$in%d", eventSeq)),
		Sender:  sender,
		RoomID:  dmRoom,
		Type:    event.EventMessage,
		Content: event.Content{Parsed: content},
	}
}

func (f *fixture) receive(evt *event.Event) {
	f.t.HandleMessage(context.Background(), evt, f.in)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Self: botID, Directory: store.NewMockStore()})
	assert.Error(t, err)
	_, err = New(Options{Client: &fakeClient{}, Directory: store.NewMockStore()})
	assert.Error(t, err)
	_, err = New(Options{Client: &fakeClient{}, Self: botID})
	assert.Error(t, err)
}

func TestInbound_TextAndActions(t *testing.T) {
	f := newFixture(t)

	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgText, Body: "Иванов Иван"}))
	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgText, Body: "  !Register please"}))
	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgText, Body: "!reply_42"}))
	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgText, Body: "!"}))

	require.Len(t, f.in.events, 4)
	text := f.in.events[0]
	assert.Equal(t, chat.KindText, text.Kind)
	assert.Equal(t, "Иванов Иван", text.Text)
	assert.Equal(t, chat.ActorID(1), text.Actor)
	assert.Equal(t, "pupil", text.Handle)
	assert.Equal(t, chat.MessageRef(text.ID), text.Ref)

	assert.Equal(t, chat.KindCommand, f.in.events[1].Kind)
	assert.Equal(t, "register", f.in.events[1].Action)
	assert.Equal(t, chat.KindCallback, f.in.events[2].Kind)
	assert.Equal(t, "reply_42", f.in.events[2].Action)
	assert.Equal(t, chat.KindText, f.in.events[3].Kind, "bare prefix is text")

	user, room, err := f.dir.LookupActor(context.Background(), TransportName, 1)
	require.NoError(t, err)
	assert.Equal(t, pupil.String(), user)
	assert.Equal(t, dmRoom.String(), room)
}

func TestInbound_DropsOwnEchoAndRedelivery(t *testing.T) {
	f := newFixture(t)

	f.receive(message(botID, &event.MessageEventContent{MsgType: event.MsgText, Body: "echo"}))
	evt := message(pupil, &event.MessageEventContent{MsgType: event.MsgText, Body: "once"})
	f.receive(evt)
	f.receive(evt)
	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgNotice, Body: "bot notice"}))

	require.Len(t, f.in.events, 1)
	assert.Equal(t, "once", f.in.events[0].Text)
}

func TestInbound_MediaBursts(t *testing.T) {
	f := newFixture(t)

	image := func(url, body, name string) *event.MessageEventContent {
		return &event.MessageEventContent{
			MsgType:  event.MsgImage,
			Body:     body,
			FileName: name,
			URL:      id.ContentURIString(url),
			Info:     &event.FileInfo{MimeType: "image/png"},
		}
	}

	f.receive(message(pupil, image("mxc://example.org/a", "скриншот ошибки", "a.png")))
	f.clock = f.clock.Add(400 * time.Millisecond)
	f.receive(message(pupil, image("mxc://example.org/b", "b.png", "b.png")))
	f.clock = f.clock.Add(3 * time.Second)
	f.receive(message(pupil, image("mxc://example.org/c", "c.png", "")))

	require.Len(t, f.in.events, 3)
	first, second, third := f.in.events[0], f.in.events[1], f.in.events[2]

	assert.Equal(t, chat.KindMedia, first.Kind)
	require.NotNil(t, first.Media)
	assert.Equal(t, chat.MediaPhoto, first.Media.Kind)
	assert.Equal(t, "mxc://example.org/a", first.Media.Ref)
	assert.Equal(t, "a.png", first.Media.Name)
	assert.Equal(t, "image/png", first.Media.MimeType)
	assert.Equal(t, "скриншот ошибки", first.Text)
	assert.Empty(t, second.Text, "file name is not a caption")

	assert.NotEmpty(t, first.GroupID)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.NotEqual(t, first.GroupID, third.GroupID, "pause starts a new burst")
	assert.Equal(t, "c.png", third.Media.Name)
}

func TestInbound_BurstEndsWithAlbumWindow(t *testing.T) {
	f := newFixture(t)
	f.t.window = aggregate.DefaultWindow

	photo := func(url string) *event.Event {
		return message(pupil, &event.MessageEventContent{MsgType: event.MsgImage, Body: "p.png", URL: id.ContentURIString(url)})
	}

	// Fragments keep arriving 350ms apart, but the buffer flushes the group
	// 500ms after the first one, so the third must start a new group.
	f.receive(photo("mxc://example.org/1"))
	f.clock = f.clock.Add(350 * time.Millisecond)
	f.receive(photo("mxc://example.org/2"))
	f.clock = f.clock.Add(350 * time.Millisecond)
	f.receive(photo("mxc://example.org/3"))

	require.Len(t, f.in.events, 3)
	assert.Equal(t, f.in.events[0].GroupID, f.in.events[1].GroupID)
	assert.NotEqual(t, f.in.events[0].GroupID, f.in.events[2].GroupID)
}

func TestNew_DefaultAlbumWindow(t *testing.T) {
	tr, err := New(Options{Client: &fakeClient{}, Self: botID, Directory: store.NewMockStore()})
	require.NoError(t, err)
	assert.Equal(t, aggregate.DefaultWindow, tr.window)
}

func TestInbound_FileKinds(t *testing.T) {
	f := newFixture(t)

	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgFile, Body: "proof.pdf", URL: "mxc://example.org/pdf"}))
	f.receive(message(pupil, &event.MessageEventContent{MsgType: event.MsgVideo, Body: "clip.mp4", URL: "mxc://example.org/vid"}))

	require.Len(t, f.in.events, 2)
	assert.Equal(t, chat.MediaDocument, f.in.events[0].Media.Kind)
	assert.Equal(t, chat.MediaVideo, f.in.events[1].Media.Kind)
}

func TestHandleMember_JoinsOwnInvites(t *testing.T) {
	f := newFixture(t)
	invite := func(target id.UserID, membership event.Membership) *event.Event {
		key := target.String()
		return &event.Event{
			Sender:   pupil,
			RoomID:   dmRoom,
			Type:     event.StateMember,
			StateKey: &key,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
		}
	}

	f.t.HandleMember(context.Background(), invite("@someone:example.org", event.MembershipInvite))
	f.t.HandleMember(context.Background(), invite(botID, event.MembershipLeave))
	f.t.HandleMember(context.Background(), invite(botID, event.MembershipInvite))

	assert.Equal(t, []id.RoomID{dmRoom}, f.client.joined)
}

func (f *fixture) knownActor(t *testing.T) chat.ActorID {
	t.Helper()
	actor, err := f.dir.ResolveActor(context.Background(), TransportName, pupil.String(), dmRoom.String())
	require.NoError(t, err)
	return actor
}

func TestSendText_MarkdownAndActions(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	ref, err := f.t.SendText(context.Background(), actor, chat.Markdown("*Главное меню*",
		chat.Action{ID: "register", Label: "Регистрация"},
		chat.Action{ID: "contact"},
	))
	require.NoError(t, err)
	assert.Equal(t, chat.MessageRef("$out1"), ref)

	require.Len(t, f.client.sent, 1)
	got := f.client.sent[0]
	assert.Equal(t, dmRoom, got.room)
	assert.Equal(t, event.MsgText, got.content.MsgType)
	assert.Equal(t, "*Главное меню*\n\n!register  Регистрация\n!contact", got.content.Body)
	assert.Equal(t, event.FormatHTML, got.content.Format)
	assert.Contains(t, got.content.FormattedBody, "<em>Главное меню</em>")
	assert.Contains(t, got.content.FormattedBody, "<code>!register</code> Регистрация")
}

func TestSendText_PlainStaysPlain(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	_, err := f.t.SendText(context.Background(), actor, chat.Plain("2*2 = 4 <b>"))
	require.NoError(t, err)

	got := f.client.sent[0].content
	assert.Equal(t, "2*2 = 4 <b>", got.Body)
	assert.Empty(t, got.Format)
	assert.Empty(t, got.FormattedBody)
}

func TestSendText_PlainWithActionsIsEscaped(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	_, err := f.t.SendText(context.Background(), actor, chat.Text{
		Body:    "a_b *c* <i>",
		Actions: []chat.Action{{ID: "home"}},
	})
	require.NoError(t, err)

	got := f.client.sent[0].content
	assert.NotContains(t, got.FormattedBody, "<em>")
	assert.NotContains(t, got.FormattedBody, "<i>")
	assert.Contains(t, got.FormattedBody, "<code>!home</code>")
}

func TestSend_Undeliverable(t *testing.T) {
	f := newFixture(t)

	_, err := f.t.SendText(context.Background(), 77, chat.Plain("hi"))
	assert.ErrorIs(t, err, chat.ErrUndeliverable, "unknown actor")

	actor := f.knownActor(t)
	f.client.sendErr = fmt.Errorf("send: %w", mautrix.MForbidden)
	_, err = f.t.SendText(context.Background(), actor, chat.Plain("hi"))
	assert.ErrorIs(t, err, chat.ErrUndeliverable)

	f.client.sendErr = errors.New("connection reset")
	_, err = f.t.SendText(context.Background(), actor, chat.Plain("hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, chat.ErrUndeliverable)
}

func TestSendMedia_UploadsData(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	doc := chat.Media{Kind: chat.MediaDocument, Name: "results.csv", MimeType: "text/csv", Data: []byte("a,b\n")}
	_, err := f.t.SendMedia(context.Background(), actor, doc, chat.Plain("Участников: 2"))
	require.NoError(t, err)

	require.Len(t, f.client.uploads, 1)
	got := f.client.sent[0].content
	assert.Equal(t, event.MsgFile, got.MsgType)
	assert.Equal(t, id.ContentURIString("mxc://example.org/up1"), got.URL)
	assert.Equal(t, "results.csv", got.FileName)
	assert.Equal(t, "Участников: 2", got.Body)
	require.NotNil(t, got.Info)
	assert.Equal(t, 4, got.Info.Size)
}

func TestSendMediaBatch_CaptionOnFirst(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	media := []chat.Media{
		{Kind: chat.MediaPhoto, Ref: "mxc://example.org/a"},
		{Kind: chat.MediaPhoto, Ref: "mxc://example.org/b"},
	}
	refs, err := f.t.SendMediaBatch(context.Background(), actor, media, chat.Plain("итоги"))
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Empty(t, f.client.uploads, "mxc refs are reused")

	require.Len(t, f.client.sent, 2)
	assert.Equal(t, "итоги", f.client.sent[0].content.Body)
	assert.Equal(t, "image", f.client.sent[1].content.Body)
	assert.Equal(t, id.ContentURIString("mxc://example.org/b"), f.client.sent[1].content.URL)
}

func TestDeleteMessage_Redacts(t *testing.T) {
	f := newFixture(t)
	actor := f.knownActor(t)

	require.NoError(t, f.t.DeleteMessage(context.Background(), actor, "$out9"))
	assert.Equal(t, []id.EventID{"$out9"}, f.client.redacted)
}

func TestStoreSlugAndPickleKey(t *testing.T) {
	assert.Equal(t, "desk_example.org", storeSlug("@desk:example.org"))
	assert.Equal(t, "weird_host", storeSlug("@we/ird:host"))
	assert.Len(t, pickleKey("@desk:example.org"), 32)
	assert.NotEqual(t, pickleKey("@a:x"), pickleKey("@b:x"))
}
