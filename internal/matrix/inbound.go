// ABOUTME: Inbound side of the Matrix transport: sync loop and event conversion
// ABOUTME: Turns room messages into chat.Event, auto-joins invites, groups media bursts

package matrix

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"

	"github.com/2389/olymp-desk/internal/chat"
)

// actionPrefix marks a text message as an action: "!register", "!reply_42".
const actionPrefix = "!"

// Run registers the transport's handlers on the client's syncer and syncs
// until ctx is cancelled. Events from before startup are skipped.
func (t *Transport) Run(ctx context.Context, client *mautrix.Client, d Dispatcher) error {
	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		t.HandleMessage(ctx, evt, d)
	})
	syncer.OnEventType(event.StateMember, t.HandleMember)

	t.logger.Info("syncing", "user_id", t.self)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// HandleMember joins rooms the bot is invited to. Participants start by
// opening a direct chat with the bot.
func (t *Transport) HandleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != t.self.String() {
		return
	}
	if err := parse(evt); err != nil {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if _, err := t.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		t.logger.Warn("failed to join room", "room", evt.RoomID, "inviter", evt.Sender, "error", err)
		return
	}
	t.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// HandleMessage converts one room message and hands it to d. Own echoes,
// redelivered events and unsupported message types are dropped.
func (t *Transport) HandleMessage(ctx context.Context, evt *event.Event, d Dispatcher) {
	if evt.Sender == t.self {
		return
	}
	if t.seen.Seen(evt.ID.String()) {
		t.logger.Debug("dropping redelivered event", "event_id", evt.ID)
		return
	}
	if err := parse(evt); err != nil {
		t.logger.Debug("unparseable message", "event_id", evt.ID, "error", err)
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	ev, ok, err := t.convert(ctx, evt, content)
	if err != nil {
		t.logger.Error("failed to convert message", "event_id", evt.ID, "sender", evt.Sender, "error", err)
		return
	}
	if !ok {
		t.logger.Debug("ignoring message type", "msgtype", content.MsgType)
		return
	}
	d.Dispatch(ctx, ev)
}

func (t *Transport) convert(ctx context.Context, evt *event.Event, content *event.MessageEventContent) (chat.Event, bool, error) {
	actor, err := t.directory.ResolveActor(ctx, TransportName, evt.Sender.String(), evt.RoomID.String())
	if err != nil {
		return chat.Event{}, false, fmt.Errorf("resolving %s: %w", evt.Sender, err)
	}
	localpart, _, _ := evt.Sender.Parse()

	ev := chat.Event{
		ID:     evt.ID.String(),
		Actor:  actor,
		Handle: localpart,
		Ref:    chat.MessageRef(evt.ID),
	}

	switch content.MsgType {
	case event.MsgText, event.MsgEmote:
		if action, ok := parseAction(content.Body); ok {
			ev.Kind = t.classify(action)
			ev.Action = action
		} else {
			ev.Kind = chat.KindText
			ev.Text = content.Body
		}
	case event.MsgImage, event.MsgVideo, event.MsgFile:
		media, err := t.inboundMedia(ctx, content)
		if err != nil {
			return chat.Event{}, false, err
		}
		ev.Kind = chat.KindMedia
		ev.Media = media
		ev.Text = caption(content)
		ev.GroupID = t.burstID(actor)
	default:
		return chat.Event{}, false, nil
	}
	return ev, true, nil
}

// inboundMedia references a plain upload by its mxc URI. Encrypted
// attachments are downloaded and decrypted so they can be re-uploaded in
// the clear to whichever room they are relayed to.
func (t *Transport) inboundMedia(ctx context.Context, content *event.MessageEventContent) (*chat.Media, error) {
	m := &chat.Media{
		Kind: mediaKind(content.MsgType),
		Name: fileName(content),
	}
	if content.Info != nil {
		m.MimeType = content.Info.MimeType
	}

	if content.File == nil {
		m.Ref = string(content.URL)
		return m, nil
	}

	uri, err := content.File.URL.Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing attachment url: %w", err)
	}
	data, err := t.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	if err := content.File.DecryptInPlace(data); err != nil {
		return nil, fmt.Errorf("decrypting attachment: %w", err)
	}
	m.Data = data
	return m, nil
}

// burstID gives media from one sender a shared group id so the aggregation
// buffer treats them as one album. A burst ends once its first fragment is
// a window old, since the buffer has flushed that group by then.
func (t *Transport) burstID(actor chat.ActorID) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.bursts[actor]
	if !ok || now.Sub(b.start) >= t.window {
		b = burst{id: uuid.NewString(), start: now}
		t.bursts[actor] = b
	}

	for other, ob := range t.bursts {
		if now.Sub(ob.start) >= t.window {
			delete(t.bursts, other)
		}
	}
	return b.id
}

// parseAction extracts the action id from "!id" text. Anything after the
// first word is ignored.
func parseAction(body string) (string, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, actionPrefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(body, actionPrefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// caption returns the user-written text of a media message. Clients put it
// in body when filename carries the file name.
func caption(content *event.MessageEventContent) string {
	if content.FileName != "" && content.Body != content.FileName {
		return content.Body
	}
	return ""
}

func fileName(content *event.MessageEventContent) string {
	if content.FileName != "" {
		return content.FileName
	}
	return content.Body
}

func mediaKind(t event.MessageType) chat.MediaKind {
	switch t {
	case event.MsgImage:
		return chat.MediaPhoto
	case event.MsgVideo:
		return chat.MediaVideo
	default:
		return chat.MediaDocument
	}
}

func parse(evt *event.Event) error {
	if evt.Content.Parsed != nil {
		return nil
	}
	return evt.Content.ParseRaw(evt.Type)
}
