// ABOUTME: Matrix transport for the desk: outbound chat.Channel over mautrix
// ABOUTME: Maps actor ids to direct rooms through the store's actor directory

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/olymp-desk/internal/aggregate"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/dedupe"
	"github.com/2389/olymp-desk/internal/store"
)

// TransportName keys Matrix users in the actor directory.
const TransportName = "matrix"

const (
	seenTTL  = 10 * time.Minute
	seenSize = 4096
)

// Client is the part of *mautrix.Client the transport calls.
type Client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	UploadBytes(ctx context.Context, data []byte, contentType string) (*mautrix.RespMediaUpload, error)
	DownloadBytes(ctx context.Context, mxcURL id.ContentURI) ([]byte, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Dispatcher receives converted inbound events. *desk.Desk implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chat.Event)
}

// Options configures a Transport.
type Options struct {
	Client    Client
	Self      id.UserID
	Directory store.Directory
	// Classify maps a "!id" action to KindCommand or KindCallback.
	// Nil classifies everything as a command.
	Classify func(action string) chat.Kind
	// AlbumWindow bounds how long one media burst may span. It must match
	// the aggregation buffer's window so a group never outlives its batch.
	// Zero means aggregate.DefaultWindow.
	AlbumWindow time.Duration
	Logger      *slog.Logger
}

// Transport converts between Matrix room events and chat types.
type Transport struct {
	client    Client
	self      id.UserID
	directory store.Directory
	classify  func(string) chat.Kind
	window    time.Duration
	seen      *dedupe.Cache
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	bursts map[chat.ActorID]burst
}

type burst struct {
	id    string
	start time.Time
}

// New validates opts and builds a Transport.
func New(opts Options) (*Transport, error) {
	if opts.Client == nil {
		return nil, errors.New("matrix: client is required")
	}
	if opts.Self == "" {
		return nil, errors.New("matrix: own user id is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("matrix: actor directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classify := opts.Classify
	if classify == nil {
		classify = func(string) chat.Kind { return chat.KindCommand }
	}
	window := opts.AlbumWindow
	if window <= 0 {
		window = aggregate.DefaultWindow
	}
	return &Transport{
		client:    opts.Client,
		self:      opts.Self,
		directory: opts.Directory,
		classify:  classify,
		window:    window,
		seen:      dedupe.New(seenTTL, seenSize),
		logger:    logger.With("component", "matrix"),
		now:       time.Now,
		bursts:    make(map[chat.ActorID]burst),
	}, nil
}

// SendText implements chat.Channel.
func (t *Transport) SendText(ctx context.Context, to chat.ActorID, msg chat.Text) (chat.MessageRef, error) {
	room, err := t.room(ctx, to)
	if err != nil {
		return "", err
	}
	return t.send(ctx, room, textContent(msg))
}

// SendMedia implements chat.Channel.
func (t *Transport) SendMedia(ctx context.Context, to chat.ActorID, media chat.Media, caption chat.Text) (chat.MessageRef, error) {
	room, err := t.room(ctx, to)
	if err != nil {
		return "", err
	}
	return t.sendMedia(ctx, room, media, caption)
}

// SendMediaBatch implements chat.Channel. Matrix has no albums, so every
// item is its own event and only the first carries the caption.
func (t *Transport) SendMediaBatch(ctx context.Context, to chat.ActorID, media []chat.Media, caption chat.Text) ([]chat.MessageRef, error) {
	room, err := t.room(ctx, to)
	if err != nil {
		return nil, err
	}
	refs := make([]chat.MessageRef, 0, len(media))
	for i, m := range media {
		var c chat.Text
		if i == 0 {
			c = caption
		}
		ref, err := t.sendMedia(ctx, room, m, c)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DeleteMessage redacts a message the bot sent.
func (t *Transport) DeleteMessage(ctx context.Context, to chat.ActorID, ref chat.MessageRef) error {
	room, err := t.room(ctx, to)
	if err != nil {
		return err
	}
	if _, err := t.client.RedactEvent(ctx, room, id.EventID(ref)); err != nil {
		return deliveryErr(err)
	}
	return nil
}

func (t *Transport) sendMedia(ctx context.Context, room id.RoomID, m chat.Media, caption chat.Text) (chat.MessageRef, error) {
	uri := id.ContentURIString(m.Ref)
	if m.Ref == "" {
		mime := m.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		resp, err := t.client.UploadBytes(ctx, m.Data, mime)
		if err != nil {
			return "", fmt.Errorf("uploading %s: %w", m.Name, err)
		}
		uri = resp.ContentURI.CUString()
	}
	return t.send(ctx, room, mediaContent(m, uri, caption))
}

func (t *Transport) send(ctx context.Context, room id.RoomID, content *event.MessageEventContent) (chat.MessageRef, error) {
	resp, err := t.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", deliveryErr(err)
	}
	return chat.MessageRef(resp.EventID), nil
}

// room resolves the direct room of an actor. Actors only get a room after
// writing to the bot, so an unknown actor is unreachable.
func (t *Transport) room(ctx context.Context, to chat.ActorID) (id.RoomID, error) {
	_, room, err := t.directory.LookupActor(ctx, TransportName, to)
	if errors.Is(err, store.ErrNotFound) || (err == nil && room == "") {
		return "", fmt.Errorf("%w: no room for actor %d", chat.ErrUndeliverable, to)
	}
	if err != nil {
		return "", fmt.Errorf("looking up actor %d: %w", to, err)
	}
	return id.RoomID(room), nil
}

// deliveryErr marks homeserver refusals as undeliverable so the desk can
// tell a blocked recipient from an outage.
func deliveryErr(err error) error {
	if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%w: %w", chat.ErrUndeliverable, err)
	}
	return err
}

var _ chat.Channel = (*Transport)(nil)
