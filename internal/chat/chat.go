// ABOUTME: Shared event, media and message types for every transport
// ABOUTME: Defines ActorID, Event, Batch, Text and the outbound Channel interface

package chat

import (
	"context"
	"errors"
	"strconv"
)

// ErrUndeliverable is returned by a Channel when the recipient cannot be
// reached (blocked the bot, left the room, unknown actor).
var ErrUndeliverable = errors.New("recipient unreachable")

// ActorID is the stable numeric identity of a participant, staff member or
// superuser.
type ActorID int64

// String formats the id in decimal.
func (a ActorID) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// ParseActorID parses a decimal actor id. It rejects zero and negatives.
func ParseActorID(s string) (ActorID, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return ActorID(n), true
}

// Kind classifies an inbound event.
type Kind string

const (
	KindText     Kind = "text"
	KindMedia    Kind = "media"
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
	// KindAny matches every kind in transition tables. Events never carry it.
	KindAny Kind = "any"
)

// IsContent reports whether the kind is free-form content rather than an
// action.
func (k Kind) IsContent() bool {
	return k == KindText || k == KindMedia
}

// MediaKind is the type of an attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// Media references an attachment. Ref is a transport handle (Matrix mxc://
// URI, Telegram file id). When Ref is empty the transport uploads Data.
type Media struct {
	Kind     MediaKind
	Ref      string
	Name     string
	MimeType string
	Data     []byte
}

// MessageRef identifies a message the bot sent, for later deletion.
type MessageRef string

// Event is one inbound update.
type Event struct {
	ID      string
	Actor   ActorID
	Handle  string // display handle without "@", may be empty
	Kind    Kind
	Text    string // text body for KindText, caption for KindMedia
	Action  string // action id for KindCommand and KindCallback
	Media   *Media
	GroupID string // shared by all fragments of one album
	Ref     MessageRef
}

// HandleLabel renders the actor for staff-facing headers.
func (e Event) HandleLabel() string {
	if e.Handle != "" {
		return "@" + e.Handle
	}
	return "ID " + e.Actor.String()
}

// Batch is what handlers receive: a single event, or every fragment of an
// album in arrival order.
type Batch []Event

// First returns the routing event of the batch.
func (b Batch) First() Event {
	if len(b) == 0 {
		return Event{}
	}
	return b[0]
}

// IsAlbum reports whether the batch came out of the aggregation buffer.
func (b Batch) IsAlbum() bool {
	return len(b) > 1 || (len(b) == 1 && b[0].GroupID != "")
}

// Caption returns the first non-empty text in the batch.
func (b Batch) Caption() string {
	for _, ev := range b {
		if ev.Text != "" {
			return ev.Text
		}
	}
	return ""
}

// Media returns the attachments of the batch in order.
func (b Batch) Media() []Media {
	var out []Media
	for _, ev := range b {
		if ev.Media != nil {
			out = append(out, *ev.Media)
		}
	}
	return out
}

// Refs returns the inbound message references of the batch.
func (b Batch) Refs() []MessageRef {
	var out []MessageRef
	for _, ev := range b {
		if ev.Ref != "" {
			out = append(out, ev.Ref)
		}
	}
	return out
}

// Format selects how a transport renders Text.Body.
type Format string

const (
	FormatPlain    Format = ""
	FormatMarkdown Format = "markdown"
)

// Action is an affordance attached to an outbound message. Transports
// render it however they can (button, "!id" hint).
type Action struct {
	ID    string
	Label string
}

// Text is an outbound text body with optional actions.
type Text struct {
	Body    string
	Format  Format
	Actions []Action
}

// Plain builds an unformatted Text.
func Plain(body string) Text {
	return Text{Body: body}
}

// Markdown builds a Markdown Text.
func Markdown(body string, actions ...Action) Text {
	return Text{Body: body, Format: FormatMarkdown, Actions: actions}
}

// Channel is the outbound side of a transport.
type Channel interface {
	SendText(ctx context.Context, to ActorID, msg Text) (MessageRef, error)
	SendMedia(ctx context.Context, to ActorID, media Media, caption Text) (MessageRef, error)
	// SendMediaBatch sends an album. The caption is attached to the first
	// item only.
	SendMediaBatch(ctx context.Context, to ActorID, media []Media, caption Text) ([]MessageRef, error)
	DeleteMessage(ctx context.Context, to ActorID, ref MessageRef) error
}
