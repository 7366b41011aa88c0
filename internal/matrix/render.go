// ABOUTME: Outbound message rendering for Matrix
// ABOUTME: Markdown via goldmark into formatted_body, actions as "!id" hints

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/olymp-desk/internal/chat"
)

// textContent renders msg as m.text. Plain messages without actions are
// sent as-is so relayed user text is never reinterpreted as Markdown.
func textContent(msg chat.Text) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText}
	applyText(content, msg)
	return content
}

func mediaContent(m chat.Media, uri id.ContentURIString, caption chat.Text) *event.MessageEventContent {
	name := m.Name
	if name == "" {
		name = defaultName(m.Kind)
	}
	content := &event.MessageEventContent{
		MsgType:  mediaMsgType(m.Kind),
		Body:     name,
		FileName: name,
		URL:      uri,
	}
	if m.MimeType != "" || len(m.Data) > 0 {
		content.Info = &event.FileInfo{MimeType: m.MimeType, Size: len(m.Data)}
	}
	if caption.Body != "" || len(caption.Actions) > 0 {
		applyText(content, caption)
	}
	return content
}

func applyText(content *event.MessageEventContent, msg chat.Text) {
	content.Body = plainBody(msg)
	if msg.Format != chat.FormatMarkdown && len(msg.Actions) == 0 {
		return
	}

	src := msg.Body
	if msg.Format != chat.FormatMarkdown {
		src = escapeMarkdown(src)
	}
	if hints := actionList(msg.Actions, markdownHint); hints != "" {
		src = joinBlocks(src, hints)
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return
	}
	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(buf.String())
}

func plainBody(msg chat.Text) string {
	return joinBlocks(msg.Body, actionList(msg.Actions, plainHint))
}

func plainHint(a chat.Action) string {
	if a.Label == "" {
		return actionPrefix + a.ID
	}
	return actionPrefix + a.ID + "  " + a.Label
}

func markdownHint(a chat.Action) string {
	hint := "- `" + actionPrefix + a.ID + "`"
	if a.Label != "" {
		hint += " " + markdownEscaper.Replace(a.Label)
	}
	return hint
}

// actionList renders each action on its own line.
func actionList(actions []chat.Action, hint func(chat.Action) string) string {
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, hint(a))
	}
	return strings.Join(lines, "\n")
}

func joinBlocks(a, b string) string {
	switch {
	case b == "":
		return a
	case a == "":
		return b
	default:
		return a + "\n\n" + b
	}
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
	"#", `\#`, "<", "&lt;", ">", "&gt;",
)

// escapeMarkdown keeps plain text literal when it has to travel through
// goldmark alongside action hints. Line breaks are preserved as hard breaks.
func escapeMarkdown(s string) string {
	return strings.ReplaceAll(markdownEscaper.Replace(s), "\n", "  \n")
}

func mediaMsgType(k chat.MediaKind) event.MessageType {
	switch k {
	case chat.MediaPhoto:
		return event.MsgImage
	case chat.MediaVideo:
		return event.MsgVideo
	default:
		return event.MsgFile
	}
}

func defaultName(k chat.MediaKind) string {
	switch k {
	case chat.MediaPhoto:
		return "image"
	case chat.MediaVideo:
		return "video"
	default:
		return "file"
	}
}
