// Package matrix connects the desk to a Matrix homeserver.
//
// Every participant talks to the bot in a direct room. The first message
// from a Matrix user allocates an actor id in the store's directory and
// records the room, which is where all later messages to that actor go.
//
// Inbound, text starting with "!" is an action ("!register", "!reply_42");
// everything else is free text. Images, videos and files become media
// events, and media sent in quick succession share a group id so the
// dispatch pipeline can treat them as one album. Redelivered events are
// dropped by event id.
//
// Outbound, Markdown bodies are rendered to HTML with goldmark and actions
// are appended as "!id label" hints. Documents without an mxc reference are
// uploaded first. Permission and not-found refusals from the homeserver are
// reported as chat.ErrUndeliverable.
package matrix
