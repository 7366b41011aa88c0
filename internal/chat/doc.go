// Package chat defines the transport-neutral vocabulary shared by the desk:
// inbound events, media references, outbound messages and the Channel
// interface every transport implements.
//
// # Events
//
// An Event is a single inbound update from one actor. Its Kind tells the
// pipeline how to treat it:
//
//   - KindText: free-form text
//   - KindMedia: photo, document or video, optionally captioned
//   - KindCommand: a menu/navigation action (reply keyboard in Telegram,
//     "!command" in Matrix)
//   - KindCallback: a structured button action carrying Action data
//
// Events that belong to one multi-part upload share a GroupID. The
// aggregate package collapses them into a Batch before routing.
//
// # Channel
//
// Channel is the outbound side. Every method is best-effort: callers log
// failures and move on unless they need to report them to the sender.
//
// Recorder is an in-memory Channel for tests.
package chat
