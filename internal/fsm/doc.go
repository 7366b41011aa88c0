// Package fsm expresses each conversation flow as an explicit transition
// table.
//
// A Step maps (state tag, event kind, optional action) to a handler and the
// next tag. Machine.Fire runs the most specific matching step against a
// snapshot of the actor's state and commits the resulting state only when
// the handler succeeds and nothing else wrote the actor in the meantime.
// Validate checks a table for unknown targets and unreachable steps, so a
// broken flow fails a unit test instead of stranding a user.
package fsm
