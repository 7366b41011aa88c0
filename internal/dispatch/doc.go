// Package dispatch is the outer loop every inbound event goes through.
//
// Each event is queued on its actor's lane. A lane is drained by one
// goroutine at a time, so one actor's events are processed strictly in
// arrival order while different actors proceed concurrently. Processing
// runs the access gate, then the aggregation buffer, then routing:
//
//  1. global navigation actions, in any state
//  2. an action the current state handles explicitly
//  3. an entry action from inside another flow (which restarts the flow,
//     subject to the Reenter policy)
//  4. the transition table for the current state
//  5. the default handler
//
// A flushed album re-enters on the lane of its first fragment's actor. A
// panic or error inside a handler is recovered and reported to the actor;
// the lane carries on.
package dispatch
