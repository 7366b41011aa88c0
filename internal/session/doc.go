// Package session holds per-actor conversation state: the current step tag
// of whichever flow the actor is in, plus a bag of values collected along
// the way.
//
// All operations are keyed by actor and are individually atomic. Update
// runs a read-modify-write under the store lock so a handler never
// observes another handler's half-written state.
package session
