// Package access decides whether an inbound event may proceed and owns the
// in-memory role and ban sets it decides with.
//
// Roster mirrors the banned, staff and superuser flags of the profile store.
// It is loaded once at startup and mutated by the flows that change those
// flags, in the same step that commits the store write, so the next event
// always sees the change.
//
// Gate applies the ban policy:
//
//  1. Actors who are not banned are allowed.
//  2. Banned actors inside a staff dialog may send text, photos and
//     documents. Menu commands on the deny-list and every callback get a
//     notice.
//  3. Banned actors outside a dialog may only press the appeal action.
//     Everything else gets a notice, content additionally gets the appeal
//     affordance.
package access
