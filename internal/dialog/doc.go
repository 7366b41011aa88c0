// Package dialog links one participant with one staff member and relays
// content between them.
//
// A link is a single entity with two index entries, one per side, guarded
// by the bridge mutex together with both sides' conversation state. While
// a link exists the participant sits in ParticipantTag and the staff member
// in StaffTag with the participant recorded under PartnerKey. Close works
// from either side, clears both states and is a no-op without a link.
package dialog
