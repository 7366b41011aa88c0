// ABOUTME: In-memory banned/staff/superuser sets mirrored from the profile store
// ABOUTME: Loaded at startup and mutated synchronously after each committed store write

package access

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/store"
)

// ProfileLister is the part of the profile store the roster loads from.
type ProfileLister interface {
	ListAll(ctx context.Context) ([]*store.Profile, error)
}

// Roster holds the process-wide role and ban sets.
type Roster struct {
	mu        sync.RWMutex
	banned    map[chat.ActorID]struct{}
	staff     map[chat.ActorID]struct{}
	superuser chat.ActorID
}

// NewRoster creates a roster with the given superuser and staff and nobody
// banned.
func NewRoster(superuser chat.ActorID, staff ...chat.ActorID) *Roster {
	r := &Roster{
		banned:    make(map[chat.ActorID]struct{}),
		staff:     make(map[chat.ActorID]struct{}),
		superuser: superuser,
	}
	for _, id := range staff {
		r.staff[id] = struct{}{}
	}
	return r
}

// LoadRoster builds a roster from every stored profile plus the configured
// seed staff and superuser.
func LoadRoster(ctx context.Context, profiles ProfileLister, seedStaff []chat.ActorID, superuser chat.ActorID) (*Roster, error) {
	all, err := profiles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	r := NewRoster(superuser, seedStaff...)
	for _, p := range all {
		if p.Banned {
			r.banned[p.ExternalID] = struct{}{}
		}
		if p.Staff {
			r.staff[p.ExternalID] = struct{}{}
		}
	}
	return r, nil
}

// IsBanned reports whether the actor is banned.
func (r *Roster) IsBanned(id chat.ActorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.banned[id]
	return ok
}

// IsStaff reports whether the actor may use staff features. The superuser
// always can.
func (r *Roster) IsStaff(id chat.ActorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id != 0 && id == r.superuser {
		return true
	}
	_, ok := r.staff[id]
	return ok
}

// IsSuperuser reports whether the actor is the configured superuser.
func (r *Roster) IsSuperuser(id chat.ActorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != 0 && id == r.superuser
}

// Superuser returns the configured superuser, or 0.
func (r *Roster) Superuser() chat.ActorID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.superuser
}

// HasStaffRole reports whether the actor holds the stored staff role,
// ignoring the superuser shortcut.
func (r *Roster) HasStaffRole(id chat.ActorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.staff[id]
	return ok
}

// StaffIDs returns the staff members alerts are fanned out to, sorted.
func (r *Roster) StaffIDs() []chat.ActorID {
	r.mu.RLock()
	out := make([]chat.ActorID, 0, len(r.staff))
	for id := range r.staff {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ban adds the actor to the banned set.
func (r *Roster) Ban(id chat.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned[id] = struct{}{}
}

// Unban removes the actor from the banned set.
func (r *Roster) Unban(id chat.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, id)
}

// Promote adds the actor to the staff set.
func (r *Roster) Promote(id chat.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff[id] = struct{}{}
}

// Demote removes the actor from the staff set.
func (r *Roster) Demote(id chat.ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.staff, id)
}
