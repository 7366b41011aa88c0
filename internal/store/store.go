// ABOUTME: Profile store interface and data types for olymp-desk persistence
// ABOUTME: Defines Profile, BanRecord, the ProfileStore interface and the actor directory

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/olymp-desk/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating a profile for an actor that already has one
var ErrDuplicate = errors.New("already exists")

// Profile is one registrant row in the users table
type Profile struct {
	ID           int64 // database row id, used for the generated login
	ExternalID   chat.ActorID
	Handle       string // without "@"
	FullName     string
	Phone        string
	PlaceOfStudy string
	School       string
	Grade        string
	Email        string
	Login        string
	Password     string // plaintext, redistributed on request
	PasswordHash string // bcrypt, exported for the contest platform
	Banned       bool
	Staff        bool
	Score        int
	CreatedAt    time.Time
}

// Label renders the profile for staff-facing messages.
func (p *Profile) Label() string {
	if p.Handle != "" {
		return "@" + p.Handle
	}
	return "ID " + p.ExternalID.String()
}

// Credentials is the generated login/password pair.
type Credentials struct {
	Login        string
	Password     string
	PasswordHash string
}

// CredentialFunc derives credentials from the new row id. It runs inside
// the create transaction.
type CredentialFunc func(rowID int64) (Credentials, error)

// BanRecord is one row of the banned_users table
type BanRecord struct {
	ExternalID chat.ActorID
	Handle     string
	Reason     string
	Proof      string
	BannedBy   string
	UnbannedBy string // empty while the ban is in force
	UpdatedAt  time.Time
}

// ProfileStore is the persistence collaborator the desk reads and writes by key
type ProfileStore interface {
	FindByExternalID(ctx context.Context, id chat.ActorID) (*Profile, error)
	FindByHandle(ctx context.Context, handle string) (*Profile, error)
	// Create inserts p and fills in generated credentials. Returns
	// ErrDuplicate if the actor is already registered.
	Create(ctx context.Context, p *Profile, creds CredentialFunc) (*Profile, error)
	SetBanned(ctx context.Context, id chat.ActorID, banned bool) error
	SetRole(ctx context.Context, id chat.ActorID, role Role, on bool) error
	ListAll(ctx context.Context) ([]*Profile, error)

	// Ban flags the profile and upserts its banned_users row, clearing any
	// previous unban attribution.
	Ban(ctx context.Context, rec *BanRecord) error
	// Unban clears the flag and records who lifted the ban.
	Unban(ctx context.Context, id chat.ActorID, by string) error
	GetBanRecord(ctx context.Context, id chat.ActorID) (*BanRecord, error)

	Close() error
}

// Directory maps transport identities to stable numeric actor ids
type Directory interface {
	// ResolveActor returns the actor id for a transport user, allocating one
	// on first sight. room is the direct chat to reach the user in.
	ResolveActor(ctx context.Context, transport, userID, room string) (chat.ActorID, error)
	LookupActor(ctx context.Context, transport string, id chat.ActorID) (userID, room string, err error)
}

// Store is everything a backend implements
type Store interface {
	ProfileStore
	Directory
}
