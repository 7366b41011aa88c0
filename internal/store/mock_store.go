// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/olymp-desk/internal/chat"
)

// MockStore is an in-memory implementation of Store for testing
type MockStore struct {
	mu       sync.RWMutex
	profiles map[chat.ActorID]*Profile
	bans     map[chat.ActorID]*BanRecord
	actors   map[string]chat.ActorID // transport + "\x00" + user
	rooms    map[chat.ActorID][2]string
	nextRow  int64
	nextID   chat.ActorID

	// FailWrites makes every mutating call return this error.
	FailWrites error
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		profiles: make(map[chat.ActorID]*Profile),
		bans:     make(map[chat.ActorID]*BanRecord),
		actors:   make(map[string]chat.ActorID),
		rooms:    make(map[chat.ActorID][2]string),
	}
}

// Put inserts a profile directly, bypassing credential generation.
func (m *MockStore) Put(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRow++
	cp := *p
	if cp.ID == 0 {
		cp.ID = m.nextRow
	}
	m.profiles[p.ExternalID] = &cp
}

func (m *MockStore) FindByExternalID(_ context.Context, id chat.ActorID) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) FindByHandle(_ context.Context, handle string) (*Profile, error) {
	handle = normalizeHandle(handle)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Profile
	for _, p := range m.profiles {
		if handle != "" && strings.ToLower(p.Handle) == handle {
			if best == nil || p.ID < best.ID {
				best = p
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockStore) Create(_ context.Context, p *Profile, creds CredentialFunc) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	if _, ok := m.profiles[p.ExternalID]; ok {
		return nil, ErrDuplicate
	}
	cp := *p
	cp.ID = m.nextRow + 1
	cp.CreatedAt = time.Now().UTC()
	if creds != nil {
		c, err := creds(cp.ID)
		if err != nil {
			return nil, err
		}
		cp.Login, cp.Password, cp.PasswordHash = c.Login, c.Password, c.PasswordHash
	}
	m.nextRow++
	m.profiles[p.ExternalID] = &cp
	out := cp
	return &out, nil
}

func (m *MockStore) SetBanned(_ context.Context, id chat.ActorID, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Banned = banned
	return nil
}

func (m *MockStore) SetRole(_ context.Context, id chat.ActorID, role Role, on bool) error {
	if _, err := role.column(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Staff = on
	return nil
}

func (m *MockStore) ListAll(_ context.Context) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (m *MockStore) Ban(_ context.Context, rec *BanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	p, ok := m.profiles[rec.ExternalID]
	if !ok {
		return ErrNotFound
	}
	p.Banned = true
	cp := *rec
	cp.UnbannedBy = ""
	cp.UpdatedAt = time.Now().UTC()
	m.bans[rec.ExternalID] = &cp
	return nil
}

func (m *MockStore) Unban(_ context.Context, id chat.ActorID, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Banned = false
	if rec, ok := m.bans[id]; ok {
		rec.UnbannedBy = by
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockStore) GetBanRecord(_ context.Context, id chat.ActorID) (*BanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.bans[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockStore) ResolveActor(_ context.Context, transport, userID, room string) (chat.ActorID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := transport + "\x00" + userID
	id, ok := m.actors[key]
	if !ok {
		m.nextID++
		id = m.nextID
		m.actors[key] = id
	}
	prev := m.rooms[id]
	if room == "" {
		room = prev[1]
	}
	m.rooms[id] = [2]string{userID, room}
	return id, nil
}

func (m *MockStore) LookupActor(_ context.Context, transport string, id chat.ActorID) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, aid := range m.actors {
		if aid == id && strings.HasPrefix(key, transport+"\x00") {
			r := m.rooms[id]
			return r[0], r[1], nil
		}
	}
	return "", "", ErrNotFound
}

func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
