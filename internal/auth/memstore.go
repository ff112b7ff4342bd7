package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process CredentialStore and SessionStore. It backs
// service and handler tests.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	principals map[int64]*Principal
	sessions   map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		principals: make(map[int64]*Principal),
		sessions:   make(map[string]*Session),
	}
}

var (
	_ CredentialStore = (*MemoryStore)(nil)
	_ SessionStore    = (*MemoryStore)(nil)
)

func (m *MemoryStore) FindByIdentifier(_ context.Context, identifier string) (*Principal, error) {
	identifier = NormalizeIdentifier(identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Username == identifier || NormalizeIdentifier(p.Email) == identifier {
			cp := clonePrincipal(p)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePrincipal(p)
	return &cp, nil
}

func (m *MemoryStore) RecordSuccess(_ context.Context, id int64, at time.Time, verifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	p.LastLogin = &at
	if verifier != "" {
		p.Verifier = verifier
	}
	return nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, id int64, fn func(LockoutState) LockoutState) (LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return LockoutState{}, ErrNotFound
	}
	next := fn(p.Lockout())
	p.FailedAttempts = next.FailedAttempts
	p.LockedUntil = next.LockedUntil
	return next, nil
}

func (m *MemoryStore) CreatePrincipal(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Username == NormalizeIdentifier(p.Username) || NormalizeIdentifier(existing.Email) == NormalizeIdentifier(p.Email) {
			return ErrConflict
		}
	}
	p.ID = m.nextID
	m.nextID++
	cp := clonePrincipal(p)
	m.principals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) CountByRole(_ context.Context, role Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.principals {
		if p.Role == role {
			n++
		}
	}
	return n, nil
}

// Update applies fn to the stored principal. Tests use it to change roles
// or deactivate accounts behind the service's back.
func (m *MemoryStore) Update(id int64, fn func(*Principal)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	return nil
}

// Principals returns every stored principal ordered by id.
func (m *MemoryStore) Principals() []Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Principal, 0, len(m.principals))
	for _, p := range m.principals {
		out = append(out, clonePrincipal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.TokenHash]; ok {
		return ErrConflict
	}
	cp := *s
	m.sessions[s.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) FindSession(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, tokenHash)
	return s, nil
}

func (m *MemoryStore) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if !s.CreatedAt.After(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// SessionCount returns how many sessions are stored.
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func clonePrincipal(p *Principal) Principal {
	cp := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		cp.LastLogin = &t
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		cp.UpdatedAt = &t
	}
	return cp
}
