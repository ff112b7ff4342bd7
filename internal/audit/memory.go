package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendAudit(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

// FailWith makes subsequent appends return err; nil restores normal behavior.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Entries returns a copy of everything appended so far.
func (m *MemoryStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Actions returns the action of every entry in append order.
func (m *MemoryStore) Actions() []string {
	entries := m.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}
