package admin

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, for tests and single-replica
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	admins  map[string]struct{}
	history []Event
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins: make(map[string]struct{}),
		now:    time.Now,
	}
}

func (m *MemoryStore) IsAdmin(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.admins[username]
	return ok, nil
}

func (m *MemoryStore) Add(_ context.Context, username, actor, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[username]; ok {
		return nil
	}
	m.admins[username] = struct{}{}
	m.history = append(m.history, Event{Username: username, Action: ActionAdd, Actor: actor, IP: ip, EventTime: m.now().UTC()})
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, username, actor, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[username]; !ok {
		return ErrNotAdmin
	}
	delete(m.admins, username)
	m.history = append(m.history, Event{Username: username, Action: ActionRemove, Actor: actor, IP: ip, EventTime: m.now().UTC()})
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.admins))
	for u := range m.admins {
		out = append(out, u)
	}
	return out, nil
}

func (m *MemoryStore) History(_ context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out, nil
}
