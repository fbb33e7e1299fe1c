package client

import (
	"context"
	"sort"
	"sync"

	"mealcheck/internal/domain/checkin"
)

type memoryEntry struct {
	action *checkin.PendingAction
	seq    uint64
}

// MemoryStore хранилище в памяти, используется если SQLite недоступен и в тестах
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	seq     uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, clientActionID string) (*checkin.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[clientActionID]
	if !ok {
		return nil, checkin.ErrNotFound
	}
	return e.action.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, a *checkin.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[a.ClientActionID]
	if !ok {
		m.seq++
		e.seq = m.seq
	}
	e.action = a.Clone()
	m.entries[a.ClientActionID] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, clientActionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, clientActionID)
	return nil
}

func (m *MemoryStore) List(_ context.Context, status checkin.ActionStatus) ([]*checkin.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := make([]memoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.action.Status == status {
			found = append(found, e)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].action.CreatedAt.Equal(found[j].action.CreatedAt) {
			return found[i].action.CreatedAt.Before(found[j].action.CreatedAt)
		}
		return found[i].seq < found[j].seq
	})

	actions := make([]*checkin.PendingAction, len(found))
	for i, e := range found {
		actions[i] = e.action.Clone()
	}
	return actions, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
