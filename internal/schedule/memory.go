package schedule

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps schedules in process memory in insertion order.
// Contents are lost on restart; intended for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	items map[string]ScheduledReopen
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]ScheduledReopen)}
}

func (m *MemoryStore) Put(ctx context.Context, s ScheduledReopen) error {
	id, err := NormalizeID(s.ConversationID)
	if err != nil {
		return err
	}
	s.ConversationID = id

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		m.order = append(m.order, id)
	}
	m.items[id] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, conversationID string) (*ScheduledReopen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(conversationID)
	return nil
}

func (m *MemoryStore) DeleteIfDue(ctx context.Context, conversationID string, dueAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[conversationID]
	if !ok || DueMillis(s.DueAt) != DueMillis(dueAt) {
		return false, nil
	}
	m.deleteLocked(conversationID)
	return true, nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, conversationID string, dueAt time.Time, f Failure) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[conversationID]
	if !ok || DueMillis(s.DueAt) != DueMillis(dueAt) {
		return false, nil
	}
	m.items[conversationID] = s.apply(f)
	return true, nil
}

// Each iterates over a snapshot so fn may call back into the store.
func (m *MemoryStore) Each(ctx context.Context, fn func(ScheduledReopen) error) error {
	m.mu.RLock()
	snapshot := make([]ScheduledReopen, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.items[id])
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) deleteLocked(id string) {
	if _, ok := m.items[id]; !ok {
		return
	}
	delete(m.items, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
