package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Tasks are copied on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	seq    map[string]uint64
	next   uint64
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
		seq:   make(map[string]uint64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, t *Task) error {
	if t == nil || t.ID == "" || t.Type == "" {
		return ErrInvalidTask
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.tasks[t.ID]; ok {
		return ErrExists
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.next++
	m.seq[t.ID] = m.next
	m.tasks[t.ID] = t.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []*Task
	for _, t := range m.tasks {
		if filter.matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	existing, ok := m.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	stored := t.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.CancelRequested = existing.CancelRequested || t.CancelRequested
	m.tasks[t.ID] = stored
	return nil
}

// Checkpoint implements Store.
func (m *MemoryStore) Checkpoint(_ context.Context, id string, counter int64, count *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	t.Counter = counter
	if count != nil {
		n := *count
		t.Count = &n
	}
	return t.CancelRequested, nil
}

// RequestCancel implements Store.
func (m *MemoryStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.CancelRequested = true
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
