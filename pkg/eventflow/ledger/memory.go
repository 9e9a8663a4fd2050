package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps entries in memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]map[string]struct{}
	closed  bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{index: make(map[string]map[string]struct{})}
}

// Record implements Ledger.
func (m *MemoryLedger) Record(_ context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)

	refs, ok := m.index[e.Owner]
	if !ok {
		refs = make(map[string]struct{})
		m.index[e.Owner] = refs
	}
	refs[e.ItemRef] = struct{}{}
	return nil
}

// Contains implements Ledger.
func (m *MemoryLedger) Contains(_ context.Context, owner, itemRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.index[owner][itemRef]
	return ok, nil
}

// List implements Ledger.
func (m *MemoryLedger) List(_ context.Context, filter Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var out []Entry
	for _, e := range m.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	if filter.Last > 0 && len(out) > filter.Last {
		out = out[len(out)-filter.Last:]
	}
	return out, nil
}

// Count implements Ledger.
func (m *MemoryLedger) Count(_ context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, e := range m.entries {
		if filter.matches(e) {
			n++
		}
	}
	return n, nil
}

// Close implements Ledger.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	m.index = nil
	return nil
}
