package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker. Leases with ttl <= 0 never expire.
type MemoryLocker struct {
	mu       sync.Mutex
	held     map[string]memoryHold
	interval time.Duration
	now      func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

// MemoryOption configures a MemoryLocker.
type MemoryOption func(*MemoryLocker)

// WithRetryInterval sets how often Acquire polls a held key.
func WithRetryInterval(d time.Duration) MemoryOption {
	return func(m *MemoryLocker) {
		m.interval = d
	}
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker(opts ...MemoryOption) *MemoryLocker {
	m := &MemoryLocker{
		held:     make(map[string]memoryHold),
		interval: defaultRetryInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryAcquire implements Locker.
func (m *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, ErrLockHeld
	}

	h := memoryHold{token: uuid.NewString()}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	m.held[key] = h
	return &memoryLease{locker: m, key: key, token: h.token}, nil
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	return waitAcquire(ctx, m.interval, func() (Lease, error) {
		return m.TryAcquire(ctx, key, ttl)
	})
}

// Held reports whether key is currently locked.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[key]
	return ok && (h.expires.IsZero() || m.now().Before(h.expires))
}

func (m *MemoryLocker) release(key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[key]
	if !ok || h.token != token {
		return ErrNotHeld
	}
	delete(m.held, key)
	return nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	return l.locker.release(l.key, l.token)
}
