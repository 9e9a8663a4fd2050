// Package lock provides named, expiring mutual-exclusion leases.
//
// The dispatcher uses a Locker to serialize deferred envelopes that share a
// lock key, and the task runner uses one to keep a single run per task type
// and trigger. MemoryLocker serves a single process; RedisLocker coordinates
// several.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors.
var (
	// ErrLockHeld indicates the key is held by another lease.
	ErrLockHeld = errors.New("lock held")

	// ErrNotHeld indicates a release of a lease that expired or was
	// taken over.
	ErrNotHeld = errors.New("lock not held")

	// ErrEmptyKey indicates an acquire with an empty key.
	ErrEmptyKey = errors.New("lock key is empty")
)

// Lease is a held lock.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out leases on string keys.
type Locker interface {
	// TryAcquire takes the lock or returns ErrLockHeld without waiting.
	// A ttl <= 0 uses the locker's default.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)

	// Acquire waits until the lock is taken or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

const defaultRetryInterval = 25 * time.Millisecond

// maxRetryIntervalFactor caps the wait between attempts at this multiple of
// the initial interval.
const maxRetryIntervalFactor = 40

// waitAcquire retries try with exponential backoff while it returns
// ErrLockHeld. Other errors end the wait at once.
func waitAcquire(ctx context.Context, interval time.Duration, try func() (Lease, error)) (Lease, error) {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = interval * maxRetryIntervalFactor
	bo.MaxElapsedTime = 0

	var lease Lease
	err := backoff.Retry(func() error {
		l, err := try()
		if err == nil {
			lease = l
			return nil
		}
		if errors.Is(err, ErrLockHeld) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return lease, nil
}
