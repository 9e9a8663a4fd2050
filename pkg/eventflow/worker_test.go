package eventflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prioritized votes the priority stored in the user's name.
func prioritized(tr *tracker) Processor {
	return NewVotingProcessor("prioritized", kindUser, 0,
		func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
			u, _ := event.ContentAs[*user](env)
			tr.add(u.Name)
			return event.NewResult(env), nil
		},
		func(_ context.Context, env *event.Envelope) event.Priority {
			u, _ := event.ContentAs[*user](env)
			p, _ := event.ParsePriority(u.Name)
			return p
		},
	)
}

func TestNewWorker_Defaults(t *testing.T) {
	d := NewDispatcher(NewChain(NewRegistry()))
	w := NewWorker(d, config.DispatcherSettings{})

	defaults := config.Defaults().Dispatcher
	assert.Equal(t, defaults.Workers, w.Concurrency)
	assert.Equal(t, defaults.PollInterval, w.PollInterval)
	assert.Equal(t, defaults.BatchSize, w.BatchSize)
}

func TestWorker_DrainByPriority(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store, prioritized(tr))

	for _, name := range []string{"low", "high", "normal", "high"} {
		_, err := d.Process(context.Background(), newUserEnv(t, name))
		require.NoError(t, err)
	}
	require.Empty(t, tr.list())

	w := NewWorker(d, config.DispatcherSettings{Workers: 1, BatchSize: 10})
	n, err := w.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"high", "high", "normal", "low"}, tr.list())

	count, err := store.Count(context.Background(), checkpoint.Filter{States: []checkpoint.State{checkpoint.StateExecuted}})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestWorker_DrainSmallBatches(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store, prioritized(tr))

	for i := 0; i < 7; i++ {
		_, err := d.Process(context.Background(), newUserEnv(t, "normal"))
		require.NoError(t, err)
	}

	w := NewWorker(d, config.DispatcherSettings{Workers: 3, BatchSize: 2})
	n, err := w.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, tr.list(), 7)
}

// brokenLocker fails every acquire.
type brokenLocker struct {
	attempts atomic.Int32
}

func (l *brokenLocker) TryAcquire(context.Context, string, time.Duration) (lock.Lease, error) {
	l.attempts.Add(1)
	return nil, errors.New("lock backend down")
}

func (l *brokenLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	return l.TryAcquire(ctx, key, ttl)
}

func TestWorker_DrainStopsOnEnvelopesStuckInQueue(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	locker := &brokenLocker{}
	chain := NewChain(newTestRegistry(t, prioritized(tr)), WithContinuationStore(store), WithKinds(testKinds()))
	d := NewDispatcher(chain, WithLocker(locker, 0))

	env := newUserEnv(t, "low", event.WithProperty(event.PropertyLockKey, "mailbox:ann"))
	_, err := d.Process(context.Background(), env)
	require.NoError(t, err)

	w := NewWorker(d, config.DispatcherSettings{Workers: 1, BatchSize: 10})
	done := make(chan struct{})
	var n int
	go func() {
		defer close(done)
		n, err = w.Drain(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not return")
	}
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), locker.attempts.Load())
	assert.Empty(t, tr.list())

	rec, err := store.Load(context.Background(), env.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateQueued, rec.State)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store, prioritized(tr))
	w := NewWorker(d, config.DispatcherSettings{Workers: 2, BatchSize: 5, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err := d.Process(context.Background(), newUserEnv(t, "low"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(tr.list()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RequiresStore(t *testing.T) {
	w := NewWorker(NewDispatcher(NewChain(NewRegistry())), config.DispatcherSettings{})

	assert.ErrorIs(t, w.Run(context.Background()), ErrNoStore)
	_, err := w.Drain(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
}
