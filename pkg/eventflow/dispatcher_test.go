package eventflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, store checkpoint.Store, ps ...Processor) *Dispatcher {
	t.Helper()
	chain := NewChain(newTestRegistry(t, ps...), WithContinuationStore(store), WithKinds(testKinds()))
	return NewDispatcher(chain)
}

func TestDispatcher_SyncWithoutVoters(t *testing.T) {
	tr := &tracker{}
	d := newTestDispatcher(t, checkpoint.NewMemoryStore(),
		trackingProcessor("a", 0, tr),
		trackingProcessor("b", 10, tr),
	)
	env := newUserEnv(t, "ann")

	ec, err := d.Process(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tr.list())
	assert.Equal(t, 2, ec.Len())
	assert.False(t, env.IsPersisted(), "synchronous envelopes outside a tree are not persisted")
}

func TestDispatcher_ImmediateVoteRunsSync(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store,
		votingProcessor("abstain", 0, event.PriorityUnset, tr),
		votingProcessor("normal", 10, event.PriorityNormal, tr),
		votingProcessor("urgent", 20, event.PriorityImmediate, tr),
	)

	ec, err := d.Process(context.Background(), newUserEnv(t, "ann"))

	require.NoError(t, err)
	assert.Equal(t, []string{"abstain", "normal", "urgent"}, tr.list())
	assert.Equal(t, 3, ec.Len())
	assert.Equal(t, 0, store.Len())
}

func TestDispatcher_DeferredEnqueues(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store,
		votingProcessor("abstain", 0, event.PriorityUnset, tr),
		votingProcessor("low", 10, event.PriorityLow, tr),
	)
	env := newUserEnv(t, "ann")

	ec, err := d.Process(context.Background(), env)
	require.NoError(t, err)

	assert.Empty(t, tr.list(), "deferred envelopes do not run on the caller's goroutine")
	assert.True(t, env.IsPersisted())
	assert.Equal(t, env.ID(), env.RootID(), "first envelope of a lineage is its own root")
	assert.Equal(t, event.PriorityLow, env.Priority())
	assert.Equal(t, "LOW", env.PropertyString(event.PropertyPriority))

	require.Equal(t, 1, ec.Len())
	last, _ := ec.LastResult()
	assert.Equal(t, operation.StateCreated, last.State())
	assert.False(t, last.Closed)
	_, ok := ec.ProcessedOrder()
	assert.False(t, ok)

	rec, err := store.Load(context.Background(), env.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateQueued, rec.State)
	assert.Equal(t, event.PriorityLow, rec.Priority)
	assert.Nil(t, rec.Cursor)
}

func TestDispatcher_DeferredMatchesSync(t *testing.T) {
	procs := func(tr *tracker) []Processor {
		return []Processor{
			votingProcessor("low", 0, event.PriorityLow, tr),
			trackingProcessor("b", 10, tr),
			closingProcessor("c", 20, tr),
			trackingProcessor("d", 30, tr),
		}
	}

	syncTr := &tracker{}
	syncEC, err := NewChain(newTestRegistry(t, procs(syncTr)...)).Run(context.Background(), newUserEnv(t, "ann"))
	require.NoError(t, err)

	deferTr := &tracker{}
	d := newTestDispatcher(t, checkpoint.NewMemoryStore(), procs(deferTr)...)
	env := newUserEnv(t, "ann")
	_, err = d.Process(context.Background(), env)
	require.NoError(t, err)
	require.Empty(t, deferTr.list())

	deferEC, err := d.ExecuteQueued(context.Background(), env.ID())
	require.NoError(t, err)

	assert.Equal(t, syncTr.list(), deferTr.list())
	assert.Equal(t, syncEC.Content().(*user).Steps, deferEC.Content().(*user).Steps)
	assert.Equal(t, syncEC.IsClosed(), deferEC.IsClosed())
	assert.Equal(t, syncEC.Len(), deferEC.Len())

	rec, err := d.Store().Load(context.Background(), env.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateExecuted, rec.State)
	assert.Equal(t, 20, *rec.Cursor)

	_, err = d.ExecuteQueued(context.Background(), env.ID())
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestDispatcher_ExecuteQueuedFailure(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store,
		votingProcessor("low", 0, event.PriorityLow, nil),
		failingProcessor("bad", 10, errors.New("boom")),
	)
	env := newUserEnv(t, "ann")
	_, err := d.Process(context.Background(), env)
	require.NoError(t, err)

	_, err = d.ExecuteQueued(context.Background(), env.ID())

	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr))
	rec, err := store.Load(context.Background(), env.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateException, rec.State)
	assert.Contains(t, rec.Error, "boom")
	assert.Equal(t, 1, rec.Attempts)
}

func TestDispatcher_RequeuedFailureRerunsTiedProcessor(t *testing.T) {
	tr := &tracker{}
	var calls atomic.Int32
	flaky := NewProcessor("b", kindUser, 10, func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
		if calls.Add(1) == 1 {
			return event.Result{}, errors.New("transient")
		}
		step(env, "b", tr)
		return event.NewResult(env), nil
	})
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store,
		votingProcessor("a", 10, event.PriorityLow, tr),
		flaky,
		trackingProcessor("c", 20, tr),
	)
	env := newUserEnv(t, "ann")
	ctx := context.Background()
	_, err := d.Process(ctx, env)
	require.NoError(t, err)

	_, err = d.ExecuteQueued(ctx, env.ID())
	require.Error(t, err)

	rec, err := store.Load(ctx, env.ID())
	require.NoError(t, err)
	require.Equal(t, checkpoint.StateException, rec.State)
	assert.Nil(t, rec.Cursor, "order 10 is not complete while b has failed")

	rec.State = checkpoint.StateQueued
	rec.Error = ""
	require.NoError(t, store.Save(ctx, rec))

	_, err = d.ExecuteQueued(ctx, env.ID())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "a", "b", "c"}, tr.list())
	rec, err = store.Load(ctx, env.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateExecuted, rec.State)
	require.NotNil(t, rec.Cursor)
	assert.Equal(t, 20, *rec.Cursor)
}

func TestDispatcher_ExecuteQueuedUndecodable(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store)
	require.NoError(t, store.Save(context.Background(), &checkpoint.Record{
		EnvelopeID: "broken",
		Kind:       kindUser,
		State:      checkpoint.StateQueued,
		Envelope:   []byte(`{not json`),
	}))

	_, err := d.ExecuteQueued(context.Background(), "broken")
	require.Error(t, err)

	rec, err := store.Load(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateException, rec.State)
}

func TestDispatcher_AsyncDisabled(t *testing.T) {
	tr := &tracker{}
	store := checkpoint.NewMemoryStore()
	chain := NewChain(newTestRegistry(t, votingProcessor("low", 0, event.PriorityLow, tr)), WithContinuationStore(store))
	d := NewDispatcher(chain, WithAsync(false))

	ec, err := d.Process(context.Background(), newUserEnv(t, "ann"))

	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, tr.list())
	assert.Equal(t, 1, ec.Len())
	assert.Equal(t, 0, store.Len())
}

func TestDispatcher_NoStoreRunsSync(t *testing.T) {
	tr := &tracker{}
	d := NewDispatcher(NewChain(newTestRegistry(t, votingProcessor("low", 0, event.PriorityLow, tr))))

	_, err := d.Process(context.Background(), newUserEnv(t, "ann"))

	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, tr.list())
}

func TestDispatcher_Permissions(t *testing.T) {
	var checked []string
	authz := AuthorizerFunc(func(_ context.Context, _ *event.Envelope, perm string) error {
		checked = append(checked, perm)
		if perm == "user:delete" {
			return errors.New("not an admin")
		}
		return nil
	})

	tr := &tracker{}
	chain := NewChain(newTestRegistry(t, trackingProcessor("a", 0, tr)))
	d := NewDispatcher(chain, WithAuthorizer(authz))

	_, err := d.Process(context.Background(), newUserEnv(t, "ann", event.WithPermissions("user:read", "user:delete", "user:admin")))

	assert.ErrorIs(t, err, ErrPermissionDenied)
	var permErr *PermissionError
	require.True(t, errors.As(err, &permErr))
	assert.Equal(t, "user:delete", permErr.Permission)
	assert.Equal(t, []string{"user:read", "user:delete"}, checked)
	assert.Empty(t, tr.list())

	checked = nil
	_, err = d.Process(context.Background(), newUserEnv(t, "bob",
		event.WithID("persisted"), event.WithPermissions("user:delete")))
	require.NoError(t, err)
	assert.Empty(t, checked, "persisted envelopes skip permission checks")
	assert.Equal(t, []string{"a"}, tr.list())
}

func TestDispatcher_TreeEnvelopeTracked(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	d := newTestDispatcher(t, store, trackingProcessor("a", 0, nil))
	parent := newUserEnv(t, "parent")
	child, err := event.NewChild(parent, kindUser, event.TypeCreate, &user{Name: "child"})
	require.NoError(t, err)

	_, err = d.Process(context.Background(), child)
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), child.ID())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateExecuted, rec.State)
	assert.Equal(t, parent.ID(), rec.RootID)
	assert.Equal(t, parent.ID(), rec.ParentID)
	assert.Equal(t, 1, rec.Attempts)
}

func TestDispatcher_NilInput(t *testing.T) {
	d := NewDispatcher(NewChain(NewRegistry()))
	_, err := d.Process(context.Background(), nil)
	assert.ErrorIs(t, err, event.ErrNilEnvelope)
}

func TestDispatcher_LockSerializesQueuedEnvelopes(t *testing.T) {
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	slow := NewVotingProcessor("slow", kindUser, 0,
		func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			return event.NewResult(env), nil
		},
		func(context.Context, *event.Envelope) event.Priority { return event.PriorityNormal },
	)

	store := checkpoint.NewMemoryStore()
	locker := lock.NewMemoryLocker(lock.WithRetryInterval(time.Millisecond))
	chain := NewChain(newTestRegistry(t, slow), WithContinuationStore(store), WithKinds(testKinds()))
	d := NewDispatcher(chain, WithLocker(locker, 0))

	var ids []string
	for i := 0; i < 4; i++ {
		env := newUserEnv(t, "ann", event.WithProperty(event.PropertyLockKey, "mailbox:ann"))
		_, err := d.Process(context.Background(), env)
		require.NoError(t, err)
		ids = append(ids, env.ID())
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.ExecuteQueued(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.False(t, locker.Held("mailbox:ann"))
}
