package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kindOrder event.ContentKind = "order"

type order struct {
	Number string `json:"number"`
	Billed bool   `json:"billed"`
}

// newDispatcher defers every envelope with LOW priority and fails orders
// numbered "bad".
func newDispatcher(t *testing.T, store checkpoint.Store) *eventflow.Dispatcher {
	t.Helper()
	kinds := event.NewKindRegistry()
	event.RegisterKind[*order](kinds, kindOrder)

	reg := eventflow.NewRegistry()
	require.NoError(t, reg.Register(eventflow.NewVotingProcessor("bill", kindOrder, 0,
		func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
			o, _ := event.ContentAs[*order](env)
			if o.Number == "bad" {
				return event.Result{}, errors.New("card declined")
			}
			o.Billed = true
			return event.NewResult(env), nil
		},
		func(context.Context, *event.Envelope) event.Priority { return event.PriorityLow },
	)))

	chain := eventflow.NewChain(reg, eventflow.WithContinuationStore(store), eventflow.WithKinds(kinds))
	return eventflow.NewDispatcher(chain)
}

func enqueue(t *testing.T, d *eventflow.Dispatcher, number string) string {
	t.Helper()
	env, err := event.New(kindOrder, event.TypeCreate, &order{Number: number})
	require.NoError(t, err)
	_, err = d.Process(context.Background(), env)
	require.NoError(t, err)
	return env.ID()
}

func saveRecord(t *testing.T, store checkpoint.Store, id string, state checkpoint.State, attempts int) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), &checkpoint.Record{
		EnvelopeID: id,
		Kind:       kindOrder,
		EventType:  event.TypeCreate,
		State:      state,
		Envelope:   []byte(`{}`),
		Attempts:   attempts,
	}))
}

func loadState(t *testing.T, store checkpoint.Store, id string) checkpoint.State {
	t.Helper()
	rec, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	return rec.State
}

func runTask(t *testing.T, r *task.Runner, h task.Handle, opts task.CreateOptions) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk, err := r.Create(ctx, h, opts)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, tk.ID))
	got, err := r.Store().Get(ctx, tk.ID)
	require.NoError(t, err)
	return got
}

func TestEnvelopeQueue_Drains(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	d := newDispatcher(t, store)
	ids := []string{enqueue(t, d, "o-1"), enqueue(t, d, "bad"), enqueue(t, d, "o-3")}

	l := ledger.NewMemoryLedger()
	r := task.NewRunner(task.NewMemoryStore(), task.WithLedger(l), task.WithPageSize(2))
	tk := runTask(t, r, task.Bind(NewEnvelopeQueue(store, d)), task.CreateOptions{})

	assert.Equal(t, task.StateExecuted, tk.State)
	assert.Equal(t, int64(3), tk.Counter)
	require.NotNil(t, tk.Count)
	assert.Equal(t, int64(3), *tk.Count)

	assert.Equal(t, checkpoint.StateExecuted, loadState(t, store, ids[0]))
	assert.Equal(t, checkpoint.StateException, loadState(t, store, ids[1]))
	assert.Equal(t, checkpoint.StateExecuted, loadState(t, store, ids[2]))

	failed, err := l.List(context.Background(), ledger.Filter{TaskID: tk.ID, State: operation.StateException})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ItemRef)
	assert.Contains(t, failed[0].Cause, "card declined")

	n, err := store.Count(context.Background(), checkpoint.Filter{States: []checkpoint.State{checkpoint.StateQueued}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnvelopeQueue_DryRunCounts(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	d := newDispatcher(t, store)
	id := enqueue(t, d, "o-1")

	r := task.NewRunner(task.NewMemoryStore())
	tk := runTask(t, r, task.Bind(NewEnvelopeQueue(store, d)), task.CreateOptions{DryRun: true})

	require.NotNil(t, tk.Count)
	assert.Equal(t, int64(1), *tk.Count)
	assert.Equal(t, checkpoint.StateQueued, loadState(t, store, id))
}

type executorFunc func(ctx context.Context, id string) (*event.Context, error)

func (f executorFunc) ExecuteQueued(ctx context.Context, id string) (*event.Context, error) {
	return f(ctx, id)
}

func TestEnvelopeQueue_ProcessItemOutcomes(t *testing.T) {
	rec := &checkpoint.Record{EnvelopeID: "e1"}

	taken := NewEnvelopeQueue(nil, executorFunc(func(context.Context, string) (*event.Context, error) {
		return nil, fmt.Errorf("%w: e1 is EXECUTED", eventflow.ErrNotResumable)
	}))
	res, err := taken.ProcessItem(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, operation.StateNotExecuted, res.State)
	assert.Equal(t, CodeAlreadyTaken, res.Code)

	suspended := NewEnvelopeQueue(nil, executorFunc(func(context.Context, string) (*event.Context, error) {
		env, err := event.New(kindOrder, event.TypeCreate, &order{})
		require.NoError(t, err)
		ec := event.NewContext()
		ec.AddResult(event.SuspendedResult(env))
		return ec, nil
	}))
	res, err = suspended.ProcessItem(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, operation.StateBlocked, res.State)
	assert.Equal(t, CodeSuspended, res.Code)

	assert.Equal(t, "e1", taken.ItemRef(rec))
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	saveRecord(t, store, "retry-me", checkpoint.StateException, 1)
	saveRecord(t, store, "exhausted", checkpoint.StateException, 3)
	saveRecord(t, store, "fine", checkpoint.StateExecuted, 1)

	r := task.NewRunner(task.NewMemoryStore())
	opts := task.CreateOptions{Trigger: "hourly"}

	tk := runTask(t, r, task.Bind(NewRetryFailed(store, 3)), opts)
	assert.Equal(t, task.StateExecuted, tk.State)
	assert.Equal(t, int64(1), tk.Counter)
	assert.Equal(t, checkpoint.StateQueued, loadState(t, store, "retry-me"))
	assert.Equal(t, checkpoint.StateException, loadState(t, store, "exhausted"))
	assert.Equal(t, checkpoint.StateExecuted, loadState(t, store, "fine"))

	// Failing again with the same attempt count is not retried twice by
	// the same trigger.
	saveRecord(t, store, "retry-me", checkpoint.StateException, 1)
	tk = runTask(t, r, task.Bind(NewRetryFailed(store, 3)), opts)
	assert.Zero(t, tk.Counter)
	assert.Equal(t, checkpoint.StateException, loadState(t, store, "retry-me"))

	// A new failure is.
	saveRecord(t, store, "retry-me", checkpoint.StateException, 2)
	tk = runTask(t, r, task.Bind(NewRetryFailed(store, 3)), opts)
	assert.Equal(t, int64(1), tk.Counter)
	assert.Equal(t, checkpoint.StateQueued, loadState(t, store, "retry-me"))

	rec, err := store.Load(ctx, "retry-me")
	require.NoError(t, err)
	assert.Empty(t, rec.Error)
}

func TestRetryFailed_RecordMovedOn(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	saveRecord(t, store, "e1", checkpoint.StateQueued, 1)

	res, err := NewRetryFailed(store, 3).ProcessItem(context.Background(), &checkpoint.Record{EnvelopeID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, CodeNotFailed, res.Code)

	res, err = NewRetryFailed(store, 3).ProcessItem(context.Background(), &checkpoint.Record{EnvelopeID: "gone"})
	require.NoError(t, err)
	assert.Equal(t, CodeNotFailed, res.Code)
}

func TestPurgeRecords(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	saveRecord(t, store, "done", checkpoint.StateExecuted, 1)
	saveRecord(t, store, "canceled", checkpoint.StateCanceled, 0)
	saveRecord(t, store, "waiting", checkpoint.StateQueued, 0)
	saveRecord(t, store, "failed", checkpoint.StateException, 1)

	future := func() time.Time { return time.Now().Add(48 * time.Hour) }
	r := task.NewRunner(task.NewMemoryStore())

	recent := NewPurgeRecords(store, 24*time.Hour)
	tk := runTask(t, r, task.Bind(recent), task.CreateOptions{Trigger: "nightly"})
	assert.Zero(t, tk.Counter, "records are younger than the retention age")

	purge := NewPurgeRecords(store, 24*time.Hour)
	purge.now = future
	tk = runTask(t, r, task.Bind(purge), task.CreateOptions{Trigger: "nightly"})
	assert.Equal(t, task.StateExecuted, tk.State)
	assert.Equal(t, int64(2), tk.Counter)

	_, err := store.Load(context.Background(), "done")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = store.Load(context.Background(), "canceled")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Equal(t, checkpoint.StateQueued, loadState(t, store, "waiting"))
	assert.Equal(t, checkpoint.StateException, loadState(t, store, "failed"))
}

func TestPurgeRecords_IgnoresLedger(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	l := ledger.NewMemoryLedger()
	r := task.NewRunner(task.NewMemoryStore(), task.WithLedger(l))

	// Ledger entries are kept per trigger; an envelope ID finishing again
	// after a purge is still purged by the next run.
	for i := range 2 {
		saveRecord(t, store, "e1", checkpoint.StateExecuted, 1)
		purge := NewPurgeRecords(store, time.Hour)
		purge.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		tk := runTask(t, r, task.Bind(purge), task.CreateOptions{Trigger: "nightly"})
		assert.Equal(t, int64(1), tk.Counter, "run %d", i)
	}
}

func TestPurgeAge(t *testing.T) {
	d, err := PurgeAge(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetention, d)

	d, err = PurgeAge(map[string]string{ParamOlderThan: "36h"})
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	_, err = PurgeAge(map[string]string{ParamOlderThan: "soon"})
	assert.Error(t, err)
	_, err = PurgeAge(map[string]string{ParamOlderThan: "-1h"})
	assert.Error(t, err)
}

func TestRegister_RebuildsStoredTasks(t *testing.T) {
	ctx := context.Background()
	envelopes := checkpoint.NewMemoryStore()
	saveRecord(t, envelopes, "failed", checkpoint.StateException, 1)

	tasksStore := task.NewMemoryStore()
	require.NoError(t, tasksStore.Create(ctx, &task.Task{
		ID:           "t1",
		Type:         TypeRetryFailed,
		State:        task.StateCreated,
		Capabilities: NewRetryFailed(nil, 0).Capabilities(),
	}))
	require.NoError(t, tasksStore.Create(ctx, &task.Task{
		ID:     "t2",
		Type:   TypePurgeRecords,
		State:  task.StateCreated,
		Params: map[string]string{ParamOlderThan: "never"},
	}))

	r := task.NewRunner(tasksStore)
	Register(r, envelopes, nil, config.Defaults().Tasks)

	require.NoError(t, r.Run(ctx, "t1"))
	assert.Equal(t, checkpoint.StateQueued, loadState(t, envelopes, "failed"))

	assert.ErrorContains(t, r.Run(ctx, "t2"), ParamOlderThan)
}
