package eventflow

import (
	"context"
	"sync"
	"testing"

	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/stretchr/testify/require"
)

// Test content used across tests.

const kindUser event.ContentKind = "user"

type user struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps,omitempty"`
}

func testKinds() *event.KindRegistry {
	kinds := event.NewKindRegistry()
	event.RegisterKind[*user](kinds, kindUser)
	return kinds
}

func newUserEnv(t *testing.T, name string, opts ...event.Option) *event.Envelope {
	t.Helper()
	env, err := event.New(kindUser, event.TypeCreate, &user{Name: name}, opts...)
	require.NoError(t, err)
	return env
}

// tracker records processor invocations.
type tracker struct {
	mu    sync.Mutex
	calls []string
}

func (tr *tracker) add(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, id)
}

func (tr *tracker) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

// step records the invocation and appends id to the user's steps.
func step(env *event.Envelope, id string, tr *tracker) {
	if tr != nil {
		tr.add(id)
	}
	if u, ok := event.ContentAs[*user](env); ok {
		u.Steps = append(u.Steps, id)
	}
}

// Helper processors

func trackingProcessor(id string, order int, tr *tracker) Processor {
	return NewProcessor(id, kindUser, order, func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
		step(env, id, tr)
		return event.NewResult(env), nil
	})
}

func closingProcessor(id string, order int, tr *tracker) Processor {
	return NewProcessor(id, kindUser, order, func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
		step(env, id, tr)
		return event.ClosedResult(env), nil
	})
}

func suspendingProcessor(id string, order int, tr *tracker) Processor {
	return NewProcessor(id, kindUser, order, func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
		step(env, id, tr)
		return event.SuspendedResult(env), nil
	})
}

func failingProcessor(id string, order int, err error) Processor {
	return NewProcessor(id, kindUser, order, func(context.Context, *event.Envelope, *event.Context) (event.Result, error) {
		return event.Result{}, err
	})
}

func panicProcessor(id string, order int, value any) Processor {
	return NewProcessor(id, kindUser, order, func(context.Context, *event.Envelope, *event.Context) (event.Result, error) {
		panic(value)
	})
}

func votingProcessor(id string, order int, vote event.Priority, tr *tracker) Processor {
	return NewVotingProcessor(id, kindUser, order,
		func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
			step(env, id, tr)
			return event.NewResult(env), nil
		},
		func(context.Context, *event.Envelope) event.Priority { return vote },
	)
}

func newTestRegistry(t *testing.T, ps ...Processor) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, p := range ps {
		require.NoError(t, reg.Register(p))
	}
	return reg
}
