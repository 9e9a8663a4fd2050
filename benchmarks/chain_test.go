package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

func benchmarkChain(b *testing.B, n int) {
	chain := eventflow.NewChain(buildRegistry(n, 0, event.PriorityUnset))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chain.Run(ctx, newEnvelope(b, i))
	}
}

// BenchmarkChain_5 runs a 5-processor chain.
func BenchmarkChain_5(b *testing.B) { benchmarkChain(b, 5) }

// BenchmarkChain_10 runs a 10-processor chain.
func BenchmarkChain_10(b *testing.B) { benchmarkChain(b, 10) }

// BenchmarkChain_50 runs a 50-processor chain.
func BenchmarkChain_50(b *testing.B) { benchmarkChain(b, 50) }

// BenchmarkChain_100 runs a 100-processor chain.
func BenchmarkChain_100(b *testing.B) { benchmarkChain(b, 100) }

// BenchmarkChain_ClosedEarly closes the chain at its first processor.
func BenchmarkChain_ClosedEarly(b *testing.B) {
	reg := buildRegistry(50, 0, event.PriorityUnset)
	reg.MustRegister(eventflow.NewProcessor("close", kindBench, -1,
		func(_ context.Context, env *event.Envelope, _ *event.Context) (event.Result, error) {
			return event.ClosedResult(env), nil
		}))
	chain := eventflow.NewChain(reg)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chain.Run(ctx, newEnvelope(b, i))
	}
}

// BenchmarkDispatch_Sync dispatches envelopes whose voters ask for
// immediate execution.
func BenchmarkDispatch_Sync(b *testing.B) {
	d := eventflow.NewDispatcher(eventflow.NewChain(buildRegistry(10, 5, event.PriorityImmediate)))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Process(ctx, newEnvelope(b, i))
	}
}

// BenchmarkDispatch_Deferred measures queueing into a memory store.
func BenchmarkDispatch_Deferred(b *testing.B) {
	kinds := event.NewKindRegistry()
	event.RegisterKind[*Payload](kinds, kindBench)
	d := eventflow.NewDispatcher(eventflow.NewChain(buildRegistry(10, 5, event.PriorityLow),
		eventflow.WithContinuationStore(checkpoint.NewMemoryStore()),
		eventflow.WithKinds(kinds),
	))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Process(ctx, newEnvelope(b, i))
	}
}

// BenchmarkEnvelopeCreation measures building an envelope.
func BenchmarkEnvelopeCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = newEnvelope(b, i)
	}
}
