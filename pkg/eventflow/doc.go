// Package eventflow runs domain events through an ordered chain of
// processors.
//
// An [event.Envelope] carries mutable content and metadata. The [Chain]
// collects every registered [Processor] that supports the envelope, sorts
// them by order (stable, so ties keep registration order) and invokes them
// one at a time. A processor may close the run, which stops the chain, or
// suspend it, which persists the envelope together with a resume cursor.
// [Chain.Resume] later continues with the processors whose order is
// strictly greater than the cursor.
//
// The [Dispatcher] decides between running a chain inline and deferring it.
// Processors that implement [PriorityVoter] are polled by the [Arbiter];
// an IMMEDIATE vote, or no voters at all, means the chain runs on the
// caller's goroutine. Otherwise the envelope is stored as QUEUED in a
// [checkpoint.Store] and picked up later by a [Worker] or by the
// queue-draining task in package tasks. Both paths invoke the same chain, so
// a deferred envelope sees exactly the semantics of a synchronous one.
//
// # Basic Usage
//
//	reg := eventflow.NewRegistry()
//	reg.MustRegister(
//	    eventflow.NewProcessor("validate", "user", 0, validate, event.TypeCreate),
//	    eventflow.NewProcessor("save", "user", 10, save, event.TypeCreate),
//	)
//
//	chain := eventflow.NewChain(reg, eventflow.WithContinuationStore(store))
//	ec, err := chain.Run(ctx, env)
//
// # Error Handling
//
// A processor error or panic aborts the envelope's chain. The error is
// returned as a [*ChainError] carrying the partial [event.Context]; panics
// are converted to [*PanicError] first. Failures are structural, so the
// chain never retries a processor.
//
// # Observability
//
// Chains and dispatchers log through slog and record OpenTelemetry metrics
// and spans when configured with [WithMetrics] and [WithTracing].
package eventflow
