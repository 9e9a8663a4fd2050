package eventflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Chain runs the applicable processors of a registry against envelopes.
// A Chain is safe for concurrent use; each run owns its envelope.
type Chain struct {
	registry *Registry
	opts     options
}

// NewChain creates a chain over reg.
func NewChain(reg *Registry, opts ...Option) *Chain {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Chain{registry: reg, opts: o}
}

// Registry returns the processor registry.
func (c *Chain) Registry() *Registry {
	return c.registry
}

// Store returns the continuation store, or nil.
func (c *Chain) Store() checkpoint.Store {
	return c.opts.store
}

// Run executes every processor that supports env, in order.
//
// The run stops after a closed result (no later processor is invoked) or
// after a suspended one. On suspension the envelope receives an ID and,
// when a continuation store is configured, is saved as SUSPENDED with the
// processed order as its resume cursor.
//
// A processor error or panic aborts the run and is returned as a
// *ChainError. The partial context is returned alongside it.
func (c *Chain) Run(ctx context.Context, env *event.Envelope) (*event.Context, error) {
	return c.run(ctx, env, nil)
}

// Resume executes the processors whose order is strictly greater than
// fromOrder. Processors at the cursor's order already completed and are
// not re-entered.
func (c *Chain) Resume(ctx context.Context, env *event.Envelope, fromOrder int) (*event.Context, error) {
	return c.run(ctx, env, &fromOrder)
}

func (c *Chain) run(ctx context.Context, env *event.Envelope, from *int) (ec *event.Context, runErr error) {
	if env == nil {
		return nil, event.ErrNilEnvelope
	}
	if env.Content() == nil {
		return nil, event.ErrNilContent
	}

	procs := c.registry.Applicable(env)
	if from != nil {
		procs = after(procs, *from)
	}

	logger := observability.EnrichLogger(c.opts.logger, env.ID(), string(env.Kind()))
	observability.LogChainStart(logger, env.ID(), string(env.Type()), len(procs))
	elapsed := observability.TimedOperation()
	start := time.Now()

	spanCtx, span := c.opts.spans.StartChainSpan(ctx, env.ID(), string(env.Kind()), string(env.Type()))
	defer func() {
		c.opts.spans.EndSpanWithError(span, runErr)
	}()

	ec = event.NewContext()
	executed := 0
	for _, p := range procs {
		if ec.IsClosed() {
			break
		}

		if err := ctx.Err(); err != nil {
			runErr = c.fail(logger, env, p, ec, err, elapsed())
			c.opts.metrics.RecordChainRun(ctx, "error", time.Since(start))
			return ec, runErr
		}

		res, err := c.invoke(spanCtx, logger, p, env, ec)
		if err != nil {
			runErr = c.fail(logger, env, p, ec, err, elapsed())
			c.opts.metrics.RecordChainRun(ctx, "error", time.Since(start))
			return ec, runErr
		}

		ec.AddResult(res)
		executed++

		if res.Suspended {
			c.opts.spans.AddSpanEvent(spanCtx, "suspended", attribute.String("processor.id", p.ID()))
			if err := c.suspend(ctx, logger, env, ec); err != nil {
				runErr = &ChainError{EnvelopeID: env.ID(), Context: ec, Err: err}
				observability.LogChainError(logger, env.ID(), runErr, elapsed(), p.ID())
				c.opts.metrics.RecordChainRun(ctx, "error", time.Since(start))
				return ec, runErr
			}
			break
		}
	}

	c.opts.metrics.RecordChainRun(ctx, outcome(ec), time.Since(start))
	observability.LogChainComplete(logger, env.ID(), elapsed(), executed, ec.IsClosed(), ec.IsSuspended())
	return ec, nil
}

// invoke runs one processor, recovering panics and normalizing its result.
func (c *Chain) invoke(ctx context.Context, logger *slog.Logger, p Processor, env *event.Envelope, ec *event.Context) (res event.Result, err error) {
	id, order := p.ID(), p.Order()
	observability.LogProcessorStart(logger, id, order)

	pctx, span := c.opts.spans.StartProcessorSpan(ctx, id, order)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				ProcessorID: id,
				Value:       r,
				Stack:       string(debug.Stack()),
			}
		}

		duration := time.Since(start)
		c.opts.metrics.RecordProcessorExecution(pctx, id, duration, err)
		c.opts.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogProcessorError(logger, id, err)
		} else {
			observability.LogProcessorComplete(logger, id, float64(duration.Milliseconds()))
		}
	}()

	res, err = p.Process(pctx, env, ec)
	if err != nil {
		return res, err
	}
	return normalize(res, id, order, env)
}

// normalize stamps the processor's identity on res. Content of a returned
// envelope other than env is merged back into env.
func normalize(res event.Result, id string, order int, env *event.Envelope) (event.Result, error) {
	if res.Closed && res.Suspended {
		return res, ErrInvalidResult
	}
	if res.Event != nil && res.Event != env {
		if err := env.SetContent(res.Event.Content()); err != nil {
			return res, err
		}
	}
	res.Event = env
	res.ProcessorID = id
	res.ProcessedOrder = order
	return res, nil
}

func (c *Chain) fail(logger *slog.Logger, env *event.Envelope, p Processor, ec *event.Context, err error, durationMs float64) error {
	chainErr := &ChainError{
		EnvelopeID:  env.ID(),
		ProcessorID: p.ID(),
		Order:       p.Order(),
		Context:     ec,
		Err:         err,
	}
	observability.LogChainError(logger, env.ID(), chainErr, durationMs, p.ID())
	return chainErr
}

func (c *Chain) suspend(ctx context.Context, logger *slog.Logger, env *event.Envelope, ec *event.Context) error {
	env.EnsureID()
	cursor, _ := ec.ProcessedOrder()
	observability.LogSuspended(logger, env.ID(), cursor)

	if c.opts.store == nil {
		return nil
	}
	return c.saveState(ctx, env, checkpoint.StateSuspended, &cursor, "")
}

// ResumeEnvelope loads a stored envelope and continues its chain from the
// stored cursor, or from the start when no processor has run yet. The
// record is updated with the outcome.
func (c *Chain) ResumeEnvelope(ctx context.Context, envelopeID string) (*event.Context, error) {
	rec, env, err := c.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case checkpoint.StateSuspended, checkpoint.StateQueued:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, envelopeID, rec.State)
	}
	return c.execute(ctx, env, rec.Cursor)
}

// execute runs or resumes env while keeping its stored record current:
// RUNNING before the chain, then EXECUTED, SUSPENDED or EXCEPTION.
func (c *Chain) execute(ctx context.Context, env *event.Envelope, cursor *int) (*event.Context, error) {
	if c.opts.store != nil {
		if err := c.markRunning(ctx, env); err != nil {
			return nil, err
		}
	}

	var (
		ec  *event.Context
		err error
	)
	if cursor != nil {
		ec, err = c.Resume(ctx, env, *cursor)
	} else {
		ec, err = c.Run(ctx, env)
	}

	if c.opts.store == nil || (err == nil && ec.IsSuspended()) {
		return ec, err
	}

	next := completedCursor(ec, cursor, err)

	state, msg := checkpoint.StateExecuted, ""
	if err != nil {
		state, msg = checkpoint.StateException, err.Error()
	}
	if saveErr := c.saveState(ctx, env, state, next, msg); saveErr != nil {
		observability.LogPersistError(c.opts.logger, env.ID(), "complete", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	return ec, err
}

// completedCursor returns the highest order whose processors all finished.
// When a processor fails, results that share its order are not counted, so
// a resume after requeue runs the failed processor again.
func completedCursor(ec *event.Context, cursor *int, err error) *int {
	if ec == nil {
		return cursor
	}
	var chainErr *ChainError
	if err == nil || !errors.As(err, &chainErr) || chainErr.ProcessorID == "" {
		if order, ok := ec.ProcessedOrder(); ok {
			return &order
		}
		return cursor
	}
	next := cursor
	for _, res := range ec.Results() {
		if res.ProcessedOrder < chainErr.Order && (next == nil || res.ProcessedOrder > *next) {
			order := res.ProcessedOrder
			next = &order
		}
	}
	return next
}

// after filters procs to orders strictly greater than cursor.
func after(procs []Processor, cursor int) []Processor {
	out := procs[:0:0]
	for _, p := range procs {
		if p.Order() > cursor {
			out = append(out, p)
		}
	}
	return out
}

func outcome(ec *event.Context) string {
	switch {
	case ec.IsSuspended():
		return "suspended"
	case ec.IsClosed():
		return "closed"
	case ec.Len() == 0:
		return "empty"
	}
	return "completed"
}
