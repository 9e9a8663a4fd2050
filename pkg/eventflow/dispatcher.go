package eventflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// Authorizer checks one permission of an envelope.
type Authorizer interface {
	Authorize(ctx context.Context, env *event.Envelope, permission string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, env *event.Envelope, permission string) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, env *event.Envelope, permission string) error {
	return f(ctx, env, permission)
}

// Dispatcher decides whether an envelope runs inline or is deferred, and
// executes deferred envelopes on behalf of workers.
type Dispatcher struct {
	chain   *Chain
	arbiter *Arbiter
	opts    options
}

// NewDispatcher creates a dispatcher around chain. It inherits the chain's
// options; opts override them.
func NewDispatcher(chain *Chain, opts ...Option) *Dispatcher {
	o := chain.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &Dispatcher{
		chain:   chain,
		arbiter: NewArbiter(chain.registry),
		opts:    o,
	}
}

// Chain returns the dispatcher's chain.
func (d *Dispatcher) Chain() *Chain {
	return d.chain
}

// Store returns the continuation store, or nil.
func (d *Dispatcher) Store() checkpoint.Store {
	return d.opts.store
}

// Process dispatches env.
//
// Synchronous envelopes run through the chain and the completed context is
// returned. Their permissions are checked first unless the envelope is
// persisted; envelopes that belong to a tree are persisted and tracked
// through RUNNING to their final state.
//
// Deferred envelopes receive an ID (and a root ID when first in their
// lineage), are saved as QUEUED with their resolved priority, and the
// returned context holds a single accepted marker whose state is CREATED.
func (d *Dispatcher) Process(ctx context.Context, env *event.Envelope) (*event.Context, error) {
	if env == nil {
		return nil, event.ErrNilEnvelope
	}
	if env.Content() == nil {
		return nil, event.ErrNilContent
	}

	decision := d.arbiter.Resolve(ctx, env)
	if decision.Mode == ModeDeferred && (!d.opts.async || d.opts.store == nil) {
		decision.Mode = ModeSync
	}

	d.opts.metrics.RecordDispatch(ctx, decision.Mode.String(), decision.Priority.String())
	observability.LogDispatch(d.opts.logger, env.ID(), decision.Mode.String(), decision.Priority.String())

	if decision.Mode == ModeDeferred {
		return d.enqueue(ctx, env, decision.Priority)
	}
	return d.runSync(ctx, env)
}

func (d *Dispatcher) runSync(ctx context.Context, env *event.Envelope) (*event.Context, error) {
	if !env.IsPersisted() {
		if err := d.authorize(ctx, env); err != nil {
			return nil, err
		}
	}

	if env.RequiresPersistence() && d.opts.store != nil {
		return d.chain.execute(ctx, env, nil)
	}
	return d.chain.Run(ctx, env)
}

// authorize ANDs the envelope's permissions.
func (d *Dispatcher) authorize(ctx context.Context, env *event.Envelope) error {
	if d.opts.authorizer == nil {
		return nil
	}
	for _, perm := range env.Permissions() {
		if err := d.opts.authorizer.Authorize(ctx, env, perm); err != nil {
			return &PermissionError{Permission: perm, Err: err}
		}
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, env *event.Envelope, priority event.Priority) (*event.Context, error) {
	env.EnsureRoot()
	env.SetPriority(priority)
	env.SetProperty(event.PropertyPriority, priority.String())

	if err := d.chain.saveState(ctx, env, checkpoint.StateQueued, nil, ""); err != nil {
		observability.LogPersistError(d.opts.logger, env.ID(), "enqueue", err)
		return nil, fmt.Errorf("enqueue envelope %s: %w", env.ID(), err)
	}

	ec := event.NewContext()
	ec.AddResult(event.AcceptedResult(env))
	return ec, nil
}

// ExecuteQueued runs a QUEUED envelope through the chain.
//
// When the envelope names a lock in event.PropertyLockKey and a locker is
// configured, the lock is held for the duration of the run. A record that
// cannot be decoded is marked EXCEPTION so it leaves the queue.
func (d *Dispatcher) ExecuteQueued(ctx context.Context, envelopeID string) (*event.Context, error) {
	rec, env, err := d.chain.load(ctx, envelopeID)
	if err != nil {
		if rec != nil {
			d.markBroken(ctx, rec, err)
		}
		return nil, err
	}
	if rec.State != checkpoint.StateQueued {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, envelopeID, rec.State)
	}

	if key := env.PropertyString(event.PropertyLockKey); key != "" && d.opts.locker != nil {
		lease, err := d.opts.locker.Acquire(ctx, key, d.opts.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				d.opts.logger.Warn("lock release failed", "envelope_id", envelopeID, "lock", key, "error", err)
			}
		}()

		// Another holder may have run it while we waited.
		rec, env, err = d.chain.load(ctx, envelopeID)
		if err != nil {
			return nil, err
		}
		if rec.State != checkpoint.StateQueued {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, envelopeID, rec.State)
		}
	}

	return d.chain.execute(ctx, env, rec.Cursor)
}

func (d *Dispatcher) markBroken(ctx context.Context, rec *checkpoint.Record, cause error) {
	if errors.Is(cause, checkpoint.ErrStoreClosed) {
		return
	}
	rec.State = checkpoint.StateException
	rec.Error = cause.Error()
	if err := d.opts.store.Save(ctx, rec); err != nil {
		observability.LogPersistError(d.opts.logger, rec.EnvelopeID, "mark_exception", err)
	}
}
