package eventflow

import (
	"context"
	"slices"

	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

// Processor is one step of an envelope's chain.
//
// Process receives the envelope by exclusive reference for the duration of
// the call and may mutate its content. A returned error aborts the chain.
type Processor interface {
	// ID uniquely identifies the processor within a registry.
	ID() string

	// Order positions the processor; lower orders run first.
	Order() int

	// Supports reports whether the processor handles env. Matching is by
	// exact content kind and event type.
	Supports(env *event.Envelope) bool

	// Process handles env. ec holds the results of earlier processors.
	Process(ctx context.Context, env *event.Envelope, ec *event.Context) (event.Result, error)
}

// PriorityVoter is implemented by processors that take part in dispatch
// arbitration. Returning event.PriorityUnset abstains.
type PriorityVoter interface {
	VotePriority(ctx context.Context, env *event.Envelope) event.Priority
}

// Configurable is implemented by processors that accept the properties
// configured for their ID.
type Configurable interface {
	Configure(cfg config.Config) error
}

// Base implements ID, Order and Supports. Embed it in processor types.
//
// Example:
//
//	type auditProcessor struct {
//	    eventflow.Base
//	}
//
//	p := &auditProcessor{Base: eventflow.NewBase("audit", "user", 100)}
type Base struct {
	id    string
	order int
	kind  event.ContentKind
	types []event.Type
}

// NewBase declares a processor for kind. With no types, every event type
// of the kind is supported.
func NewBase(id string, kind event.ContentKind, order int, types ...event.Type) Base {
	return Base{id: id, order: order, kind: kind, types: slices.Clone(types)}
}

// ID implements Processor.
func (b Base) ID() string { return b.id }

// Order implements Processor.
func (b Base) Order() int { return b.order }

// Kind returns the declared content kind.
func (b Base) Kind() event.ContentKind { return b.kind }

// Types returns the declared event types.
func (b Base) Types() []event.Type { return slices.Clone(b.types) }

// Supports implements Processor.
func (b Base) Supports(env *event.Envelope) bool {
	if env == nil || env.Kind() != b.kind {
		return false
	}
	return len(b.types) == 0 || slices.Contains(b.types, env.Type())
}

// ProcessFunc is the signature of a processor's Process method.
type ProcessFunc func(ctx context.Context, env *event.Envelope, ec *event.Context) (event.Result, error)

// VoteFunc is the signature of PriorityVoter.VotePriority.
type VoteFunc func(ctx context.Context, env *event.Envelope) event.Priority

type funcProcessor struct {
	Base
	fn ProcessFunc
}

func (p *funcProcessor) Process(ctx context.Context, env *event.Envelope, ec *event.Context) (event.Result, error) {
	return p.fn(ctx, env, ec)
}

type votingFuncProcessor struct {
	funcProcessor
	vote VoteFunc
}

func (p *votingFuncProcessor) VotePriority(ctx context.Context, env *event.Envelope) event.Priority {
	return p.vote(ctx, env)
}

// NewProcessor adapts fn to a Processor.
func NewProcessor(id string, kind event.ContentKind, order int, fn ProcessFunc, types ...event.Type) Processor {
	return &funcProcessor{Base: NewBase(id, kind, order, types...), fn: fn}
}

// NewVotingProcessor adapts fn and vote to a Processor that also
// implements PriorityVoter.
func NewVotingProcessor(id string, kind event.ContentKind, order int, fn ProcessFunc, vote VoteFunc, types ...event.Type) Processor {
	return &votingFuncProcessor{
		funcProcessor: funcProcessor{Base: NewBase(id, kind, order, types...), fn: fn},
		vote:          vote,
	}
}

// reordered overrides the order of a registered processor.
type reordered struct {
	Processor
	order int
}

func withOrder(p Processor, order int) Processor {
	return &reordered{Processor: p, order: order}
}

func (r *reordered) Order() int { return r.order }

// Unwrap returns the wrapped processor.
func (r *reordered) Unwrap() Processor { return r.Processor }

// voterOf finds a PriorityVoter through any reordering wrappers.
func voterOf(p Processor) (PriorityVoter, bool) {
	for p != nil {
		if v, ok := p.(PriorityVoter); ok {
			return v, true
		}
		u, ok := p.(interface{ Unwrap() Processor })
		if !ok {
			return nil, false
		}
		p = u.Unwrap()
	}
	return nil, false
}
