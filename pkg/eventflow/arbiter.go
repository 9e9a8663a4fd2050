package eventflow

import (
	"context"

	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

// Mode is how the dispatcher executes an envelope.
type Mode int

const (
	// ModeSync runs the chain on the caller's goroutine.
	ModeSync Mode = iota
	// ModeDeferred queues the envelope for a worker.
	ModeDeferred
)

// String returns "sync" or "deferred".
func (m Mode) String() string {
	if m == ModeDeferred {
		return "deferred"
	}
	return "sync"
}

// Decision is the outcome of priority arbitration.
type Decision struct {
	Priority event.Priority
	Mode     Mode
	// Voters is the number of voters polled before the decision was made.
	Voters int
}

// Arbiter resolves dispatch priority from the registry's voters.
type Arbiter struct {
	registry *Registry
}

// NewArbiter creates an arbiter over reg.
func NewArbiter(reg *Registry) *Arbiter {
	return &Arbiter{registry: reg}
}

// Resolve polls the voters that support env.
//
// An envelope already at IMMEDIATE, or one without voters, runs
// synchronously. The first IMMEDIATE vote ends polling and forces
// synchronous execution. Otherwise the highest non-abstaining vote wins
// and the envelope is deferred; if every voter abstains the envelope keeps
// its current priority, or NORMAL when it has none.
func (a *Arbiter) Resolve(ctx context.Context, env *event.Envelope) Decision {
	if env.Priority() == event.PriorityImmediate {
		return Decision{Priority: event.PriorityImmediate, Mode: ModeSync}
	}

	voters := a.registry.Voters(env)
	if len(voters) == 0 {
		return Decision{Priority: event.PriorityImmediate, Mode: ModeSync}
	}

	best := event.PriorityUnset
	for i, v := range voters {
		vote := v.VotePriority(ctx, env)
		if vote == event.PriorityImmediate {
			return Decision{Priority: event.PriorityImmediate, Mode: ModeSync, Voters: i + 1}
		}
		if vote.IsSet() && vote > best {
			best = vote
		}
	}

	if !best.IsSet() {
		best = env.Priority()
		if !best.IsSet() {
			best = event.PriorityNormal
		}
	}
	return Decision{Priority: best, Mode: ModeDeferred, Voters: len(voters)}
}
