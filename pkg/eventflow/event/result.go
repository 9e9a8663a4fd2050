package event

import (
	"math"

	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
)

// NoOrder marks a result that was not produced by a processor.
const NoOrder = math.MinInt

// Result is the outcome of one processor invocation.
type Result struct {
	// Event is the envelope after the processor ran.
	Event *Envelope `json:"-"`

	// ProcessorID identifies the processor. It is not persisted.
	ProcessorID string `json:"-"`

	// Closed stops the chain; no later processor runs.
	Closed bool `json:"closed"`

	// Suspended pauses the chain; it can be resumed after ProcessedOrder.
	Suspended bool `json:"suspended"`

	// ProcessedOrder is the order of the processor that produced the result.
	ProcessedOrder int `json:"processed_order"`

	Operations []operation.Result `json:"operations,omitempty"`
}

// NewResult returns a result for env with one EXECUTED operation.
func NewResult(env *Envelope) Result {
	return Result{
		Event:      env,
		Operations: []operation.Result{operation.Executed()},
	}
}

// ClosedResult returns an executed result that stops the chain.
func ClosedResult(env *Envelope) Result {
	r := NewResult(env)
	r.Closed = true
	return r
}

// SuspendedResult returns a result that pauses the chain.
func SuspendedResult(env *Envelope) Result {
	return Result{
		Event:      env,
		Suspended:  true,
		Operations: []operation.Result{{State: operation.StateBlocked, Code: "SUSPENDED"}},
	}
}

// AcceptedResult returns the marker for an envelope handed off for deferred
// processing.
func AcceptedResult(env *Envelope) Result {
	return Result{
		Event:          env,
		ProcessedOrder: NoOrder,
		Operations:     []operation.Result{operation.Created()},
	}
}

// WithOperation appends an operation outcome and returns the result.
func (r Result) WithOperation(op operation.Result) Result {
	r.Operations = append(r.Operations, op)
	return r
}

// State returns the state of the last operation, or StateExecuted when
// the result carries none.
func (r Result) State() operation.State {
	if len(r.Operations) == 0 {
		return operation.StateExecuted
	}
	return r.Operations[len(r.Operations)-1].State
}

// Successful reports whether every operation executed.
func (r Result) Successful() bool {
	for _, op := range r.Operations {
		if !op.State.IsSuccessful() {
			return false
		}
	}
	return true
}
