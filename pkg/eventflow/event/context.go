package event

import "slices"

// Context accumulates processor results for one envelope run.
// Results are append-only and kept in execution order.
type Context struct {
	results        []Result
	suspended      bool
	processedOrder int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{processedOrder: NoOrder}
}

// AddResult appends r and takes its suspended flag and processed order.
// Only the latest result's flags are authoritative.
func (c *Context) AddResult(r Result) {
	c.results = append(c.results, r)
	c.suspended = r.Suspended
	c.processedOrder = r.ProcessedOrder
}

// Results returns a copy of the results in execution order.
func (c *Context) Results() []Result {
	return slices.Clone(c.results)
}

// Len returns the number of results.
func (c *Context) Len() int {
	return len(c.results)
}

// LastResult returns the most recent result.
func (c *Context) LastResult() (Result, bool) {
	if len(c.results) == 0 {
		return Result{}, false
	}
	return c.results[len(c.results)-1], true
}

// IsClosed reports whether the last result closed the run.
// An empty context is not closed.
func (c *Context) IsClosed() bool {
	last, ok := c.LastResult()
	return ok && last.Closed
}

// IsSuspended reports whether the last result suspended the run.
func (c *Context) IsSuspended() bool {
	return c.suspended
}

// ProcessedOrder returns the resume cursor. ok is false when no processor
// has run yet.
func (c *Context) ProcessedOrder() (order int, ok bool) {
	return c.processedOrder, c.processedOrder != NoOrder
}

// Content returns the content of the last result's envelope.
func (c *Context) Content() any {
	last, ok := c.LastResult()
	if !ok || last.Event == nil {
		return nil
	}
	return last.Event.Content()
}
