// Package registry provides a generic thread-safe registry that remembers
// insertion order.
//
// The processor registry relies on the order to break ties between
// processors declaring the same order value, and the task runner uses
// GetOrCreate to hand out one mutex per task type and trigger.
//
//	r := registry.New[string, Processor]()
//	if !r.Add("audit", auditProcessor) {
//	    // already registered
//	}
//	for _, p := range r.Values() {
//	    ...
//	}
//
//	locks := registry.New[string, *sync.Mutex]()
//	mu := locks.GetOrCreate("purge/nightly", func() *sync.Mutex { return &sync.Mutex{} })
//
// All methods are safe for concurrent use. Range and Values work on a
// snapshot, so the registry may be mutated while iterating.
package registry
