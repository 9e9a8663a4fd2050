package eventflow

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/registry"
)

// Registry holds processors in registration order. It is safe for
// concurrent use.
type Registry struct {
	procs *registry.Registry[string, Processor]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: registry.New[string, Processor]()}
}

// NewRegistryFromSettings registers processors according to settings.
// Disabled processors are skipped, configured orders replace declared
// ones, and Configurable processors receive their properties.
func NewRegistryFromSettings(settings config.Settings, processors ...Processor) (*Registry, error) {
	r := NewRegistry()
	for _, p := range processors {
		if p == nil {
			return nil, ErrNilProcessor
		}
		id := p.ID()
		if !settings.ProcessorEnabled(id) {
			continue
		}
		if c, ok := p.(Configurable); ok {
			if err := c.Configure(settings.ProcessorProperties(id)); err != nil {
				return nil, fmt.Errorf("configure processor %s: %w", id, err)
			}
		}
		if order, ok := settings.ProcessorOrder(id); ok {
			p = withOrder(p, order)
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p. Registering an ID twice returns ErrDuplicateProcessor.
func (r *Registry) Register(p Processor) error {
	if p == nil {
		return ErrNilProcessor
	}
	id := p.ID()
	if id == "" {
		return ErrEmptyProcessorID
	}
	if !r.procs.Add(id, p) {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, id)
	}
	return nil
}

// MustRegister registers every processor, panicking on the first error.
func (r *Registry) MustRegister(ps ...Processor) {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Get returns the processor registered under id.
func (r *Registry) Get(id string) (Processor, bool) {
	return r.procs.Get(id)
}

// Processors returns every processor in registration order.
func (r *Registry) Processors() []Processor {
	return r.procs.Values()
}

// Len returns the number of registered processors.
func (r *Registry) Len() int {
	return r.procs.Len()
}

// Applicable returns the processors supporting env, sorted by order.
// Equal orders keep registration order.
func (r *Registry) Applicable(env *event.Envelope) []Processor {
	var out []Processor
	r.procs.Range(func(_ string, p Processor) bool {
		if p.Supports(env) {
			out = append(out, p)
		}
		return true
	})
	slices.SortStableFunc(out, func(a, b Processor) int {
		return cmp.Compare(a.Order(), b.Order())
	})
	return out
}

// Voters returns the applicable processors that vote on priority.
func (r *Registry) Voters(env *event.Envelope) []PriorityVoter {
	var out []PriorityVoter
	for _, p := range r.Applicable(env) {
		if v, ok := voterOf(p); ok {
			out = append(out, v)
		}
	}
	return out
}
