package assetos

import (
	"fmt"
	"sort"
)

// Registry is a static table of module constructors keyed by module name.
// It replaces runtime discovery: the set of available modules is fixed at
// build time by whoever assembles the runtime (typically the entry point).
//
// Registration order matters only for shadowing: registering a name that
// already exists replaces the earlier constructor, which lets an
// operator-supplied module replace a built-in one.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under the given name. A later registration
// for the same name shadows the earlier one.
func (r *Registry) Register(name string, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("%w: %s", ErrConstructorNil, name)
	}
	r.constructors[name] = ctor
	return nil
}

// Names returns all registered module names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Constructor returns the constructor registered under name, if any.
func (r *Registry) Constructor(name string) (Constructor, bool) {
	ctor, ok := r.constructors[name]
	return ctor, ok
}
