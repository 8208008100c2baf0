package savable

import (
	"fmt"
	"sync"

	"github.com/tailored-agentic-units/procrt/loader"
)

// RecreatorRegistry maps a class identifier to the Recreator that rebuilds
// instances of that class. It mirrors loader.Registry's shape
// (map + sync.RWMutex + Register/Get) but is specialized to Recreator
// values so Load never has to type-assert a bare `any`.
type RecreatorRegistry struct {
	mu      sync.RWMutex
	entries map[loader.Identifier]Recreator
}

// NewRecreatorRegistry creates an empty registry.
func NewRecreatorRegistry() *RecreatorRegistry {
	return &RecreatorRegistry{entries: make(map[loader.Identifier]Recreator)}
}

// Register associates id with recreate.
func (r *RecreatorRegistry) Register(id loader.Identifier, recreate Recreator) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", loader.ErrMalformedIdentifier)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("recreator already registered: %s", id)
	}
	r.entries[id] = recreate
	return nil
}

// Get resolves id to its Recreator.
func (r *RecreatorRegistry) Get(id loader.Identifier) (Recreator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recreate, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: no recreator registered for %s", loader.ErrAttributeLookup, id)
	}
	return recreate, nil
}

var defaultRecreators = NewRecreatorRegistry()

// DefaultRecreators returns the process-wide default RecreatorRegistry.
func DefaultRecreators() *RecreatorRegistry { return defaultRecreators }

// RegisterType identifies zero's runtime type via loader.Identify and
// registers recreate under that identifier in reg (for Load dispatch).
// It does not register anything in loader.Default(). Returns the
// identifier used, so callers can stash it on the type (e.g. as a package
// var) instead of recomputing it on every Save.
func RegisterType[T any](reg *RecreatorRegistry, zero T, recreate Recreator) (loader.Identifier, error) {
	id, err := loader.Identify(zero)
	if err != nil {
		return "", err
	}
	if err := reg.Register(id, recreate); err != nil {
		return "", err
	}
	return id, nil
}
