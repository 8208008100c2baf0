package loader

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/observability"
)

// Registry is a registry-backed Loader: the host registers specific types
// or functions under explicit identifiers. This is spec.md §4.1's
// "secondary implementation ... preferred for testing and for compact
// on-wire form", shaped after tools/registry.go's map[string]entry plus
// sync.RWMutex.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Identifier]any
	observer observability.Observer
}

// NewRegistry creates an empty registry-backed Loader. opts configure it
// further; by default it reports through observability.NoOpObserver{},
// matching every other subsystem's zero-configuration default.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{entries: make(map[Identifier]any), observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithObserver attaches obs so Register/Load emit loader.register and
// loader.load events, per SPEC_FULL.md's ambient stack: "every subsystem
// takes an observability.Observer and emits named events."
func WithObserver(obs observability.Observer) RegistryOption {
	return func(r *Registry) {
		if obs != nil {
			r.observer = obs
		}
	}
}

func (r *Registry) emit(typ observability.EventType, data map[string]any) {
	r.observer.OnEvent(context.Background(), observability.Event{
		Type:      typ,
		Level:     observability.LevelOf(typ),
		Timestamp: time.Now(),
		Source:    "loader.Registry",
		Data:      data,
	})
}

// Register adds obj to the registry under id. Returns an error if id is
// already registered to a different value.
func (r *Registry) Register(id Identifier, obj any) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrMalformedIdentifier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok {
		// Func values are not comparable with ==, so identity for them is
		// the code pointer; other uncomparable values never count as equal.
		et, ot := reflect.TypeOf(existing), reflect.TypeOf(obj)
		same := et == ot
		if same && et != nil {
			if et.Kind() == reflect.Func {
				same = reflect.ValueOf(existing).Pointer() == reflect.ValueOf(obj).Pointer()
			} else {
				same = et.Comparable() && existing == obj
			}
		}
		if !same {
			return fmt.Errorf("identifier already registered: %s", id)
		}
	}
	r.entries[id] = obj
	r.emit(observability.EventLoaderRegister, map[string]any{"id": string(id)})
	return nil
}

// RegisterSelf reflects obj's qualified name via Identify and registers it
// under that name, returning the identifier used. This is the common case:
// a type or free function registering itself under its own true name.
func (r *Registry) RegisterSelf(obj any) (Identifier, error) {
	id, err := Identify(obj)
	if err != nil {
		return "", err
	}
	return id, r.Register(id, obj)
}

// Identify reflects obj's qualified name; it does not require obj to
// already be registered (symmetry with Identify(obj)'s semantics in
// spec.md: the identifier must be reproducible by Load, not necessarily
// already loaded).
func (r *Registry) Identify(obj any) (Identifier, error) {
	return Identify(obj)
}

// Load resolves id to a previously registered object.
func (r *Registry) Load(id Identifier) (any, error) {
	pkgPath, _, ok := splitIdentifier(id)
	if !ok {
		r.emit(observability.EventLoaderLoadFailed, map[string]any{"id": string(id), "reason": "malformed"})
		return nil, fmt.Errorf("%w: %s", ErrMalformedIdentifier, id)
	}

	r.mu.RLock()
	obj, found := r.entries[id]
	r.mu.RUnlock()
	if found {
		r.emit(observability.EventLoaderLoad, map[string]any{"id": string(id)})
		return obj, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for other := range r.entries {
		otherPkg, _, _ := splitIdentifier(other)
		if otherPkg == pkgPath {
			r.emit(observability.EventLoaderLoadFailed, map[string]any{"id": string(id), "reason": "attribute_lookup"})
			return nil, fmt.Errorf("%w: %s", ErrAttributeLookup, id)
		}
	}
	r.emit(observability.EventLoaderLoadFailed, map[string]any{"id": string(id), "reason": "module_load"})
	return nil, fmt.Errorf("%w: %s", ErrModuleLoad, pkgPath)
}

// List returns all registered identifiers, sorted for deterministic output.
func (r *Registry) List() []Identifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]Identifier, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// defaultRegistry backs the package-level Default loader. Subsystems that
// need a zero-configuration Loader (e.g. savable.Load when no Context is
// supplied) use this; production hosts are expected to build their own
// Registry and pass it via an explicit LoadSaveContext instead, the same
// way orchestrate/state/checkpoint.go's checkpointStores registry defaults
// to "memory" but accepts RegisterCheckpointStore for anything else.
var defaultRegistry = NewRegistry()

// Default returns the process-wide default Registry-backed Loader.
func Default() *Registry { return defaultRegistry }

// MustParsePkgPath is a small helper for callers constructing synthetic
// identifiers (e.g. in tests) that need the package-path half of an id.
func MustParsePkgPath(id Identifier) string {
	pkgPath, _, ok := splitIdentifier(id)
	if !ok {
		panic("loader: " + strings.TrimSpace(string(id)) + " is not a well-formed identifier")
	}
	return pkgPath
}
