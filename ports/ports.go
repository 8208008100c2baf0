// Package ports implements spec.md §6's PortNamespace capability: the
// external input/output validation boundary a Process consults on
// construction (raw inputs) and on every out() call (outputs). Nothing in
// process/ assumes this particular implementation — process.PortNamespace
// stays the small interface a host or test can satisfy directly — but a
// real application wants named, typed ports with defaults and a dynamic
// fallback, which is what this package provides.
//
// Grounded on orchestrate/config's Config/DefaultConfig/Merge shape for
// the declarative Spec value, and on tools/registry.go's map+sync.RWMutex
// pattern generalized here to a fixed, construction-time spec set (ports
// are declared once per Process class, not registered at runtime).
package ports

import (
	"fmt"
	"strings"
)

// Kind constrains the Go value a port accepts. KindAny performs no type
// check, matching spec.md §1's "port specifications... are out of scope
// for the core" — Kind exists for hosts that want it, not because the
// core requires it.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "any"
	}
}

func (k Kind) accepts(v any) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindMap:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// Spec declares one named port. Dotted Names ("sub.field") address a
// nested map value, mirroring the dotted output namespace process.Out
// already uses.
type Spec struct {
	Name     string
	Kind     Kind
	Required bool
	Default  any
	// Validate runs after Kind's own check, for port-specific constraints
	// (ranges, enums) a bare Kind cannot express.
	Validate func(v any) error
}

// DynamicSpec constrains ports not named in the Namespace's declared Spec
// set, per spec.md §6's validate_dynamic_ports. A Namespace with no
// DynamicSpec rejects any port it did not declare.
type DynamicSpec struct {
	Allowed  bool
	Kind     Kind
	Validate func(name string, v any) error
}

// Namespace is the concrete process.PortNamespace implementation: a fixed
// set of declared Spec values plus an optional DynamicSpec fallback. It
// implements process.PortNamespace structurally — ports does not import
// process, matching the capability-interface pattern process/coordinator.go
// already uses for Coordinator.
type Namespace struct {
	specs   map[string]Spec
	dynamic DynamicSpec
}

// New builds a Namespace from specs. Later entries with a duplicate Name
// overwrite earlier ones, the same last-write-wins rule bundle.Bundle.Set
// uses for repeated field writes.
func New(specs ...Spec) *Namespace {
	n := &Namespace{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		n.specs[s.Name] = s
	}
	return n
}

// WithDynamic returns a copy of n that additionally accepts undeclared
// ports per d.
func (n *Namespace) WithDynamic(d DynamicSpec) *Namespace {
	out := &Namespace{specs: n.specs, dynamic: d}
	return out
}

// PreProcess fills in the declared Default for every port missing from
// raw whose Default is non-nil (Required or not), and returns the merged
// map. It never rejects extra
// keys — that is Validate's job — matching spec.md §6's pre_process/
// validate split (parse-then-check).
func (n *Namespace) PreProcess(raw map[string]any) (map[string]any, error) {
	parsed := make(map[string]any, len(raw)+len(n.specs))
	for k, v := range raw {
		parsed[k] = v
	}
	for name, spec := range n.specs {
		if _, present := parsed[name]; !present && spec.Default != nil {
			parsed[name] = spec.Default
		}
	}
	return parsed, nil
}

// Validate checks every declared port (required-but-missing, wrong Kind,
// Spec.Validate failure) and every dynamic port present under
// n.dynamic's rule, returning the first error found.
func (n *Namespace) Validate(parsed map[string]any) error {
	for name, spec := range n.specs {
		v, present := parsed[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("ports: missing required port %q", name)
			}
			continue
		}
		if err := n.checkValue(name, spec.Kind, spec.Validate, v); err != nil {
			return err
		}
	}
	for name, v := range parsed {
		if _, declared := n.specs[name]; declared {
			continue
		}
		if err := n.ValidateDynamicPorts(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (n *Namespace) checkValue(name string, kind Kind, validate func(any) error, v any) error {
	if !kind.accepts(v) {
		return fmt.Errorf("ports: port %q is %T, want %s", name, v, kind)
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return fmt.Errorf("ports: port %q: %w", name, err)
		}
	}
	return nil
}

// GetPort resolves a dotted path against the declared Spec set, returning
// the Spec itself (the runtime value lives in the Process's own inputs
// map; GetPort is introspection over the declaration, per spec.md §6's
// get_port(path) being queried by Controllers to validate a launch task
// before it reaches the Process).
func (n *Namespace) GetPort(path string) (any, bool) {
	if spec, ok := n.specs[path]; ok {
		return spec, true
	}
	head, _, hasDot := strings.Cut(path, ".")
	if !hasDot {
		return nil, false
	}
	if spec, ok := n.specs[head]; ok && spec.Kind == KindMap {
		return spec, true
	}
	return nil, false
}

// ValidateDynamicPorts checks name/value against n.dynamic, rejecting
// undeclared ports outright when the Namespace has no DynamicSpec.
func (n *Namespace) ValidateDynamicPorts(name string, value any) error {
	if !n.dynamic.Allowed {
		return fmt.Errorf("ports: undeclared port %q (dynamic ports not allowed)", name)
	}
	if err := n.checkValue(name, n.dynamic.Kind, nil, value); err != nil {
		return err
	}
	if n.dynamic.Validate != nil {
		if err := n.dynamic.Validate(name, value); err != nil {
			return fmt.Errorf("ports: dynamic port %q: %w", name, err)
		}
	}
	return nil
}
