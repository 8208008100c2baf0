// Package loader implements the Object Loader: a bidirectional mapping
// between runtime types/functions and stable string identifiers, used by
// the savable and process packages to round-trip a live object graph
// through a Bundle.
//
// Go has no dynamic import, so the "default" implementation described in
// spec.md §4.1 is a hybrid: Identify reflects the object's true qualified
// name (via reflect for types, via runtime.FuncForPC for functions — both
// give the same "package/path.Name" shape Python's module:qualified-name
// does), but Load can only resolve names that were registered up front.
// This mirrors the teacher's tools/registry.go global registry and the
// DESIGN NOTES §9 "step-function table" guidance: explicit registration
// replaces dynamic import.
package loader

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Identifier is a stable textual name for a registered type or function.
type Identifier string

// Loader is the Object Loader capability consumed by savable.Context.
type Loader interface {
	// Identify returns a stable identifier for obj. Fails with
	// ErrInvalidIdentifier if obj is not addressable by name (a closure,
	// a bound method value, or a nil interface).
	Identify(obj any) (Identifier, error)

	// Load resolves an identifier to the runtime object it names. Fails
	// with ErrMalformedIdentifier, ErrModuleLoad, or ErrAttributeLookup.
	Load(id Identifier) (any, error)
}

// Identify reflects obj into its qualified package-path-plus-name form.
// Exported standalone so callers can compute an Identifier before the
// object has necessarily been registered (e.g. to decide a registration
// key), while Loader.Identify additionally belongs to a specific Loader
// instance for symmetry with the spec's capability shape.
func Identify(obj any) (Identifier, error) {
	if obj == nil {
		return "", ErrInvalidIdentifier
	}

	v := reflect.ValueOf(obj)

	if v.Kind() == reflect.Func {
		pc := v.Pointer()
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			return "", ErrInvalidIdentifier
		}
		name := fn.Name()
		if !isStableFuncName(name) {
			return "", fmt.Errorf("%w: %s", ErrInvalidIdentifier, name)
		}
		return Identifier(name), nil
	}

	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", fmt.Errorf("%w: unnamed or builtin type %s", ErrInvalidIdentifier, t.Kind())
	}
	return Identifier(t.PkgPath() + "." + t.Name()), nil
}

// isStableFuncName rejects runtime.FuncForPC names that denote closures
// ("pkg.Outer.func1") or bound method-value wrappers ("pkg.Type.Method-fm"),
// neither of which can be looked up again by a caller who only has the
// printed name.
func isStableFuncName(name string) bool {
	if strings.HasSuffix(name, "-fm") {
		return false
	}
	last := name[strings.LastIndex(name, ".")+1:]
	return !strings.HasPrefix(last, "func")
}

// splitIdentifier separates the package-path prefix from the trailing
// name. Go identifiers never contain '.', so the last dot is always the
// boundary even though package paths themselves may contain dots
// (e.g. domains in module paths).
func splitIdentifier(id Identifier) (pkgPath, name string, ok bool) {
	s := string(id)
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
