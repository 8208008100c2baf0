// Package bundle implements the in-memory snapshot tree described in
// spec.md §3/§6: an ordered string-keyed mapping holding a Savable's
// fields plus a reserved meta sub-mapping. A Bundle is produced by
// savable.Save and consumed by savable.Load; it is also the unit a
// persist.Persister stores and a coordinator message carries across a
// process boundary (via ToProto/FromProto).
package bundle

import (
	"fmt"

	"github.com/tailored-agentic-units/procrt/loader"
)

// FieldKind tags how a field was persisted, per spec.md §3's meta.types map.
type FieldKind string

const (
	// FieldMethod marks a field saved as the name of a bound method of the
	// owning Savable (spec.md: "by name if it is a bound method").
	FieldMethod FieldKind = "m"

	// FieldSavable marks a field saved as a nested Bundle because the
	// field value is itself Savable.
	FieldSavable FieldKind = "S"
)

// MetaKey is the reserved key holding a Bundle's metadata sub-mapping.
const MetaKey = "!!meta"

// Meta is a Bundle's metadata sub-mapping (spec.md §3).
type Meta struct {
	// ClassName identifies the owning Savable's runtime type.
	ClassName loader.Identifier

	// ObjectLoader identifies a non-default Loader used to resolve
	// ClassName and any nested identifiers, or "" to use the context's
	// default loader.
	ObjectLoader loader.Identifier

	// Types gives per-field hints for fields that are not saved by plain
	// deep copy (method-ref or nested-Savable fields).
	Types map[string]FieldKind

	// User is free-form metadata a Savable implementation may attach.
	User map[string]any
}

// Bundle is a snapshot of a single Savable: its declared auto-persist
// fields plus a Meta block. Field values are scalars, nested *Bundle
// values, or []any slices of either (spec.md §3's Value grammar).
type Bundle struct {
	Meta   Meta
	Fields map[string]any
}

// New creates an empty Bundle tagged with className.
func New(className loader.Identifier) *Bundle {
	return &Bundle{
		Meta: Meta{
			ClassName: className,
			Types:     make(map[string]FieldKind),
		},
		Fields: make(map[string]any),
	}
}

// Set stores a plain (deep-copied on save) field value.
func (b *Bundle) Set(key string, value any) {
	b.Fields[key] = deepCopyValue(value)
}

// SetMethod records that key was saved as a bound-method reference by name.
func (b *Bundle) SetMethod(key, methodName string) {
	b.Fields[key] = methodName
	b.Meta.Types[key] = FieldMethod
}

// SetSavable nests a sub-Bundle produced by saving a nested Savable field.
func (b *Bundle) SetSavable(key string, nested *Bundle) {
	b.Fields[key] = nested
	b.Meta.Types[key] = FieldSavable
}

// Get returns the raw field value and whether it is present.
func (b *Bundle) Get(key string) (any, bool) {
	v, ok := b.Fields[key]
	return v, ok
}

// GetString reads a string-typed field, erroring if absent or mistyped.
func (b *Bundle) GetString(key string) (string, error) {
	v, ok := b.Fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrBundleFormat, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q is %T, want string", ErrBundleFormat, key, v)
	}
	return s, nil
}

// GetBundle reads a nested Bundle field, erroring if absent or mistyped.
func (b *Bundle) GetBundle(key string) (*Bundle, error) {
	v, ok := b.Fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrBundleFormat, key)
	}
	nested, ok := v.(*Bundle)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is %T, want *Bundle", ErrBundleFormat, key, v)
	}
	return nested, nil
}

// FieldKind reports how key was tagged in meta.types, or "" for a plain field.
func (b *Bundle) FieldKind(key string) FieldKind {
	return b.Meta.Types[key]
}

// Clone returns a Bundle sharing no mutable state with b (spec.md §3
// invariant: "Deep copies during save_members ensure a bundle shares no
// mutable state with the live object").
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := &Bundle{
		Meta: Meta{
			ClassName:    b.Meta.ClassName,
			ObjectLoader: b.Meta.ObjectLoader,
			Types:        make(map[string]FieldKind, len(b.Meta.Types)),
			User:         deepCopyValue(b.Meta.User).(map[string]any),
		},
		Fields: make(map[string]any, len(b.Fields)),
	}
	for k, v := range b.Meta.Types {
		out.Meta.Types[k] = v
	}
	for k, v := range b.Fields {
		if nested, ok := v.(*Bundle); ok {
			out.Fields[k] = nested.Clone()
		} else {
			out.Fields[k] = deepCopyValue(v)
		}
	}
	return out
}
