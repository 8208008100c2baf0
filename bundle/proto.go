package bundle

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
)

// ToProto renders b as a structpb.Struct. A Bundle's Value grammar
// (scalar | nested Bundle | list) is a strict subset of the
// google.protobuf.Struct value space, making structpb the natural wire
// form for a Bundle that must cross a process boundary (spec.md §6:
// "the spec defines the in-memory bundle shape, not a wire format" — this
// is the wire format a host plugs in on top).
func ToProto(b *Bundle) (*structpb.Struct, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrBundleFormat)
	}
	m, err := bundleToMap(b)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleFormat, err)
	}
	return s, nil
}

// FromProto reconstructs a Bundle from a structpb.Struct produced by ToProto.
func FromProto(s *structpb.Struct) (*Bundle, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil struct", ErrBundleFormat)
	}
	return bundleFromMap(s.AsMap())
}

// ToProtoObserved is ToProto with observability.Observer events around the
// encode, for hosts (persist.filePersister in particular) that want the
// wire-crossing step itself visible rather than only the surrounding
// checkpoint operation.
func ToProtoObserved(b *Bundle, obs observability.Observer) (*structpb.Struct, error) {
	if obs == nil {
		obs = observability.NoOpObserver{}
	}
	className := ""
	if b != nil {
		className = string(b.Meta.ClassName)
	}
	s, err := ToProto(b)
	if err != nil {
		obs.OnEvent(context.Background(), observability.Event{
			Type: observability.EventBundleEncodeFailed, Level: observability.LevelError, Timestamp: time.Now(),
			Source: "bundle.ToProto", Data: map[string]any{"class_name": className, "error": err.Error()},
		})
		return nil, err
	}
	obs.OnEvent(context.Background(), observability.Event{
		Type: observability.EventBundleEncode, Level: observability.LevelVerbose, Timestamp: time.Now(),
		Source: "bundle.ToProto", Data: map[string]any{"class_name": className},
	})
	return s, nil
}

// FromProtoObserved is FromProto with the matching decode-side events.
func FromProtoObserved(s *structpb.Struct, obs observability.Observer) (*Bundle, error) {
	if obs == nil {
		obs = observability.NoOpObserver{}
	}
	b, err := FromProto(s)
	if err != nil {
		obs.OnEvent(context.Background(), observability.Event{
			Type: observability.EventBundleDecodeFailed, Level: observability.LevelError, Timestamp: time.Now(),
			Source: "bundle.FromProto", Data: map[string]any{"error": err.Error()},
		})
		return nil, err
	}
	obs.OnEvent(context.Background(), observability.Event{
		Type: observability.EventBundleDecode, Level: observability.LevelVerbose, Timestamp: time.Now(),
		Source: "bundle.FromProto", Data: map[string]any{"class_name": string(b.Meta.ClassName)},
	})
	return b, nil
}

func bundleToMap(b *Bundle) (map[string]any, error) {
	meta := map[string]any{"class_name": string(b.Meta.ClassName)}
	if b.Meta.ObjectLoader != "" {
		meta["object_loader"] = string(b.Meta.ObjectLoader)
	}
	if len(b.Meta.Types) > 0 {
		types := make(map[string]any, len(b.Meta.Types))
		for k, v := range b.Meta.Types {
			types[k] = string(v)
		}
		meta["types"] = types
	}
	if len(b.Meta.User) > 0 {
		norm, err := normalizeForProto(b.Meta.User)
		if err != nil {
			return nil, fmt.Errorf("meta.user: %w", err)
		}
		meta["user"] = norm
	}

	out := map[string]any{MetaKey: meta}
	for k, v := range b.Fields {
		if nested, ok := v.(*Bundle); ok {
			nm, err := bundleToMap(nested)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = nm
			continue
		}
		norm, err := normalizeForProto(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = norm
	}
	return out, nil
}

func bundleFromMap(m map[string]any) (*Bundle, error) {
	metaRaw, ok := m[MetaKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrBundleFormat, MetaKey)
	}
	metaMap, ok := metaRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a mapping", ErrBundleFormat, MetaKey)
	}

	className, _ := metaMap["class_name"].(string)
	if className == "" {
		return nil, fmt.Errorf("%w: missing class_name", ErrBundleFormat)
	}

	b := New(loader.Identifier(className))
	if ol, ok := metaMap["object_loader"].(string); ok {
		b.Meta.ObjectLoader = loader.Identifier(ol)
	}

	types := make(map[string]FieldKind)
	if tm, ok := metaMap["types"].(map[string]any); ok {
		for k, v := range tm {
			if s, ok := v.(string); ok {
				types[k] = FieldKind(s)
			}
		}
	}
	b.Meta.Types = types

	if um, ok := metaMap["user"].(map[string]any); ok {
		b.Meta.User = um
	}

	for k, v := range m {
		if k == MetaKey {
			continue
		}
		if types[k] == FieldSavable {
			nestedMap, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: field %q tagged savable is not a mapping", ErrBundleFormat, k)
			}
			nested, err := bundleFromMap(nestedMap)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			b.Fields[k] = nested
			continue
		}
		b.Fields[k] = v
	}
	return b, nil
}

// normalizeForProto narrows a field value down to the bool/string/
// float64/nil/map[string]any/[]any set structpb.NewStruct accepts,
// base64-encoding []byte and formatting time.Time as RFC3339Nano.
func normalizeForProto(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(val), nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			norm, err := normalizeForProto(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = norm
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			norm, err := normalizeForProto(item)
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", k, err)
			}
			out[k] = norm
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field value type %T", ErrBundleFormat, v)
	}
}

// TimestampToProto converts a time.Time to its protobuf wire form, used by
// process.Process when it exposes creation/kill timestamps to a
// coordinator over Task/Control messages (spec.md §6).
func TimestampToProto(t time.Time) *timestamppb.Timestamp {
	return timestamppb.New(t)
}

// TimestampFromProto is the inverse of TimestampToProto.
func TimestampFromProto(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime()
}
