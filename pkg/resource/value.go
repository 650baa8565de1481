package resource

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reference points at a single attribute of another resource. The referenced
// attribute may be provider-assigned and therefore unknown until the target
// resource has been applied.
type Reference struct {
	// Target is the ID of the referenced resource.
	Target ID `json:"target"`

	// Field is the attribute name on the target resource.
	Field string `json:"field"`
}

// String returns the canonical ref://type.name/field form.
func (r Reference) String() string {
	return fmt.Sprintf("ref://%s/%s", r.Target, r.Field)
}

// ParseRef parses a canonical ref://type.name/field string. The second
// return is false when s is not a reference string.
func ParseRef(s string) (Reference, bool) {
	const scheme = "ref://"
	if !strings.HasPrefix(s, scheme) {
		return Reference{}, false
	}
	rest := s[len(scheme):]
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return Reference{}, false
	}
	return Reference{Target: ID(rest[:i]), Field: rest[i+1:]}, true
}

// Value is a single attribute value. It is a tagged variant: either a
// concrete literal known at declaration time, or a reference to another
// resource's attribute that stays unresolved until that resource exists.
type Value struct {
	literal any
	ref     *Reference
}

// Literal wraps a concrete value.
func Literal(v any) Value {
	return Value{literal: v}
}

// Ref wraps a reference to another resource's attribute.
func Ref(target ID, field string) Value {
	return Value{ref: &Reference{Target: target, Field: field}}
}

// IsRef reports whether the value is an unresolved reference.
func (v Value) IsRef() bool {
	return v.ref != nil
}

// Ref returns the reference, if any.
func (v Value) Ref() (Reference, bool) {
	if v.ref == nil {
		return Reference{}, false
	}
	return *v.ref, true
}

// Literal returns the concrete value. It is only meaningful when IsRef is
// false; nested lists may still contain Value elements.
func (v Value) Literal() any {
	return v.literal
}

// MarshalJSON produces a canonical form used for content hashing. References
// marshal as their ref:// string so an unchanged declaration hashes
// identically across runs regardless of what the target resolved to.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.ref != nil {
		return json.Marshal(v.ref.String())
	}
	return json.Marshal(canonicalize(v.literal))
}

// canonicalize flattens nested Values inside literal containers so the
// whole attribute tree marshals deterministically.
func canonicalize(v any) any {
	switch val := v.(type) {
	case Value:
		if r, ok := val.Ref(); ok {
			return r.String()
		}
		return canonicalize(val.Literal())
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}

// Canonical returns the hashing form of the value: references as ref://
// strings, containers deep-copied with nested Values flattened.
func (v Value) Canonical() any {
	if v.ref != nil {
		return v.ref.String()
	}
	return canonicalize(v.literal)
}

// References collects every reference reachable from the value, including
// references nested inside list and map literals.
func (v Value) References() []Reference {
	var refs []Reference
	collectRefs(v, &refs)
	return refs
}

func collectRefs(v any, out *[]Reference) {
	switch val := v.(type) {
	case Value:
		if r, ok := val.Ref(); ok {
			*out = append(*out, r)
			return
		}
		collectRefs(val.Literal(), out)
	case map[string]any:
		for _, item := range val {
			collectRefs(item, out)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, out)
		}
	}
}
