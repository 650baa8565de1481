package engine

import (
	"fmt"
	"sort"

	"github.com/terrane-io/terrane/pkg/resource"
)

// Output is one exported value resolved from applied state.
type Output struct {
	// Name is the export name from the topology's outputs block.
	Name string `json:"name"`

	// Value is the resolved output value.
	Value any `json:"value"`
}

// ResolveOutputs resolves named output references against applied state.
// The declarations map export names to ref:// strings pointing at applied
// resources' output fields.
func ResolveOutputs(store StateStore, declarations map[string]string) ([]Output, error) {
	names := make([]string, 0, len(declarations))
	for name := range declarations {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make([]Output, 0, len(names))
	for _, name := range names {
		ref, ok := resource.ParseRef(declarations[name])
		if !ok {
			return nil, NewPermanentError(
				fmt.Sprintf("output %s is not a reference: %s", name, declarations[name]), nil,
			).WithCode(ErrCodeValidation)
		}

		rec, found, err := store.Get(ref.Target)
		if err != nil {
			return nil, NewPermanentError("failed to read applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(ref.Target))
		}
		if !found {
			return nil, NewPermanentError(
				fmt.Sprintf("output %s refers to unapplied resource %s", name, ref.Target), nil,
			).WithCode(ErrCodeUnknownReference).WithResource(string(ref.Target))
		}
		value, exists := rec.Outputs[ref.Field]
		if !exists {
			return nil, NewPermanentError(
				fmt.Sprintf("output %s refers to missing field %s on %s", name, ref.Field, ref.Target), nil,
			).WithCode(ErrCodeUnknownReference).WithResource(string(ref.Target))
		}
		outputs = append(outputs, Output{Name: name, Value: value})
	}

	return outputs, nil
}
