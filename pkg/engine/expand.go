package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/terrane-io/terrane/pkg/resource"
)

// Placement policies for counted compute resources.
const (
	// PlacementSingleAZ pins every expanded instance to the first subnet.
	PlacementSingleAZ = "single-az"

	// PlacementSpread distributes expanded instances round-robin across
	// the declared subnets.
	PlacementSpread = "spread"
)

// exprScheme marks a string attribute as a computed expression.
const exprScheme = "expr://"

var varPattern = regexp.MustCompile(`\$\{var\.([A-Za-z0-9_]+)\}`)

// Expander turns raw declarations into concrete descriptors. It runs before
// graph construction: counted declarations become N independent descriptors,
// variable and index placeholders are substituted, computed expressions are
// evaluated, and reference strings are parsed into typed values.
type Expander struct {
	// vars are the named configuration variables, available to string
	// substitution as ${var.x} and to expressions as vars["x"].
	vars map[string]any

	eval *ExprEvaluator
}

// NewExpander creates an expander with the given configuration variables.
func NewExpander(vars map[string]any) *Expander {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Expander{vars: vars, eval: NewExprEvaluator()}
}

// Expand processes all declarations. A declaration with Count >= 1 expands
// into Count descriptors named "name[i]" sharing the template identity;
// Count zero yields a single descriptor under the declared name.
func (e *Expander) Expand(descs []*resource.Descriptor) ([]*resource.Descriptor, error) {
	out := make([]*resource.Descriptor, 0, len(descs))

	for _, d := range descs {
		if d.Count < 0 {
			return nil, NewPermanentError(
				fmt.Sprintf("resource %s has negative count %d", d.ID(), d.Count),
				nil,
			).WithCode(ErrCodeValidation).WithResource(string(d.ID()))
		}

		if d.Count == 0 {
			inst, err := e.expandInstance(d, d.Name, -1, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
			continue
		}

		for i := 0; i < d.Count; i++ {
			name := fmt.Sprintf("%s[%d]", d.Name, i)
			inst, err := e.expandInstance(d, name, i, d.Count)
			if err != nil {
				return nil, err
			}
			inst.Template = d.Name
			out = append(out, inst)
		}
	}

	return out, nil
}

// expandInstance produces one concrete descriptor. index is -1 for
// uncounted declarations.
func (e *Expander) expandInstance(d *resource.Descriptor, name string, index, count int) (*resource.Descriptor, error) {
	inst := &resource.Descriptor{
		Type:      d.Type,
		Name:      name,
		Placement: d.Placement,
	}

	raw := d.Raw
	if index >= 0 && d.Placement != "" {
		var err error
		raw, err = applyPlacement(d, raw, index)
		if err != nil {
			return nil, err
		}
	}

	attrs := make(map[string]resource.Value, len(raw))
	for key, rv := range raw {
		processed, err := e.processValue(rv, name, index, count)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("failed to expand attribute %s", key),
				err,
			).WithCode(ErrCodeValidation).WithResource(string(inst.ID()))
		}
		if v, ok := processed.(resource.Value); ok {
			attrs[key] = v
		} else {
			attrs[key] = resource.Literal(processed)
		}
	}
	inst.Attributes = attrs

	return inst, nil
}

// processValue walks a raw attribute value, substituting placeholders,
// evaluating expressions, and parsing reference strings. Strings become
// resource.Value refs when they carry the ref:// scheme; containers keep
// their shape with nested values converted in place.
func (e *Expander) processValue(v any, name string, index, count int) (any, error) {
	switch val := v.(type) {
	case string:
		s, whole, err := e.substitute(val, index)
		if err != nil {
			return nil, err
		}
		if whole != nil {
			// The string was exactly one ${var.x} placeholder bound to a
			// non-string value; recurse in case it holds refs or lists.
			return e.processValue(whole, name, index, count)
		}
		if strings.HasPrefix(s, exprScheme) {
			result, err := e.evalExpr(strings.TrimPrefix(s, exprScheme), name, index, count)
			if err != nil {
				return nil, err
			}
			return e.processValue(result, name, index, count)
		}
		if ref, ok := resource.ParseRef(s); ok {
			return resource.Ref(ref.Target, ref.Field), nil
		}
		return s, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			p, err := e.processValue(item, name, index, count)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			p, err := e.processValue(item, name, index, count)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case resource.Value:
		return val, nil
	default:
		return val, nil
	}
}

// substitute replaces ${count.index} and ${var.x} placeholders in a string.
// When the whole string is a single ${var.x} bound to a non-string value,
// that value is returned as whole so lists and numbers survive substitution.
func (e *Expander) substitute(s string, index int) (string, any, error) {
	if index >= 0 {
		s = strings.ReplaceAll(s, "${count.index}", strconv.Itoa(index))
	}

	if m := varPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		v, ok := e.vars[m[1]]
		if !ok {
			return "", nil, fmt.Errorf("undefined variable %q", m[1])
		}
		if str, isStr := v.(string); isStr {
			return str, nil, nil
		}
		return "", v, nil
	}

	var subErr error
	s = varPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := varPattern.FindStringSubmatch(m)[1]
		v, ok := e.vars[key]
		if !ok {
			subErr = fmt.Errorf("undefined variable %q", key)
			return m
		}
		return fmt.Sprint(v)
	})
	return s, nil, subErr
}

// evalExpr evaluates a computed expression with the instance bindings.
func (e *Expander) evalExpr(expr, name string, index, count int) (any, error) {
	bindings := map[string]any{
		"vars": e.vars,
		"name": name,
	}
	if index >= 0 {
		bindings["index"] = index
		bindings["count"] = count
	}
	return e.eval.Eval(expr, bindings)
}

// applyPlacement rewrites the subnet_ids list of a counted declaration into
// a single subnet_id chosen by the placement policy.
func applyPlacement(d *resource.Descriptor, raw map[string]any, index int) (map[string]any, error) {
	subnets, ok := raw["subnet_ids"].([]any)
	if !ok {
		return raw, nil
	}
	if len(subnets) == 0 {
		return nil, NewPermanentError(
			fmt.Sprintf("resource %s declares a placement policy with empty subnet_ids", d.ID()),
			nil,
		).WithCode(ErrCodeValidation).WithResource(string(d.ID()))
	}

	var chosen any
	switch d.Placement {
	case PlacementSingleAZ:
		chosen = subnets[0]
	case PlacementSpread:
		chosen = subnets[index%len(subnets)]
	default:
		return nil, NewPermanentError(
			fmt.Sprintf("resource %s has unknown placement policy %q", d.ID(), d.Placement),
			nil,
		).WithCode(ErrCodeValidation).WithResource(string(d.ID()))
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "subnet_ids" {
			continue
		}
		out[k] = v
	}
	out["subnet_id"] = chosen
	return out, nil
}
