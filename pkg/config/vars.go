package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseVarFlag parses a command line -var flag of the form "name=value".
// The value is YAML-decoded so numbers, booleans, and lists come through
// typed.
func ParseVarFlag(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid var %q, expected name=value", s)
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return name, value, nil
}

// MergeVars overlays command line variables on top of the topology's vars.
// Command line values win.
func MergeVars(topo map[string]any, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(topo)+len(overrides))
	for k, v := range topo {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
