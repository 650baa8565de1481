// Package config loads and validates topology files: the declarative YAML
// description of the resources the engine reconciles, plus named variables
// and output declarations.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/resource"
)

// Topology is the top-level structure of a topology file.
type Topology struct {
	// Version is the topology file format version.
	Version int `yaml:"version" validate:"omitempty,eq=1"`

	// Vars are named values substituted into attributes as ${var.x}.
	Vars map[string]any `yaml:"vars"`

	// Resources are the declared resources.
	Resources []ResourceDecl `yaml:"resources" validate:"required,min=1,dive"`

	// Outputs maps output names to ref:// strings resolved after apply.
	Outputs map[string]string `yaml:"outputs"`
}

// ResourceDecl is one resource declaration in a topology file.
type ResourceDecl struct {
	Type       string         `yaml:"type" validate:"required"`
	Name       string         `yaml:"name" validate:"required"`
	Count      int            `yaml:"count" validate:"gte=0"`
	Placement  string         `yaml:"placement" validate:"omitempty,oneof=single-az spread"`
	Attributes map[string]any `yaml:"attributes"`
}

var validate = validator.New()

// Load reads and validates a topology file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	topo, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topo, nil
}

// Parse decodes and validates topology YAML.
func Parse(data []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, engine.NewPermanentError("failed to parse topology YAML", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := validate.Struct(&topo); err != nil {
		return nil, engine.NewPermanentError("topology validation failed", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := topo.check(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// check enforces the constraints struct tags cannot express.
func (t *Topology) check() error {
	seen := make(map[resource.ID]struct{}, len(t.Resources))
	for i := range t.Resources {
		decl := &t.Resources[i]
		typ := resource.Type(decl.Type)
		if !resource.KnownType(typ) {
			return engine.NewPermanentError(
				fmt.Sprintf("unknown resource type %q for resource %q", decl.Type, decl.Name), nil,
			).WithCode(engine.ErrCodeValidation)
		}
		if decl.Placement != "" && typ != resource.TypeInstance {
			return engine.NewPermanentError(
				fmt.Sprintf("placement is only valid on instance resources, found on %s.%s", decl.Type, decl.Name), nil,
			).WithCode(engine.ErrCodeValidation)
		}
		id := resource.MakeID(typ, decl.Name)
		if _, dup := seen[id]; dup {
			return engine.NewPermanentError(
				fmt.Sprintf("duplicate resource %s", id), nil,
			).WithCode(engine.ErrCodeDuplicate).WithResource(string(id))
		}
		seen[id] = struct{}{}
	}
	for name, ref := range t.Outputs {
		if _, ok := resource.ParseRef(ref); !ok {
			return engine.NewPermanentError(
				fmt.Sprintf("output %q must be a ref:// string, got %q", name, ref), nil,
			).WithCode(engine.ErrCodeValidation)
		}
	}
	return nil
}

// Descriptors converts the declarations into pre-expansion resource
// descriptors.
func (t *Topology) Descriptors() []*resource.Descriptor {
	out := make([]*resource.Descriptor, 0, len(t.Resources))
	for i := range t.Resources {
		decl := &t.Resources[i]
		out = append(out, &resource.Descriptor{
			Type:      resource.Type(decl.Type),
			Name:      decl.Name,
			Count:     decl.Count,
			Placement: decl.Placement,
			Raw:       decl.Attributes,
		})
	}
	return out
}
