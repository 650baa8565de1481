// Package resource defines the typed descriptor model for declared
// infrastructure resources: resource types, attribute values with the
// two-phase literal/reference variant, and per-type schemas.
package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies a resource kind (e.g. "subnet", "load_balancer").
type Type string

// Built-in resource types managed by the engine.
const (
	TypeVPC                   Type = "vpc"
	TypeSubnet                Type = "subnet"
	TypeRouteTable            Type = "route_table"
	TypeRoute                 Type = "route"
	TypeSecurityGroup         Type = "security_group"
	TypeLoadBalancer          Type = "load_balancer"
	TypeTargetGroup           Type = "target_group"
	TypeTargetGroupAttachment Type = "target_group_attachment"
	TypeLaunchTemplate        Type = "launch_template"
	TypeAutoscalingGroup      Type = "autoscaling_group"
	TypeInstance              Type = "instance"
)

// ID uniquely identifies a declared resource within a graph as "type.name".
type ID string

// MakeID builds the canonical ID for a type/name pair.
func MakeID(typ Type, name string) ID {
	return ID(fmt.Sprintf("%s.%s", typ, name))
}

// Type returns the type component of the ID.
func (id ID) Type() Type {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Type(s[:i])
	}
	return Type(s)
}

// Name returns the name component of the ID.
func (id ID) Name() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// Descriptor is a declared resource: a type, a unique name, and attribute
// values that may reference other resources' attributes.
//
// A descriptor with Count > 0 is a template: an expansion pass turns it into
// Count independent descriptors named "name[i]" before graph construction.
type Descriptor struct {
	// Type is the resource type.
	Type Type

	// Name is the declaration name, unique per type within a graph.
	Name string

	// Count expands the declaration into N independent resources.
	// Zero means a single resource.
	Count int

	// Placement selects how counted compute resources are spread across the
	// subnets listed in their subnet_ids attribute ("single-az" or "spread").
	Placement string

	// Raw holds the attribute tree exactly as declared, before expansion.
	// Strings may carry ref://, expr:// and ${count.index} forms.
	Raw map[string]any

	// Attributes is the post-expansion attribute set with references parsed
	// into Value variants. Populated by the expansion pass.
	Attributes map[string]Value

	// Template is the declaration name this descriptor was expanded from,
	// empty for descriptors declared directly.
	Template string
}

// ID returns the descriptor's graph identity.
func (d *Descriptor) ID() ID {
	return MakeID(d.Type, d.Name)
}

// References returns the deduplicated, sorted set of resource IDs this
// descriptor's attributes refer to.
func (d *Descriptor) References() []ID {
	seen := make(map[ID]struct{})
	for _, v := range d.Attributes {
		for _, ref := range v.References() {
			seen[ref.Target] = struct{}{}
		}
	}
	out := make([]ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanonicalAttributes returns the attribute tree in hashing form: a plain
// map with references rendered as ref:// strings.
func (d *Descriptor) CanonicalAttributes() map[string]any {
	out := make(map[string]any, len(d.Attributes))
	for k, v := range d.Attributes {
		out[k] = v.Canonical()
	}
	return out
}
