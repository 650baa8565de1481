package resource

// Schema describes provider-facing behavior of a resource type: which
// declared fields cannot be mutated in place (changing one forces a
// destroy-then-create replacement) and which fields are assigned by the
// provider and only known after creation.
type Schema struct {
	// Type is the resource type this schema describes.
	Type Type

	// Immutable lists attribute names that cannot change after creation.
	Immutable []string

	// Computed lists provider-assigned attribute names.
	Computed []string
}

// IsImmutable reports whether the named field forces replacement on change.
func (s Schema) IsImmutable(field string) bool {
	for _, f := range s.Immutable {
		if f == field {
			return true
		}
	}
	return false
}

// builtinSchemas covers the topology resource types. The security_group type
// is deliberately opaque: the engine only sees its handle, never its rules.
var builtinSchemas = map[Type]Schema{
	TypeVPC: {
		Type:      TypeVPC,
		Immutable: []string{"cidr_block"},
		Computed:  []string{"id", "default_route_table_id"},
	},
	TypeSubnet: {
		Type:      TypeSubnet,
		Immutable: []string{"vpc_id", "cidr_block", "availability_zone"},
		Computed:  []string{"id"},
	},
	TypeRouteTable: {
		Type:      TypeRouteTable,
		Immutable: []string{"vpc_id"},
		Computed:  []string{"id"},
	},
	TypeRoute: {
		Type:      TypeRoute,
		Immutable: []string{"route_table_id", "destination_cidr_block"},
		Computed:  []string{"id"},
	},
	TypeSecurityGroup: {
		Type:      TypeSecurityGroup,
		Immutable: []string{"vpc_id", "name"},
		Computed:  []string{"id"},
	},
	TypeLoadBalancer: {
		Type:      TypeLoadBalancer,
		Immutable: []string{"scheme", "type"},
		Computed:  []string{"id", "arn", "dns_name"},
	},
	TypeTargetGroup: {
		Type:      TypeTargetGroup,
		Immutable: []string{"vpc_id", "protocol", "port"},
		Computed:  []string{"id", "arn"},
	},
	TypeTargetGroupAttachment: {
		Type:      TypeTargetGroupAttachment,
		Immutable: []string{"target_group_arn", "target_id"},
		Computed:  []string{"id"},
	},
	TypeLaunchTemplate: {
		Type:      TypeLaunchTemplate,
		Immutable: []string{"name"},
		Computed:  []string{"id", "latest_version"},
	},
	TypeAutoscalingGroup: {
		Type:      TypeAutoscalingGroup,
		Immutable: []string{"name"},
		Computed:  []string{"id", "arn"},
	},
	TypeInstance: {
		Type:      TypeInstance,
		Immutable: []string{"subnet_id", "image_id", "instance_type"},
		Computed:  []string{"id", "private_ip", "public_ip"},
	},
}

// SchemaFor returns the schema for a resource type.
func SchemaFor(t Type) (Schema, bool) {
	s, ok := builtinSchemas[t]
	return s, ok
}

// KnownType reports whether t is one of the built-in resource types.
func KnownType(t Type) bool {
	_, ok := builtinSchemas[t]
	return ok
}
