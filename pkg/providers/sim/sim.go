// Package sim implements an in-memory simulated cloud provider. It backs
// local development, demos, and the engine's integration tests without
// touching a real cloud API.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/resource"
)

// Name is the provider name reported in telemetry.
const Name = "sim"

// idPrefixes maps resource types to their provider ID prefixes, mirroring
// the naming conventions of real cloud APIs.
var idPrefixes = map[resource.Type]string{
	resource.TypeVPC:                   "vpc",
	resource.TypeSubnet:                "subnet",
	resource.TypeRouteTable:            "rtb",
	resource.TypeRoute:                 "r",
	resource.TypeSecurityGroup:         "sg",
	resource.TypeLoadBalancer:          "lb",
	resource.TypeTargetGroup:           "tg",
	resource.TypeTargetGroupAttachment: "tga",
	resource.TypeLaunchTemplate:        "lt",
	resource.TypeAutoscalingGroup:      "asg",
	resource.TypeInstance:              "i",
}

// record is one simulated cloud object.
type record struct {
	typ   resource.Type
	attrs map[string]any
}

// FaultFunc lets tests inject failures. It runs before the operation;
// returning a non-nil error aborts the call with that error.
type FaultFunc func(op string, typ resource.Type, providerID string) error

// Provider is a thread-safe in-memory implementation of provider.Provider
// covering every known resource type.
type Provider struct {
	mu      sync.Mutex
	objects map[string]*record
	seq     map[resource.Type]int
	fault   FaultFunc
}

// New creates an empty simulated provider.
func New() *Provider {
	return &Provider{
		objects: make(map[string]*record),
		seq:     make(map[resource.Type]int),
	}
}

// SetFault installs a fault injection hook. Pass nil to clear it.
func (p *Provider) SetFault(f FaultFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fault = f
}

// Len returns the number of live simulated objects.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

// Create provisions a simulated resource and returns its provider ID along
// with any computed attributes.
func (p *Provider) Create(_ context.Context, typ resource.Type, attrs map[string]any) (*provider.CreateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkFault("create", typ, ""); err != nil {
		return nil, err
	}
	prefix, ok := idPrefixes[typ]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported resource type %q", typ), nil,
		).WithCode(engine.ErrCodeValidation)
	}

	p.seq[typ]++
	id := fmt.Sprintf("%s-%08x", prefix, p.seq[typ])

	stored := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		stored[k] = v
	}
	stored["id"] = id
	for k, v := range computedAttrs(typ, id, stored) {
		stored[k] = v
	}
	p.objects[id] = &record{typ: typ, attrs: stored}

	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return &provider.CreateResult{ProviderID: id, Attributes: out}, nil
}

// Read returns the current attributes of a simulated resource.
func (p *Provider) Read(_ context.Context, typ resource.Type, providerID string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkFault("read", typ, providerID); err != nil {
		return nil, err
	}
	rec, ok := p.objects[providerID]
	if !ok || rec.typ != typ {
		return nil, provider.ErrNotFound
	}

	out := make(map[string]any, len(rec.attrs))
	for k, v := range rec.attrs {
		out[k] = v
	}
	return out, nil
}

// Update applies new attributes to a simulated resource in place. Computed
// attributes are preserved.
func (p *Provider) Update(_ context.Context, typ resource.Type, providerID string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkFault("update", typ, providerID); err != nil {
		return nil, err
	}
	rec, ok := p.objects[providerID]
	if !ok || rec.typ != typ {
		return nil, provider.ErrNotFound
	}

	stored := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		stored[k] = v
	}
	stored["id"] = providerID
	for _, k := range computedFields(typ) {
		if v, ok := rec.attrs[k]; ok {
			stored[k] = v
		}
	}
	rec.attrs = stored

	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Delete removes a simulated resource.
func (p *Provider) Delete(_ context.Context, typ resource.Type, providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkFault("delete", typ, providerID); err != nil {
		return err
	}
	rec, ok := p.objects[providerID]
	if !ok || rec.typ != typ {
		return provider.ErrNotFound
	}
	delete(p.objects, providerID)
	return nil
}

// checkFault runs the fault hook if installed. Callers hold the mutex.
func (p *Provider) checkFault(op string, typ resource.Type, providerID string) error {
	if p.fault == nil {
		return nil
	}
	return p.fault(op, typ, providerID)
}

// computedAttrs returns the server-assigned attributes for a newly created
// resource.
func computedAttrs(typ resource.Type, id string, attrs map[string]any) map[string]any {
	switch typ {
	case resource.TypeVPC:
		return map[string]any{
			"default_route_table_id": fmt.Sprintf("rtb-%s-default", id),
		}
	case resource.TypeLoadBalancer:
		return map[string]any{
			"arn":      arn("loadbalancer", id),
			"dns_name": fmt.Sprintf("%s.elb.sim.internal", id),
		}
	case resource.TypeTargetGroup:
		return map[string]any{
			"arn": arn("targetgroup", id),
		}
	case resource.TypeLaunchTemplate:
		return map[string]any{
			"latest_version": 1,
		}
	case resource.TypeInstance:
		return map[string]any{
			"private_ip": fmt.Sprintf("10.0.%d.%d", hash8(id)%256, (hash8(id)>>8)%254+1),
			"public_ip":  fmt.Sprintf("203.0.113.%d", hash8(id)%254+1),
		}
	default:
		return nil
	}
}

// computedFields lists attribute names assigned by the provider, not the
// caller.
func computedFields(typ resource.Type) []string {
	switch typ {
	case resource.TypeVPC:
		return []string{"default_route_table_id"}
	case resource.TypeLoadBalancer:
		return []string{"arn", "dns_name"}
	case resource.TypeTargetGroup:
		return []string{"arn"}
	case resource.TypeLaunchTemplate:
		return []string{"latest_version"}
	case resource.TypeInstance:
		return []string{"private_ip", "public_ip"}
	default:
		return nil
	}
}

func arn(kind, id string) string {
	return fmt.Sprintf("arn:sim:elasticloadbalancing:local:000000000000:%s/%s", kind, id)
}

// hash8 derives a small stable number from an ID for synthetic addresses.
func hash8(s string) int {
	h := 0
	for _, c := range s {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
