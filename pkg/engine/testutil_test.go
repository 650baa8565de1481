package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/resource"
)

// testStore is an in-memory StateStore for engine tests.
type testStore struct {
	mu   sync.RWMutex
	recs map[resource.ID]*AppliedResource
}

func newTestStore() *testStore {
	return &testStore{recs: make(map[resource.ID]*AppliedResource)}
}

func (s *testStore) Get(id resource.ID) (*AppliedResource, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (s *testStore) List() ([]*AppliedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AppliedResource, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *testStore) Upsert(rec *AppliedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.ID] = &cp
	return nil
}

func (s *testStore) Delete(id resource.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

// fakeProvider is a scriptable provider for executor tests. The fault hook
// runs before each call; live objects are tracked by provider ID.
type fakeProvider struct {
	mu      sync.Mutex
	seq     int
	objects map[string]map[string]any
	calls   map[string]int
	fault   func(op string, typ resource.Type) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		objects: make(map[string]map[string]any),
		calls:   make(map[string]int),
	}
}

func (p *fakeProvider) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) Create(_ context.Context, typ resource.Type, attrs map[string]any) (*provider.CreateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["create"]++
	if p.fault != nil {
		if err := p.fault("create", typ); err != nil {
			return nil, err
		}
	}
	p.seq++
	id := fmt.Sprintf("%s-%04d", typ, p.seq)
	stored := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		stored[k] = v
	}
	stored["id"] = id
	p.objects[id] = stored
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return &provider.CreateResult{ProviderID: id, Attributes: out}, nil
}

func (p *fakeProvider) Read(_ context.Context, _ resource.Type, providerID string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["read"]++
	obj, ok := p.objects[providerID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out, nil
}

func (p *fakeProvider) Update(_ context.Context, typ resource.Type, providerID string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["update"]++
	if p.fault != nil {
		if err := p.fault("update", typ); err != nil {
			return nil, err
		}
	}
	obj, ok := p.objects[providerID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	stored := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		stored[k] = v
	}
	stored["id"] = obj["id"]
	p.objects[providerID] = stored
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

func (p *fakeProvider) Delete(_ context.Context, typ resource.Type, providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["delete"]++
	if p.fault != nil {
		if err := p.fault("delete", typ); err != nil {
			return err
		}
	}
	if _, ok := p.objects[providerID]; !ok {
		return provider.ErrNotFound
	}
	delete(p.objects, providerID)
	return nil
}

// testRegistry registers the fake provider for every known resource type.
func testRegistry(p *fakeProvider) *provider.Registry {
	r := provider.NewRegistry()
	r.RegisterAll(p,
		resource.TypeVPC,
		resource.TypeSubnet,
		resource.TypeRouteTable,
		resource.TypeRoute,
		resource.TypeSecurityGroup,
		resource.TypeLoadBalancer,
		resource.TypeTargetGroup,
		resource.TypeTargetGroupAttachment,
		resource.TypeLaunchTemplate,
		resource.TypeAutoscalingGroup,
		resource.TypeInstance,
	)
	return r
}

// desc builds an expanded descriptor for graph and planner tests.
func desc(typ resource.Type, name string, attrs map[string]resource.Value) *resource.Descriptor {
	return &resource.Descriptor{Type: typ, Name: name, Attributes: attrs}
}
