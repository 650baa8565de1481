package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/terrane-io/terrane/pkg/resource"
)

func indexOf(order []resource.ID, id resource.ID) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestGraphBuildOrdersDependenciesFirst(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeInstance, "web", map[string]resource.Value{
			"subnet_id": resource.Ref("subnet.app", "id"),
		}),
		desc(resource.TypeSubnet, "app", map[string]resource.Value{
			"vpc_id":     resource.Ref("vpc.main", "id"),
			"cidr_block": resource.Literal("10.0.1.0/24"),
		}),
		desc(resource.TypeVPC, "main", map[string]resource.Value{
			"cidr_block": resource.Literal("10.0.0.0/16"),
		}),
	}

	g, err := NewGraphBuilder().Build(descs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3", g.Len())
	}

	order := g.Order()
	vpc := indexOf(order, "vpc.main")
	subnet := indexOf(order, "subnet.app")
	inst := indexOf(order, "instance.web")
	if vpc < 0 || subnet < 0 || inst < 0 {
		t.Fatalf("order missing nodes: %v", order)
	}
	if !(vpc < subnet && subnet < inst) {
		t.Errorf("order violates dependencies: %v", order)
	}

	node, ok := g.Node("subnet.app")
	if !ok {
		t.Fatal("subnet.app not in graph")
	}
	if len(node.DependsOn) != 1 || node.DependsOn[0] != "vpc.main" {
		t.Errorf("subnet.app DependsOn = %v, want [vpc.main]", node.DependsOn)
	}
	if len(node.Dependents) != 1 || node.Dependents[0] != "instance.web" {
		t.Errorf("subnet.app Dependents = %v, want [instance.web]", node.Dependents)
	}
}

func TestGraphBuildDeterministicOrder(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeSubnet, "b", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
		desc(resource.TypeVPC, "main", map[string]resource.Value{
			"cidr_block": resource.Literal("10.0.0.0/16"),
		}),
		desc(resource.TypeSubnet, "a", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
	}

	want := []resource.ID{"vpc.main", "subnet.a", "subnet.b"}
	for i := 0; i < 5; i++ {
		g, err := NewGraphBuilder().Build(descs)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		order := g.Order()
		if len(order) != len(want) {
			t.Fatalf("order = %v, want %v", order, want)
		}
		for j := range want {
			if order[j] != want[j] {
				t.Fatalf("order = %v, want %v", order, want)
			}
		}
	}
}

func TestGraphBuildDuplicateResource(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeVPC, "main", nil),
		desc(resource.TypeVPC, "main", nil),
	}

	_, err := NewGraphBuilder().Build(descs)
	if err == nil {
		t.Fatal("expected error for duplicate resource")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error is %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeDuplicate {
		t.Errorf("Code = %s, want %s", ee.Code, ErrCodeDuplicate)
	}
	if !strings.Contains(err.Error(), "duplicate resource") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestGraphBuildUnknownReference(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeSubnet, "app", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.missing", "id"),
		}),
	}

	_, err := NewGraphBuilder().Build(descs)
	if err == nil {
		t.Fatal("expected error for unknown reference")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error is %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeUnknownReference {
		t.Errorf("Code = %s, want %s", ee.Code, ErrCodeUnknownReference)
	}
	if !strings.Contains(err.Error(), "vpc.missing") {
		t.Errorf("message should name the missing target: %v", err)
	}
}

func TestGraphBuildSelfReference(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeSecurityGroup, "self", map[string]resource.Value{
			"source": resource.Ref("security_group.self", "id"),
		}),
	}

	_, err := NewGraphBuilder().Build(descs)
	if err == nil {
		t.Fatal("expected error for self reference")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error is %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeCycle {
		t.Errorf("Code = %s, want %s", ee.Code, ErrCodeCycle)
	}
}

func TestGraphBuildCycleReportsPath(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeSecurityGroup, "a", map[string]resource.Value{
			"source": resource.Ref("security_group.b", "id"),
		}),
		desc(resource.TypeSecurityGroup, "b", map[string]resource.Value{
			"source": resource.Ref("security_group.a", "id"),
		}),
	}

	_, err := NewGraphBuilder().Build(descs)
	if err == nil {
		t.Fatal("expected error for cycle")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error is %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeCycle {
		t.Errorf("Code = %s, want %s", ee.Code, ErrCodeCycle)
	}
	want := "security_group.a -> security_group.b -> security_group.a"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("message = %q, want it to contain %q", err.Error(), want)
	}
}

func TestGraphToDOT(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeVPC, "main", nil),
		desc(resource.TypeSubnet, "app", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
	}

	g, err := NewGraphBuilder().Build(descs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dot := g.ToDOT()
	if !strings.Contains(dot, "digraph") {
		t.Errorf("missing digraph header:\n%s", dot)
	}
	if !strings.Contains(dot, `"vpc.main" -> "subnet.app"`) {
		t.Errorf("missing dependency edge:\n%s", dot)
	}
}
