package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/terrane-io/terrane/pkg/resource"
)

func buildGraph(t *testing.T, descs []*resource.Descriptor) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().Build(descs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// seedApplied writes a record whose hash matches the descriptor, as the
// executor would after a successful create.
func seedApplied(t *testing.T, store StateStore, d *resource.Descriptor, providerID string, outputs map[string]any) {
	t.Helper()
	inputs := d.CanonicalAttributes()
	hash, err := HashAttributes(inputs)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	deps := d.References()
	err = store.Upsert(&AppliedResource{
		ID:           d.ID(),
		Type:         d.Type,
		ProviderID:   providerID,
		Inputs:       inputs,
		Hash:         hash,
		Outputs:      outputs,
		Dependencies: deps,
		LastApplied:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func stepByID(t *testing.T, plan *Plan, id string) *Step {
	t.Helper()
	for i := range plan.Steps {
		if plan.Steps[i].ID == id {
			return &plan.Steps[i]
		}
	}
	t.Fatalf("plan has no step %q; steps: %v", id, stepIDs(plan))
	return nil
}

func stepIDs(plan *Plan) []string {
	ids := make([]string, len(plan.Steps))
	for i := range plan.Steps {
		ids[i] = plan.Steps[i].ID
	}
	return ids
}

func TestPlanCreatesEverythingOnEmptyState(t *testing.T) {
	g := buildGraph(t, []*resource.Descriptor{
		desc(resource.TypeVPC, "main", map[string]resource.Value{
			"cidr_block": resource.Literal("10.0.0.0/16"),
		}),
		desc(resource.TypeSubnet, "app", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
	})

	plan, err := NewPlanner(newTestStore()).Plan(g)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Summary.ToCreate != 2 || plan.Summary.Total != 2 {
		t.Errorf("summary = %+v, want 2 creates", plan.Summary)
	}
	if !plan.HasChanges() {
		t.Error("HasChanges = false, want true")
	}

	vpcStep := stepByID(t, plan, "create/vpc.main")
	if vpcStep.Reason != "not in applied state" {
		t.Errorf("Reason = %q", vpcStep.Reason)
	}
	subnetStep := stepByID(t, plan, "create/subnet.app")
	if len(subnetStep.DependsOn) != 1 || subnetStep.DependsOn[0] != "create/vpc.main" {
		t.Errorf("subnet DependsOn = %v, want [create/vpc.main]", subnetStep.DependsOn)
	}
	// Desired attributes carry unresolved ref strings.
	if got, ok := subnetStep.Desired["vpc_id"].(string); !ok || got != "ref://vpc.main/id" {
		t.Errorf("Desired vpc_id = %v", subnetStep.Desired["vpc_id"])
	}
}

func TestPlanIsNoOpWhenUnchanged(t *testing.T) {
	vpc := desc(resource.TypeVPC, "main", map[string]resource.Value{
		"cidr_block": resource.Literal("10.0.0.0/16"),
	})
	g := buildGraph(t, []*resource.Descriptor{vpc})

	store := newTestStore()
	seedApplied(t, store, vpc, "vpc-0001", map[string]any{"id": "vpc-0001"})

	plan, err := NewPlanner(store).Plan(g)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.HasChanges() {
		t.Errorf("HasChanges = true for unchanged state; steps: %v", stepIDs(plan))
	}
	if plan.Summary.NoChange != 1 || plan.Summary.Total != 1 {
		t.Errorf("summary = %+v, want 1 noop", plan.Summary)
	}
	step := stepByID(t, plan, "noop/vpc.main")
	if step.Reason != "unchanged" {
		t.Errorf("Reason = %q", step.Reason)
	}
}

func TestPlanUpdatesMutableChange(t *testing.T) {
	applied := desc(resource.TypeInstance, "web", map[string]resource.Value{
		"subnet_id": resource.Literal("subnet-1"),
		"user_data": resource.Literal("v1"),
	})
	store := newTestStore()
	seedApplied(t, store, applied, "i-0001", map[string]any{"id": "i-0001"})

	desired := desc(resource.TypeInstance, "web", map[string]resource.Value{
		"subnet_id": resource.Literal("subnet-1"),
		"user_data": resource.Literal("v2"),
	})
	plan, err := NewPlanner(store).Plan(buildGraph(t, []*resource.Descriptor{desired}))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Summary.ToUpdate != 1 || plan.Summary.Total != 1 {
		t.Errorf("summary = %+v, want 1 update", plan.Summary)
	}
	step := stepByID(t, plan, "update/instance.web")
	if step.Reason != "changed: user_data" {
		t.Errorf("Reason = %q", step.Reason)
	}
}

func TestPlanReplacesOnImmutableChange(t *testing.T) {
	applied := desc(resource.TypeSubnet, "app", map[string]resource.Value{
		"vpc_id":     resource.Ref("vpc.main", "id"),
		"cidr_block": resource.Literal("10.0.1.0/24"),
	})
	vpc := desc(resource.TypeVPC, "main", map[string]resource.Value{
		"cidr_block": resource.Literal("10.0.0.0/16"),
	})
	store := newTestStore()
	seedApplied(t, store, vpc, "vpc-0001", map[string]any{"id": "vpc-0001"})
	seedApplied(t, store, applied, "subnet-0001", map[string]any{"id": "subnet-0001"})

	desired := desc(resource.TypeSubnet, "app", map[string]resource.Value{
		"vpc_id":     resource.Ref("vpc.main", "id"),
		"cidr_block": resource.Literal("10.0.2.0/24"),
	})
	inst := desc(resource.TypeInstance, "web", map[string]resource.Value{
		"subnet_id": resource.Ref("subnet.app", "id"),
	})
	plan, err := NewPlanner(store).Plan(buildGraph(t, []*resource.Descriptor{vpc, desired, inst}))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Summary.ToReplace != 1 {
		t.Errorf("summary = %+v, want 1 replace", plan.Summary)
	}

	del := stepByID(t, plan, "delete/subnet.app")
	create := stepByID(t, plan, "create/subnet.app")
	if !strings.Contains(del.Reason, "replace: immutable field cidr_block changed") {
		t.Errorf("delete Reason = %q", del.Reason)
	}
	if del.Reason != create.Reason {
		t.Errorf("replace halves disagree on reason: %q vs %q", del.Reason, create.Reason)
	}

	foundDelDep := false
	for _, dep := range create.DependsOn {
		if dep == del.ID {
			foundDelDep = true
		}
	}
	if !foundDelDep {
		t.Errorf("create half DependsOn = %v, missing %s", create.DependsOn, del.ID)
	}

	// Dependents must wait for the create half of the replace.
	instStep := stepByID(t, plan, "create/instance.web")
	foundCreateDep := false
	for _, dep := range instStep.DependsOn {
		if dep == create.ID {
			foundCreateDep = true
		}
	}
	if !foundCreateDep {
		t.Errorf("instance DependsOn = %v, missing %s", instStep.DependsOn, create.ID)
	}
}

func TestPlanReplaceDeleteWaitsForRemovedDependents(t *testing.T) {
	vpc := desc(resource.TypeVPC, "main", map[string]resource.Value{
		"cidr_block": resource.Literal("10.0.0.0/16"),
	})
	subnet := desc(resource.TypeSubnet, "a", map[string]resource.Value{
		"vpc_id":     resource.Ref("vpc.main", "id"),
		"cidr_block": resource.Literal("10.0.1.0/24"),
	})
	store := newTestStore()
	seedApplied(t, store, vpc, "vpc-0001", map[string]any{"id": "vpc-0001"})
	seedApplied(t, store, subnet, "subnet-0001", map[string]any{"id": "subnet-0001"})

	// The VPC is replaced while the subnet that references it is removed.
	// Its delete half must wait for the subnet's delete, or the subnet
	// could briefly point at a destroyed VPC.
	replaced := desc(resource.TypeVPC, "main", map[string]resource.Value{
		"cidr_block": resource.Literal("10.1.0.0/16"),
	})
	plan, err := NewPlanner(store).Plan(buildGraph(t, []*resource.Descriptor{replaced}))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Summary.ToReplace != 1 || plan.Summary.ToDelete != 1 {
		t.Fatalf("summary = %+v, want 1 replace and 1 delete", plan.Summary)
	}

	subnetDel := stepByID(t, plan, "delete/subnet.a")
	vpcDel := stepByID(t, plan, "delete/vpc.main")
	found := false
	for _, dep := range vpcDel.DependsOn {
		if dep == subnetDel.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("replace delete DependsOn = %v, missing %s", vpcDel.DependsOn, subnetDel.ID)
	}
}

func TestPlanRemovesInReverseDependencyOrder(t *testing.T) {
	tg := desc(resource.TypeTargetGroup, "api", map[string]resource.Value{
		"port": resource.Literal(80),
	})
	tga := desc(resource.TypeTargetGroupAttachment, "api-0", map[string]resource.Value{
		"target_group_arn": resource.Ref("target_group.api", "arn"),
		"target_id":        resource.Literal("i-0001"),
	})
	store := newTestStore()
	seedApplied(t, store, tg, "tg-0001", map[string]any{"arn": "arn:tg"})
	seedApplied(t, store, tga, "tga-0001", map[string]any{"id": "tga-0001"})

	empty := buildGraph(t, nil)
	plan, err := NewPlanner(store).Plan(empty)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Summary.ToDelete != 2 || plan.Summary.Total != 2 {
		t.Errorf("summary = %+v, want 2 deletes", plan.Summary)
	}

	attachIdx, groupIdx := -1, -1
	for i := range plan.Steps {
		switch plan.Steps[i].ID {
		case "delete/target_group_attachment.api-0":
			attachIdx = i
		case "delete/target_group.api":
			groupIdx = i
		}
	}
	if attachIdx < 0 || groupIdx < 0 {
		t.Fatalf("missing delete steps: %v", stepIDs(plan))
	}
	if attachIdx > groupIdx {
		t.Errorf("attachment deleted after its target group: %v", stepIDs(plan))
	}

	groupStep := &plan.Steps[groupIdx]
	if len(groupStep.DependsOn) != 1 || groupStep.DependsOn[0] != "delete/target_group_attachment.api-0" {
		t.Errorf("target group delete DependsOn = %v", groupStep.DependsOn)
	}
	if groupStep.Reason != "not in desired state" {
		t.Errorf("Reason = %q", groupStep.Reason)
	}
}

func TestPlanDeterministicStepOrder(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeVPC, "main", map[string]resource.Value{
			"cidr_block": resource.Literal("10.0.0.0/16"),
		}),
		desc(resource.TypeSubnet, "b", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
		desc(resource.TypeSubnet, "a", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
	}

	var first []string
	for i := 0; i < 3; i++ {
		plan, err := NewPlanner(newTestStore()).Plan(buildGraph(t, descs))
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		ids := stepIDs(plan)
		if first == nil {
			first = ids
			continue
		}
		if len(ids) != len(first) {
			t.Fatalf("step count changed between plans: %v vs %v", first, ids)
		}
		for j := range ids {
			if ids[j] != first[j] {
				t.Fatalf("step order changed between plans: %v vs %v", first, ids)
			}
		}
	}
}
