package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/terrane-io/terrane/pkg/resource"
)

func mustHash(t *testing.T, attrs map[string]any) string {
	t.Helper()
	h, err := HashAttributes(attrs)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	return h
}

func createStep(t *testing.T, id resource.ID, desired map[string]any, deps ...string) Step {
	t.Helper()
	return Step{
		ID:         StepID(ActionCreate, id),
		ResourceID: id,
		Action:     ActionCreate,
		DependsOn:  deps,
		Desired:    desired,
		Hash:       mustHash(t, desired),
		Reason:     "not in applied state",
	}
}

func testPlan(steps ...Step) *Plan {
	p := &Plan{ID: "plan-test", CreatedAt: time.Now(), Steps: steps}
	p.Summary.Total = len(steps)
	return p
}

func newTestExecutor(store StateStore, prov *fakeProvider, maxRetries int) *Executor {
	return NewExecutor(store, testRegistry(prov), ExecutorOptions{
		Parallelism: 4,
		MaxRetries:  maxRetries,
	})
}

func TestApplyCreateChainResolvesReferences(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	exec := newTestExecutor(store, prov, 1)

	plan := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}),
		createStep(t, "subnet.app", map[string]any{"vpc_id": "ref://vpc.main/id"}, "create/vpc.main"),
	)

	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", res.Status)
	}

	vpcRec, ok, err := store.Get("vpc.main")
	if err != nil || !ok {
		t.Fatalf("vpc.main not in store: ok=%v err=%v", ok, err)
	}
	subnetRec, ok, err := store.Get("subnet.app")
	if err != nil || !ok {
		t.Fatalf("subnet.app not in store: ok=%v err=%v", ok, err)
	}

	// The subnet's provider call must see the vpc's run-local output, not
	// the unresolved ref string.
	if subnetRec.Outputs["vpc_id"] != vpcRec.Outputs["id"] {
		t.Errorf("subnet vpc_id = %v, want %v", subnetRec.Outputs["vpc_id"], vpcRec.Outputs["id"])
	}
	// The stored inputs keep the ref unresolved for stable hashing.
	if subnetRec.Inputs["vpc_id"] != "ref://vpc.main/id" {
		t.Errorf("subnet inputs vpc_id = %v", subnetRec.Inputs["vpc_id"])
	}
	if len(subnetRec.Dependencies) != 1 || subnetRec.Dependencies[0] != "vpc.main" {
		t.Errorf("subnet Dependencies = %v", subnetRec.Dependencies)
	}
}

func TestApplyFailureBlocksTransitiveDependents(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	prov.fault = func(op string, typ resource.Type) error {
		if op == "create" && typ == resource.TypeSubnet {
			return NewPermanentError("quota exceeded", nil).WithCode(ErrCodeProviderFailed)
		}
		return nil
	}
	exec := newTestExecutor(store, prov, 1)

	plan := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}),
		createStep(t, "subnet.app", map[string]any{"vpc_id": "ref://vpc.main/id"}, "create/vpc.main"),
		createStep(t, "instance.web", map[string]any{"subnet_id": "ref://subnet.app/id"}, "create/subnet.app"),
	)

	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusPartial {
		t.Errorf("run status = %s, want partial", res.Status)
	}
	if got := res.Steps["create/vpc.main"].Status; got != StepStatusSucceeded {
		t.Errorf("vpc status = %s", got)
	}
	subnet := res.Steps["create/subnet.app"]
	if subnet.Status != StepStatusFailed || subnet.Attempts != 1 {
		t.Errorf("subnet status = %s attempts = %d, want failed after 1", subnet.Status, subnet.Attempts)
	}
	inst := res.Steps["create/instance.web"]
	if inst.Status != StepStatusBlocked {
		t.Errorf("instance status = %s, want blocked", inst.Status)
	}
	if inst.Error == nil || inst.Error.Code != ErrCodeDependencyFailed {
		t.Errorf("instance error = %v, want code %s", inst.Error, ErrCodeDependencyFailed)
	}

	if _, ok, _ := store.Get("subnet.app"); ok {
		t.Error("failed create left a record in the store")
	}
	sum := res.Summary()
	if sum.Succeeded != 1 || sum.Failed != 1 || sum.Blocked != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestApplyRetriesTransientErrors(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	failures := 1
	prov.fault = func(op string, typ resource.Type) error {
		if op == "create" && failures > 0 {
			failures--
			return NewTransientError("backend hiccup", nil)
		}
		return nil
	}
	exec := newTestExecutor(store, prov, 2)

	plan := testPlan(createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}))
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	step := res.Steps["create/vpc.main"]
	if step.Status != StepStatusSucceeded {
		t.Fatalf("step status = %s, want succeeded", step.Status)
	}
	if step.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", step.Attempts)
	}
}

func TestApplyDoesNotRetryConflicts(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	prov.fault = func(op string, typ resource.Type) error {
		if op == "create" {
			return NewConflictError("already exists", nil).WithCode(ErrCodeStateConflict)
		}
		return nil
	}
	exec := newTestExecutor(store, prov, 3)

	plan := testPlan(createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}))
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	step := res.Steps["create/vpc.main"]
	if step.Status != StepStatusFailed {
		t.Fatalf("step status = %s, want failed", step.Status)
	}
	if step.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (conflicts are not retryable)", step.Attempts)
	}
}

func TestApplyNoOpSkipsProvider(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	exec := newTestExecutor(store, prov, 1)

	plan := testPlan(Step{
		ID:         StepID(ActionNoOp, "vpc.main"),
		ResourceID: "vpc.main",
		Action:     ActionNoOp,
		Reason:     "unchanged",
	})
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded", res.Status)
	}
	if got := res.Steps["noop/vpc.main"].Status; got != StepStatusNoOp {
		t.Errorf("step status = %s, want noop", got)
	}
	if n := prov.callCount("create"); n != 0 {
		t.Errorf("provider create called %d times for a noop", n)
	}
	if sum := res.Summary(); sum.NoOp != 1 {
		t.Errorf("summary = %+v, want 1 noop", sum)
	}
}

func TestApplyDeleteRemovesState(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()

	created, err := prov.Create(context.Background(), resource.TypeVPC, map[string]any{"cidr_block": "10.0.0.0/16"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = store.Upsert(&AppliedResource{
		ID:         "vpc.main",
		Type:       resource.TypeVPC,
		ProviderID: created.ProviderID,
		Outputs:    created.Attributes,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	exec := newTestExecutor(store, prov, 1)
	plan := testPlan(Step{
		ID:         StepID(ActionDelete, "vpc.main"),
		ResourceID: "vpc.main",
		Action:     ActionDelete,
		Reason:     "not in desired state",
	})
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", res.Status)
	}
	if _, ok, _ := store.Get("vpc.main"); ok {
		t.Error("record still in store after delete")
	}
	if n := prov.callCount("delete"); n != 1 {
		t.Errorf("provider delete called %d times, want 1", n)
	}
}

func TestApplyUpdateWithoutRecordIsStateConflict(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	exec := newTestExecutor(store, prov, 3)

	desired := map[string]any{"user_data": "v2"}
	plan := testPlan(Step{
		ID:         StepID(ActionUpdate, "instance.web"),
		ResourceID: "instance.web",
		Action:     ActionUpdate,
		Desired:    desired,
		Hash:       mustHash(t, desired),
	})
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	step := res.Steps["update/instance.web"]
	if step.Status != StepStatusFailed {
		t.Fatalf("step status = %s, want failed", step.Status)
	}
	if step.Error == nil || step.Error.Code != ErrCodeStateConflict {
		t.Errorf("error = %v, want code %s", step.Error, ErrCodeStateConflict)
	}
	if step.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", step.Attempts)
	}
}

func TestApplyUnresolvableReferenceFailsStep(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	exec := newTestExecutor(store, prov, 1)

	plan := testPlan(createStep(t, "subnet.app", map[string]any{"vpc_id": "ref://vpc.ghost/id"}))
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	step := res.Steps["create/subnet.app"]
	if step.Status != StepStatusFailed {
		t.Fatalf("step status = %s, want failed", step.Status)
	}
	if step.Error == nil || step.Error.Code != ErrCodeUnknownReference {
		t.Errorf("error = %v, want code %s", step.Error, ErrCodeUnknownReference)
	}
	if !strings.Contains(step.Error.Error(), "vpc.ghost") {
		t.Errorf("error should name the unresolved target: %v", step.Error)
	}
	if n := prov.callCount("create"); n != 0 {
		t.Errorf("provider called despite unresolved reference: %d", n)
	}
}

func TestApplyRejectsInvalidPlans(t *testing.T) {
	exec := newTestExecutor(newTestStore(), newFakeProvider(), 1)

	if _, err := exec.Apply(context.Background(), nil); err == nil {
		t.Error("expected error for nil plan")
	}

	dup := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "a"}),
		createStep(t, "vpc.main", map[string]any{"cidr_block": "b"}),
	)
	if _, err := exec.Apply(context.Background(), dup); err == nil {
		t.Error("expected error for duplicate step IDs")
	}

	unknownDep := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "a"}, "create/vpc.other"),
	)
	if _, err := exec.Apply(context.Background(), unknownDep); err == nil {
		t.Error("expected error for unknown step dependency")
	}
}

func TestApplyCancellationStopsPendingSteps(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	prov.fault = func(op string, typ resource.Type) error {
		if op == "create" && typ == resource.TypeVPC {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	}
	exec := newTestExecutor(store, prov, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	plan := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}),
		createStep(t, "subnet.app", map[string]any{"vpc_id": "ref://vpc.main/id"}, "create/vpc.main"),
	)
	res, err := exec.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusCancelled {
		t.Errorf("run status = %s, want cancelled", res.Status)
	}
	// The in-flight create finishes on a detached context.
	if got := res.Steps["create/vpc.main"].Status; got != StepStatusSucceeded {
		t.Errorf("vpc status = %s, want succeeded", got)
	}
	if got := res.Steps["create/subnet.app"].Status; got != StepStatusCancelled {
		t.Errorf("subnet status = %s, want cancelled", got)
	}
	if _, ok, _ := store.Get("vpc.main"); !ok {
		t.Error("completed create missing from store")
	}
}

func TestApplyCancellationCascadesToDependents(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	prov.fault = func(op string, typ resource.Type) error {
		if op == "create" && typ == resource.TypeVPC {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	}
	exec := newTestExecutor(store, prov, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	plan := testPlan(
		createStep(t, "vpc.main", map[string]any{"cidr_block": "10.0.0.0/16"}),
		createStep(t, "subnet.app", map[string]any{"vpc_id": "ref://vpc.main/id"}, "create/vpc.main"),
		createStep(t, "instance.web", map[string]any{"subnet_id": "ref://subnet.app/id"}, "create/subnet.app"),
	)
	res, err := exec.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusCancelled {
		t.Errorf("run status = %s, want cancelled", res.Status)
	}
	// Dependents of cancelled steps are cancelled too, never blocked, no
	// matter how deep the chain.
	for _, id := range []string{"create/subnet.app", "create/instance.web"} {
		sr := res.Steps[id]
		if sr.Status != StepStatusCancelled {
			t.Errorf("%s status = %s, want cancelled", id, sr.Status)
		}
		if sr.Error != nil {
			t.Errorf("%s carries error %v, want none", id, sr.Error)
		}
	}
	if got := res.Summary().Cancelled; got != 2 {
		t.Errorf("summary cancelled = %d, want 2", got)
	}
}

func TestPlanThenApplyConverges(t *testing.T) {
	descs := []*resource.Descriptor{
		desc(resource.TypeVPC, "main", map[string]resource.Value{
			"cidr_block": resource.Literal("10.0.0.0/16"),
		}),
		desc(resource.TypeSubnet, "app", map[string]resource.Value{
			"vpc_id": resource.Ref("vpc.main", "id"),
		}),
	}

	store := newTestStore()
	prov := newFakeProvider()
	exec := newTestExecutor(store, prov, 1)
	planner := NewPlanner(store)

	plan, err := planner.Plan(buildGraph(t, descs))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	res, err := exec.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", res.Status)
	}

	// Replanning against the converged store yields only noops.
	replan, err := planner.Plan(buildGraph(t, descs))
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if replan.HasChanges() {
		t.Errorf("replan has changes: %v", stepIDs(replan))
	}
	if replan.Summary.NoChange != 2 {
		t.Errorf("replan summary = %+v, want 2 noops", replan.Summary)
	}
}
