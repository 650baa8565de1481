package engine

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/pkg/resource"
)

// Planner diffs a dependency graph against applied state to produce an
// execution plan. It is a pure computation over the store's current
// contents; nothing is mutated until the executor runs the plan.
type Planner struct {
	// store holds the applied records from previous runs
	store StateStore
}

// NewPlanner creates a planner backed by the given state store.
func NewPlanner(store StateStore) *Planner {
	return &Planner{store: store}
}

// Plan computes the step list for converging applied state to the graph.
//
// Per-resource decisions: absent from applied state is a create, matching
// hash is a noop, a changed mutable field is an update, and a changed
// immutable field is a replace carried as a delete step followed by a
// create step for the same resource. Applied resources missing from the
// graph become deletes.
//
// Ordering: delete steps come first in reverse dependency order so
// dependents are removed before the resources they reference, then mutating
// steps follow the graph's topological order. The result is deterministic
// for identical inputs.
func (p *Planner) Plan(graph *Graph) (*Plan, error) {
	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}

	applied, err := p.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list applied state: %w", err)
	}
	appliedByID := make(map[resource.ID]*AppliedResource, len(applied))
	for _, rec := range applied {
		appliedByID[rec.ID] = rec
	}

	deleteSteps, err := p.planRemovals(graph, applied)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, deleteSteps...)
	plan.Summary.ToDelete = len(deleteSteps)

	// removedDependents maps a resource ID to the delete steps of removed
	// resources that referenced it. A replace's delete half must wait for
	// those, or a dependency could be destroyed under a live dependent.
	removedDependents := make(map[resource.ID][]string)
	for _, rec := range applied {
		if _, stillDesired := graph.Nodes[rec.ID]; stillDesired {
			continue
		}
		for _, dep := range rec.Dependencies {
			removedDependents[dep] = append(removedDependents[dep], StepID(ActionDelete, rec.ID))
		}
	}

	// stepFor maps resource IDs to the step that produces them, so
	// dependents can declare edges against the right half of a replace.
	stepFor := make(map[resource.ID]string)

	for _, id := range graph.Order() {
		node := graph.Nodes[id]
		desired := node.Desc.CanonicalAttributes()
		hash, err := HashAttributes(desired)
		if err != nil {
			return nil, NewPermanentError("failed to hash attributes", err).
				WithCode(ErrCodeInternal).WithResource(string(id))
		}

		deps := make([]string, 0, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			if stepID, ok := stepFor[dep]; ok {
				deps = append(deps, stepID)
			}
		}

		rec, exists := appliedByID[id]
		switch {
		case !exists:
			step := Step{
				ID:         StepID(ActionCreate, id),
				ResourceID: id,
				Action:     ActionCreate,
				DependsOn:  deps,
				Desired:    desired,
				Hash:       hash,
				Reason:     "not in applied state",
			}
			plan.Steps = append(plan.Steps, step)
			stepFor[id] = step.ID
			plan.Summary.ToCreate++

		case rec.Hash == hash:
			step := Step{
				ID:         StepID(ActionNoOp, id),
				ResourceID: id,
				Action:     ActionNoOp,
				DependsOn:  deps,
				Hash:       hash,
				Reason:     "unchanged",
			}
			plan.Steps = append(plan.Steps, step)
			plan.Summary.NoChange++

		default:
			changed := changedFields(desired, rec.Inputs)
			immutable := immutableChanges(node.Desc.Type, changed)
			if len(immutable) > 0 {
				delDeps := append(append([]string{}, deps...), removedDependents[id]...)
				sort.Strings(delDeps)
				del := Step{
					ID:         StepID(ActionDelete, id),
					ResourceID: id,
					Action:     ActionDelete,
					DependsOn:  delDeps,
					Reason:     fmt.Sprintf("replace: immutable field %s changed", strings.Join(immutable, ", ")),
				}
				create := Step{
					ID:         StepID(ActionCreate, id),
					ResourceID: id,
					Action:     ActionCreate,
					DependsOn:  append(append([]string{}, deps...), del.ID),
					Desired:    desired,
					Hash:       hash,
					Reason:     del.Reason,
				}
				plan.Steps = append(plan.Steps, del, create)
				stepFor[id] = create.ID
				plan.Summary.ToReplace++
			} else {
				step := Step{
					ID:         StepID(ActionUpdate, id),
					ResourceID: id,
					Action:     ActionUpdate,
					DependsOn:  deps,
					Desired:    desired,
					Hash:       hash,
					Reason:     fmt.Sprintf("changed: %s", strings.Join(changed, ", ")),
				}
				plan.Steps = append(plan.Steps, step)
				stepFor[id] = step.ID
				plan.Summary.ToUpdate++
			}
		}
	}

	plan.Summary.Total = len(plan.Steps)
	return plan, nil
}

// planRemovals produces delete steps for applied resources absent from the
// desired graph. Steps are emitted dependents-first using the dependencies
// recorded at apply time, with names breaking ties.
func (p *Planner) planRemovals(graph *Graph, applied []*AppliedResource) ([]Step, error) {
	removed := make(map[resource.ID]*AppliedResource)
	for _, rec := range applied {
		if _, stillDesired := graph.Nodes[rec.ID]; !stillDesired {
			removed[rec.ID] = rec
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	// dependents counts, within the removed set, how many resources each
	// record is referenced by. Deleting dependents first drives the count
	// to zero in reverse dependency order.
	dependents := make(map[resource.ID]int, len(removed))
	for id := range removed {
		dependents[id] = 0
	}
	for _, rec := range removed {
		for _, dep := range rec.Dependencies {
			if _, ok := removed[dep]; ok {
				dependents[dep]++
			}
		}
	}

	ready := make([]resource.ID, 0)
	for id, n := range dependents {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	steps := make([]Step, 0, len(removed))
	stepFor := make(map[resource.ID]string, len(removed))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]

		rec := removed[id]
		step := Step{
			ID:         StepID(ActionDelete, id),
			ResourceID: id,
			Action:     ActionDelete,
			Reason:     "not in desired state",
		}
		// A resource can only be deleted after everything that referenced
		// it is gone, so the edges point at the dependents' delete steps.
		for other, otherRec := range removed {
			if other == id {
				continue
			}
			for _, dep := range otherRec.Dependencies {
				if dep == id {
					step.DependsOn = append(step.DependsOn, StepID(ActionDelete, other))
				}
			}
		}
		sort.Strings(step.DependsOn)
		steps = append(steps, step)
		stepFor[id] = step.ID

		released := make([]resource.ID, 0)
		for _, dep := range rec.Dependencies {
			if _, ok := removed[dep]; !ok {
				continue
			}
			dependents[dep]--
			if dependents[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sortIDs(ready)
		}
	}

	if len(steps) != len(removed) {
		return nil, NewPermanentError("applied state contains a dependency cycle among removed resources", nil).
			WithCode(ErrCodeStateConflict)
	}

	return steps, nil
}

// changedFields returns the sorted attribute names whose canonical encoding
// differs between the desired and applied inputs. Comparison happens on
// encoded bytes so values that round-tripped through JSON still compare
// equal to their in-memory form.
func changedFields(desired, applied map[string]any) []string {
	keys := make(map[string]struct{}, len(desired)+len(applied))
	for k := range desired {
		keys[k] = struct{}{}
	}
	for k := range applied {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		db, derr := marshalCanonical(desired[k])
		ab, aerr := marshalCanonical(applied[k])
		if derr != nil || aerr != nil || !bytes.Equal(db, ab) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// immutableChanges filters changed field names down to those the type's
// schema marks immutable.
func immutableChanges(typ resource.Type, changed []string) []string {
	schema, ok := resource.SchemaFor(typ)
	if !ok {
		return nil
	}
	var out []string
	for _, f := range changed {
		if schema.IsImmutable(f) {
			out = append(out, f)
		}
	}
	return out
}
