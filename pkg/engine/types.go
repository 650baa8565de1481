package engine

import (
	"time"

	"github.com/terrane-io/terrane/pkg/resource"
)

// Node represents one expanded resource in the dependency graph.
type Node struct {
	// Desc is the expanded resource descriptor.
	Desc *resource.Descriptor

	// DependsOn lists the resource IDs this node references.
	DependsOn []resource.ID

	// Dependents lists the resource IDs that reference this node.
	Dependents []resource.ID
}

// Graph is the validated dependency DAG over expanded descriptors.
type Graph struct {
	// Nodes maps resource IDs to their graph nodes.
	Nodes map[resource.ID]*Node

	// order holds the deterministic topological ordering of node IDs.
	order []resource.ID
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// Order returns the topological ordering of the graph. Nodes with no
// ordering constraint between them appear in lexicographic ID order.
func (g *Graph) Order() []resource.ID {
	out := make([]resource.ID, len(g.order))
	copy(out, g.order)
	return out
}

// Node returns the graph node for a resource ID.
func (g *Graph) Node(id resource.ID) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Step represents a single operation in an execution plan.
type Step struct {
	// ID uniquely identifies the step within its plan, formed as
	// "action/resource-id" so a replace can carry both halves.
	ID string `json:"id"`

	// ResourceID is the expanded resource the step operates on.
	ResourceID resource.ID `json:"resource_id"`

	// Action is the operation to perform.
	Action Action `json:"action"`

	// DependsOn lists step IDs that must succeed before this step runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Desired is the canonical desired attribute set, with references
	// still unresolved. Nil for delete steps.
	Desired map[string]any `json:"desired,omitempty"`

	// Hash is the configuration hash of the desired attributes.
	Hash string `json:"hash,omitempty"`

	// Reason explains why the planner chose this action.
	Reason string `json:"reason,omitempty"`
}

// StepID builds the canonical step ID for an action on a resource.
func StepID(action Action, id resource.ID) string {
	return string(action) + "/" + string(id)
}

// Plan is an ordered set of steps produced by the planner.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Steps are the plan steps, listed in a valid execution order.
	Steps []Step `json:"steps"`

	// Summary provides high-level statistics about the plan.
	Summary PlanSummary `json:"summary"`
}

// HasChanges reports whether the plan contains any mutating step.
func (p *Plan) HasChanges() bool {
	for i := range p.Steps {
		if p.Steps[i].Action.IsMutating() {
			return true
		}
	}
	return false
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// Total is the total number of steps, NoOps included.
	Total int `json:"total"`

	// ToCreate is the number of resources to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of resources to update in place.
	ToUpdate int `json:"to_update"`

	// ToDelete is the number of resources to delete.
	ToDelete int `json:"to_delete"`

	// ToReplace is the number of resources to delete and recreate.
	ToReplace int `json:"to_replace"`

	// NoChange is the number of resources already in the desired state.
	NoChange int `json:"no_change"`
}

// AppliedResource is the persisted record of a successfully applied resource.
type AppliedResource struct {
	// ID is the expanded resource ID, e.g. "instance.web[0]".
	ID resource.ID `json:"id"`

	// Type is the resource type.
	Type resource.Type `json:"type"`

	// ProviderID is the backend-assigned identifier.
	ProviderID string `json:"provider_id"`

	// Inputs is the canonical declared attribute set at apply time, with
	// references kept in their unresolved form.
	Inputs map[string]any `json:"inputs"`

	// Hash is the configuration hash of Inputs.
	Hash string `json:"hash"`

	// Outputs is the provider-reported attribute set after apply,
	// including computed fields.
	Outputs map[string]any `json:"outputs"`

	// Dependencies lists the resource IDs this resource referenced when
	// it was applied. Delete ordering is derived from these.
	Dependencies []resource.ID `json:"dependencies,omitempty"`

	// LastRunID is the run that last touched this resource.
	LastRunID string `json:"last_run_id"`

	// LastApplied is when this record was last written.
	LastApplied time.Time `json:"last_applied"`
}

// StateStore persists applied resource records between runs.
type StateStore interface {
	// Get returns the applied record for a resource ID, or ok=false.
	Get(id resource.ID) (*AppliedResource, bool, error)

	// List returns all applied records.
	List() ([]*AppliedResource, error)

	// Upsert writes an applied record, replacing any existing one.
	Upsert(rec *AppliedResource) error

	// Delete removes the applied record for a resource ID.
	Delete(id resource.ID) error
}

// StepResult records the outcome of executing one plan step.
type StepResult struct {
	// StepID is the ID of the step this result belongs to.
	StepID string `json:"step_id"`

	// ResourceID is the resource the step operated on.
	ResourceID resource.ID `json:"resource_id"`

	// Action is the action the step performed.
	Action Action `json:"action"`

	// Status is the terminal status of the step.
	Status StepStatus `json:"status"`

	// Attempts is how many times the step was tried.
	Attempts int `json:"attempts"`

	// StartedAt is when the first attempt started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step reached a terminal status.
	CompletedAt time.Time `json:"completed_at"`

	// Error is the classified error for failed steps.
	Error *EngineError `json:"error,omitempty"`
}

// Duration returns the wall-clock time the step spent, retries included.
func (r *StepResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ApplyResult is the outcome of executing a plan.
type ApplyResult struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// Steps maps step IDs to their results.
	Steps map[string]*StepResult `json:"steps"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Summary tallies step results by terminal status.
func (r *ApplyResult) Summary() RunSummary {
	var s RunSummary
	s.Total = len(r.Steps)
	for _, sr := range r.Steps {
		switch sr.Status {
		case StepStatusSucceeded:
			s.Succeeded++
		case StepStatusFailed:
			s.Failed++
		case StepStatusBlocked:
			s.Blocked++
		case StepStatusCancelled:
			s.Cancelled++
		case StepStatusNoOp:
			s.NoOp++
		}
	}
	return s
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of steps.
	Total int `json:"total"`

	// Succeeded is the number of steps that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of steps that failed.
	Failed int `json:"failed"`

	// Blocked is the number of steps skipped because a dependency failed.
	Blocked int `json:"blocked"`

	// Cancelled is the number of steps cancelled before completion.
	Cancelled int `json:"cancelled"`

	// NoOp is the number of steps that needed no provider call.
	NoOp int `json:"noop"`
}

// DriftEntry records the drift status of one tracked resource.
type DriftEntry struct {
	// ResourceID is the tracked resource.
	ResourceID resource.ID `json:"resource_id"`

	// Status is the drift status.
	Status DriftStatus `json:"status"`

	// Fields lists the attribute names whose live values differ from the
	// applied record, for drifted resources.
	Fields []string `json:"fields,omitempty"`
}

// DriftReport is the result of comparing applied state with live resources.
type DriftReport struct {
	// CheckedAt is when the comparison ran.
	CheckedAt time.Time `json:"checked_at"`

	// Entries holds one entry per tracked resource.
	Entries []DriftEntry `json:"entries"`
}

// Drifted reports whether any tracked resource drifted or went missing.
func (r *DriftReport) Drifted() bool {
	for i := range r.Entries {
		if r.Entries[i].Status == DriftStatusDrifted || r.Entries[i].Status == DriftStatusMissing {
			return true
		}
	}
	return false
}
