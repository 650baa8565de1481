package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a plan execution run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed with errors.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates the run partially succeeded (some steps failed or were blocked).
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Action represents the operation a plan step performs on a resource.
type Action string

const (
	// ActionCreate indicates a new resource should be created.
	ActionCreate Action = "create"

	// ActionUpdate indicates an existing resource should be updated in place.
	ActionUpdate Action = "update"

	// ActionDelete indicates an existing resource should be deleted.
	ActionDelete Action = "delete"

	// ActionNoOp indicates no operation is needed (resource is in desired state).
	ActionNoOp Action = "noop"

	// ActionReplace indicates an immutable field changed; the resource is
	// deleted and recreated. The plan carries it as a delete step followed
	// by a create step for the same resource.
	ActionReplace Action = "replace"
)

// IsDestructive returns true if the action deletes resources.
func (a Action) IsDestructive() bool {
	return a == ActionDelete || a == ActionReplace
}

// IsMutating returns true if the action changes resource state.
func (a Action) IsMutating() bool {
	return a == ActionCreate || a == ActionUpdate ||
		a == ActionDelete || a == ActionReplace
}

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionNoOp, ActionReplace:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// StepStatus represents the status of a plan step during execution.
type StepStatus string

const (
	// StepStatusPending indicates the step is waiting to execute.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"

	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed indicates the step failed after exhausting retries.
	StepStatusFailed StepStatus = "failed"

	// StepStatusBlocked indicates the step was not attempted because a
	// dependency failed or was itself blocked.
	StepStatusBlocked StepStatus = "blocked"

	// StepStatusCancelled indicates the step was cancelled before or during execution.
	StepStatusCancelled StepStatus = "cancelled"

	// StepStatusNoOp indicates the resource was already in the desired
	// state and no provider call was made.
	StepStatusNoOp StepStatus = "noop"
)

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed ||
		s == StepStatusBlocked || s == StepStatusCancelled ||
		s == StepStatusNoOp
}

// IsActive returns true if the step is currently active.
func (s StepStatus) IsActive() bool {
	return s == StepStatusPending || s == StepStatusRunning
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusSucceeded,
		StepStatusFailed, StepStatusBlocked, StepStatusCancelled, StepStatusNoOp:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// DriftStatus represents the drift detection status of a resource.
type DriftStatus string

const (
	// DriftStatusInSync indicates the live resource matches applied state.
	DriftStatusInSync DriftStatus = "in_sync"

	// DriftStatusDrifted indicates live attributes differ from applied state.
	DriftStatusDrifted DriftStatus = "drifted"

	// DriftStatusMissing indicates the tracked resource no longer exists.
	DriftStatusMissing DriftStatus = "missing"

	// DriftStatusUnknown indicates drift status could not be determined.
	DriftStatusUnknown DriftStatus = "unknown"
)

// Validate checks if the drift status is valid.
func (s DriftStatus) Validate() error {
	switch s {
	case DriftStatusInSync, DriftStatusDrifted, DriftStatusMissing, DriftStatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid drift status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
