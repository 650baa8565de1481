// Package stores provides persistent storage for applied resource state,
// run history, and the event log. The SQLite implementation survives
// process restarts; the memory implementation backs tests.
package stores

import (
	"time"
)

// RunRecord is the persisted summary of one apply run.
type RunRecord struct {
	// ID is the run identifier.
	ID string

	// PlanID is the plan the run executed.
	PlanID string

	// Status is the terminal run status.
	Status string

	// StartedAt is when the run started.
	StartedAt time.Time

	// CompletedAt is when the run finished, nil while running.
	CompletedAt *time.Time

	// Summary is the JSON-encoded step outcome tally.
	Summary string

	// CreatedAt is when the record was written.
	CreatedAt time.Time

	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time
}

// EventRecord is one entry in the persisted event log.
type EventRecord struct {
	// ID is the auto-assigned log sequence number.
	ID int64

	// RunID is the run the event belongs to, empty for controller events.
	RunID string

	// ResourceID is the resource the event concerns, if any.
	ResourceID string

	// Type is the event type, e.g. "step_completed" or "target_healthy".
	Type string

	// Level is the severity (info, warning, error).
	Level string

	// Message is the human-readable event message.
	Message string

	// Timestamp is when the event occurred.
	Timestamp time.Time
}
