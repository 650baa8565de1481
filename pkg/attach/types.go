// Package attach implements the health-gated attachment controller: a
// continuous reconciliation loop that keeps a target group's membership in
// sync with the compute pool and gates routing on observed health.
package attach

import (
	"context"
	"fmt"
	"time"
)

// TargetID identifies one registered target (a compute pool member).
type TargetID string

// HealthState is the per-target health state machine position.
type HealthState string

const (
	// StateInitial is the state of a newly discovered target. It is
	// registered but excluded from routing until it proves healthy.
	StateInitial HealthState = "initial"

	// StateHealthy means the target passed enough consecutive checks to
	// receive traffic.
	StateHealthy HealthState = "healthy"

	// StateUnhealthy means the target failed enough consecutive checks
	// and is excluded from routing. It stays registered while it remains
	// a pool member.
	StateUnhealthy HealthState = "unhealthy"

	// StateDraining means the target left the pool and is being
	// deregistered.
	StateDraining HealthState = "draining"
)

// Validate checks if the health state is valid.
func (s HealthState) Validate() error {
	switch s {
	case StateInitial, StateHealthy, StateUnhealthy, StateDraining:
		return nil
	default:
		return fmt.Errorf("invalid health state: %s", s)
	}
}

// Routable reports whether targets in this state receive traffic.
func (s HealthState) Routable() bool {
	return s == StateHealthy
}

// TargetHealth is the tracked health of one registered target.
type TargetHealth struct {
	// Target is the target identifier.
	Target TargetID `json:"target"`

	// State is the current state machine position.
	State HealthState `json:"state"`

	// ConsecutivePasses counts passing checks since the last failure.
	ConsecutivePasses int `json:"consecutive_passes"`

	// ConsecutiveFailures counts failing checks since the last pass.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastChecked is when the target was last probed.
	LastChecked time.Time `json:"last_checked"`

	// LastTransition is when the state last changed.
	LastTransition time.Time `json:"last_transition"`
}

// Prober performs one health check against a target. The bool result is
// state-machine input; a non-nil error means the probe infrastructure
// itself failed and the check result is unknown.
type Prober interface {
	Probe(ctx context.Context, target TargetID) (bool, error)
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context, target TargetID) (bool, error)

// Probe implements Prober.
func (f ProbeFunc) Probe(ctx context.Context, target TargetID) (bool, error) {
	return f(ctx, target)
}

// Registrar manipulates target group membership and routing on the load
// balancer side.
type Registrar interface {
	// Register adds a target to the group, initially excluded from routing.
	Register(ctx context.Context, target TargetID) error

	// Deregister removes a target from the group entirely.
	Deregister(ctx context.Context, target TargetID) error

	// SetRoutable includes or excludes a registered target from routing.
	SetRoutable(ctx context.Context, target TargetID, routable bool) error
}

// PoolEventType distinguishes pool membership changes.
type PoolEventType string

const (
	// PoolEventAdded means a member joined the pool (scale-out or
	// instance replacement).
	PoolEventAdded PoolEventType = "added"

	// PoolEventRemoved means a member left the pool (scale-in or
	// termination).
	PoolEventRemoved PoolEventType = "removed"
)

// PoolEvent is a pushed membership change from the compute pool.
type PoolEvent struct {
	Type   PoolEventType
	Target TargetID
}

// PoolSource exposes compute pool membership. Autoscaling-managed pools
// push changes through Events; the controller reconciles reactively
// instead of polling membership.
type PoolSource interface {
	// Snapshot returns the current pool members.
	Snapshot(ctx context.Context) ([]TargetID, error)

	// Events returns the channel of pushed membership changes. May
	// return nil when the pool is static.
	Events() <-chan PoolEvent
}
